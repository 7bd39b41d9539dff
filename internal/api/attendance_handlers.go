package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"deptportal/internal/apperr"
	"deptportal/internal/attendance"
	"deptportal/internal/auth"
)

const maxSheetBytes = 5 << 20

func (s *Server) attendanceTemplate(c *gin.Context) {
	c.Header("Content-Disposition", `attachment; filename="`+attendance.TemplateName+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", attendance.Template())
}

// attendancePreview accepts a multipart "file" (.csv or .xlsx), a JSON {"text": ...}
// body, or the sheet as a plain text body.
func (s *Server) attendancePreview(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSheetBytes)

	var (
		p   attendance.Preview
		err error
	)
	switch ct := c.ContentType(); {
	case strings.HasPrefix(ct, "multipart/"):
		p, err = previewUpload(c)
	case ct == "application/json":
		var body struct {
			Text string `json:"text" binding:"required"`
		}
		if err = c.ShouldBindJSON(&body); err == nil {
			p = attendance.Parse(body.Text)
		}
	default:
		var raw []byte
		if raw, err = io.ReadAll(c.Request.Body); err == nil {
			p = attendance.Parse(string(raw))
		}
	}
	if err != nil {
		if apperr.IsValidation(err) {
			s.respondError(c, err)
			return
		}
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Attendance.Annotate(p))
}

func previewUpload(c *gin.Context) (attendance.Preview, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return attendance.Preview{}, err
	}
	f, err := fh.Open()
	if err != nil {
		return attendance.Preview{}, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(fh.Filename)) {
	case ".xlsx":
		return attendance.ParseXLSX(f)
	case ".csv", ".txt":
		raw, err := io.ReadAll(f)
		if err != nil {
			return attendance.Preview{}, err
		}
		return attendance.Parse(string(raw)), nil
	default:
		return attendance.Preview{}, apperr.Invalid("unsupported sheet type",
			apperr.FieldError{Field: "file", Message: "must be a .csv or .xlsx file"})
	}
}

type applyRequest struct {
	Rows []attendance.Row `json:"rows" binding:"required"`
}

// attendanceApply queues the previewed rows and answers 202 with the job to poll.
func (s *Server) attendanceApply(c *gin.Context) {
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	requestedBy := ""
	if snap, ok := auth.SessionFrom(c); ok {
		requestedBy = snap.Email
	}
	job, err := attendance.Enqueue(c.Request.Context(), s.Queue, s.Jobs, requestedBy, req.Rows)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Location", "/v1/admin/attendance/jobs/"+job.ID)
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) listAttendanceJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	jobs, err := s.Jobs.ListJobs(c.Request.Context(), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) getAttendanceJob(c *gin.Context) {
	job, err := s.Jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
