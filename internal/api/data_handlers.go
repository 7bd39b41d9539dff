package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deptportal/internal/course"
	"deptportal/internal/export"
)

func (s *Server) exportFields(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fields": export.Fields, "defaults": export.DefaultFields})
}

// export renders the filtered roster in the requested format as an attachment.
func (s *Server) export(c *gin.Context) {
	var opts export.Options
	if err := c.ShouldBindJSON(&opts); err != nil {
		badRequest(c, err)
		return
	}
	f, err := export.Export(s.Roster.Snapshot(), opts)
	if err != nil {
		s.respondError(c, err)
		return
	}
	attach(c, f)
}

// backup reads every table fresh rather than from the roster cache.
func (s *Server) backup(c *gin.Context) {
	f, ok := s.renderBackup(c)
	if !ok {
		return
	}
	attach(c, f)
}

// offsiteBackup renders the backup and uploads it to Cloudinary under a date-stamped id.
func (s *Server) offsiteBackup(c *gin.Context) {
	if s.Offsite == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":   "backend_unavailable",
			"message": "offsite backup storage is not configured",
		})
		return
	}
	f, ok := s.renderBackup(c)
	if !ok {
		return
	}
	publicID := strings.TrimSuffix(f.Name, ".json")
	res, err := s.Offsite.UploadRaw(c.Request.Context(), f.Data, f.Name, publicID)
	if err != nil {
		s.log.Error("offsite backup upload failed", zap.String("name", f.Name), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "upload_failed", "message": "backup upload failed"})
		return
	}
	s.log.Info("offsite backup stored", zap.String("public_id", res.PublicID), zap.Int("bytes", res.Bytes))
	c.JSON(http.StatusCreated, gin.H{
		"name":     f.Name,
		"students": f.Count,
		"publicId": res.PublicID,
		"url":      res.SecureURL,
	})
}

func (s *Server) renderBackup(c *gin.Context) (export.File, bool) {
	ctx := c.Request.Context()
	students, err := s.Students.List(ctx)
	if err != nil {
		s.respondError(c, err)
		return export.File{}, false
	}
	courses, err := s.Courses.ListCourses(ctx)
	if err != nil {
		s.respondError(c, err)
		return export.File{}, false
	}
	timetables, err := s.Courses.ListTimetables(ctx)
	if err != nil {
		s.respondError(c, err)
		return export.File{}, false
	}
	f, err := export.RenderBackup(s.now(), students, courses, timetables)
	if err != nil {
		s.respondError(c, err)
		return export.File{}, false
	}
	return f, true
}

func attach(c *gin.Context, f export.File) {
	c.Header("Content-Disposition", `attachment; filename="`+f.Name+`"`)
	c.Header("X-Record-Count", strconv.Itoa(f.Count))
	c.Data(http.StatusOK, f.ContentType, f.Data)
}

func (s *Server) listCourses(c *gin.Context) {
	list, err := s.Courses.ListCourses(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": list})
}

func (s *Server) addCourse(c *gin.Context) {
	var in course.NewCourse
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	out, err := s.Courses.AddCourse(c.Request.Context(), in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (s *Server) deleteCourse(c *gin.Context) {
	if err := s.Courses.DeleteCourse(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listTimetables(c *gin.Context) {
	list, err := s.Courses.ListTimetables(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"timetables": list})
}

func (s *Server) addTimetable(c *gin.Context) {
	var in course.NewTimetable
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	out, err := s.Courses.AddTimetable(c.Request.Context(), in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (s *Server) deleteTimetable(c *gin.Context) {
	if err := s.Courses.DeleteTimetable(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
