package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"deptportal/internal/student"
)

// sseHeartbeat keeps idle proxies from closing the roster stream.
const sseHeartbeat = 25 * time.Second

func (s *Server) stats(c *gin.Context) {
	counts := student.Tally(s.Roster.Snapshot())
	courses, err := s.Courses.ListCourses(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":    counts.Total,
		"approved": counts.Approved,
		"pending":  counts.Pending,
		"rejected": counts.Rejected,
		"courses":  len(courses),
	})
}

func (s *Server) listStudents(c *gin.Context) {
	var f student.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		badRequest(c, err)
		return
	}
	list := s.Roster.Filter(f)
	c.JSON(http.StatusOK, gin.H{"students": list, "count": len(list)})
}

// streamStudents pushes a "refresh" event whenever the roster has been refetched.
func (s *Server) streamStudents(c *gin.Context) {
	ctx := c.Request.Context()
	ticks := s.Roster.Watch(ctx)
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	send := func(event string) {
		c.SSEvent(event, student.Tally(s.Roster.Snapshot()))
		c.Writer.Flush()
	}
	send("ready")
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			send("refresh")
		case <-heartbeat.C:
			_, _ = c.Writer.Write([]byte(": ping\n\n"))
			c.Writer.Flush()
		}
	}
}

func (s *Server) getStudent(c *gin.Context) {
	rec, err := s.Students.Get(c.Request.Context(), c.Param("roll"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) addStudent(c *gin.Context) {
	var in student.NewStudent
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := s.Students.Add(c.Request.Context(), in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.refresh(c)
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) updateStudent(c *gin.Context) {
	var patch student.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := s.Students.Update(c.Request.Context(), c.Param("roll"), patch)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.refresh(c)
	c.JSON(http.StatusOK, rec)
}

// removeStudent deletes permanently and therefore insists on ?confirm=true.
func (s *Server) removeStudent(c *gin.Context) {
	if c.Query("confirm") != "true" {
		c.AbortWithStatusJSON(http.StatusPreconditionRequired, gin.H{
			"error":   "confirmation_required",
			"message": "Deleting a student is permanent. Repeat the request with ?confirm=true.",
		})
		return
	}
	if err := s.Students.Remove(c.Request.Context(), c.Param("roll")); err != nil {
		s.respondError(c, err)
		return
	}
	s.refresh(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) approveStudent(c *gin.Context) {
	rec, err := s.Roster.Approve(c.Request.Context(), c.Param("roll"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) rejectStudent(c *gin.Context) {
	rec, err := s.Roster.Reject(c.Request.Context(), c.Param("roll"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// refresh brings the roster up to date so the response and a following list agree,
// even when the change notification has not arrived yet.
func (s *Server) refresh(c *gin.Context) {
	if err := s.Roster.Refresh(c.Request.Context()); err != nil {
		_ = c.Error(err)
	}
}
