package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deptportal/internal/apperr"
	"deptportal/internal/attendance"
	"deptportal/internal/auth"
	"deptportal/internal/course"
	"deptportal/internal/student"
)

// respondError maps domain errors onto status codes. Unknown errors are logged and hidden.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := classify(err)
	body := gin.H{"error": code, "message": err.Error()}

	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		body["message"] = ve.Message
		if len(ve.Fields) > 0 {
			body["fields"] = ve.Fields
		}
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
		if status == http.StatusInternalServerError {
			body["message"] = "internal error"
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrPendingApproval):
		return http.StatusForbidden, "pending_approval"
	case errors.Is(err, auth.ErrProfileNotFound):
		return http.StatusForbidden, "profile_not_found"
	case errors.Is(err, auth.ErrNotEligible):
		return http.StatusForbidden, "not_eligible"
	case errors.Is(err, student.ErrDuplicateKey), errors.Is(err, course.ErrDuplicateCode):
		return http.StatusConflict, "duplicate_key"
	case errors.Is(err, student.ErrNotFound), errors.Is(err, course.ErrNotFound), errors.Is(err, attendance.ErrJobNotFound):
		return http.StatusNotFound, "not_found"
	case apperr.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperr.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "backend_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// badRequest reports a body or query that could not be bound.
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
}
