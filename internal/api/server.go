// Package api exposes the portal over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"deptportal/internal/attendance"
	"deptportal/internal/auth"
	"deptportal/internal/cloudinary"
	"deptportal/internal/course"
	"deptportal/internal/httpmiddleware"
	"deptportal/internal/logging"
	"deptportal/internal/queue"
	"deptportal/internal/student"
)

const requestIDKey = "request_id"

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Log        *zap.Logger
	Auth       *auth.Service
	Students   *student.Service
	Roster     *student.Roster
	Attendance *attendance.Service
	Jobs       attendance.JobStore
	Queue      queue.Queue
	Courses    *course.Service
	// Offsite is nil when backup storage is not configured.
	Offsite *cloudinary.Client
	Health  map[string]HealthCheck

	RateLimitPerMin     int
	AuthRateLimitPerMin int
	CORSOrigins         []string
	// TrustedProxies are the only peers whose X-Forwarded-For is honoured.
	TrustedProxies      []string
	Release             bool
}

// Server holds handler state.
type Server struct {
	Deps
	log *zap.Logger
	now func() time.Time
}

// New builds the router.
func New(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	s := &Server{Deps: d, log: d.Log.Named("api"), now: func() time.Time { return time.Now().UTC() }}
	return s.routes()
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	var proxies []string
	if len(s.TrustedProxies) > 0 {
		proxies = s.TrustedProxies
	}
	if err := r.SetTrustedProxies(proxies); err != nil {
		s.log.Error("invalid trusted proxies, forwarding headers ignored", zap.Strings("proxies", proxies), zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(logging.GinLogger(s.log, "/healthz", "/metrics"))
	r.Use(s.corsMiddleware())
	r.Use(s.securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(s.RateLimitPerMin, s.RateLimitPerMin).Middleware(httpmiddleware.ClientIP))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.health)

	v1 := r.Group("/v1")
	signInLimit := httpmiddleware.NewTokenBucket(s.AuthRateLimitPerMin, s.AuthRateLimitPerMin).Middleware(httpmiddleware.ClientIP)
	v1.POST("/auth/sign-in", signInLimit, s.signIn)
	v1.POST("/auth/sign-up", signInLimit, s.signUp)

	authed := v1.Group("", s.Auth.Authenticate())
	authed.POST("/auth/sign-out", s.signOut)
	authed.GET("/me", s.me)
	authed.GET("/courses", s.listCourses)
	authed.GET("/timetables", s.listTimetables)

	admin := authed.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/stats", s.stats)

	admin.GET("/students", s.listStudents)
	admin.GET("/students/stream", s.streamStudents)
	admin.POST("/students", s.addStudent)
	admin.GET("/students/:roll", s.getStudent)
	admin.PATCH("/students/:roll", s.updateStudent)
	admin.DELETE("/students/:roll", s.removeStudent)
	admin.POST("/students/:roll/approve", s.approveStudent)
	admin.POST("/students/:roll/reject", s.rejectStudent)

	admin.GET("/attendance/template", s.attendanceTemplate)
	admin.POST("/attendance/preview", s.attendancePreview)
	admin.POST("/attendance/apply", s.attendanceApply)
	admin.GET("/attendance/jobs", s.listAttendanceJobs)
	admin.GET("/attendance/jobs/:id", s.getAttendanceJob)

	admin.POST("/verified-roster", s.importRoster)

	admin.GET("/export/fields", s.exportFields)
	admin.POST("/export", s.export)
	admin.GET("/backup", s.backup)
	admin.POST("/backup/offsite", s.offsiteBackup)

	admin.GET("/courses", s.listCourses)
	admin.POST("/courses", s.addCourse)
	admin.DELETE("/courses/:id", s.deleteCourse)
	admin.GET("/timetables", s.listTimetables)
	admin.POST("/timetables", s.addTimetable)
	admin.DELETE("/timetables/:id", s.deleteTimetable)

	return r
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	if s.Roster != nil {
		loadedAt, err := s.Roster.LoadedAt()
		body["rosterLoadedAt"] = loadedAt
		if err != nil {
			body["rosterError"] = err.Error()
		}
	}
	c.JSON(status, body)
}

// requestID tags each request with an id, reusing the caller's X-Request-ID when given.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// corsMiddleware allows the configured origins, or any origin when none are configured.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Disposition", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
	if len(s.CORSOrigins) > 0 {
		cfg.AllowOrigins = s.CORSOrigins
	} else {
		cfg.AllowOriginFunc = func(string) bool { return true }
	}
	return cors.New(cfg)
}

// securityHeaders sets the usual hardening headers.
func (s *Server) securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if s.Release {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
