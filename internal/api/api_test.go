package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deptportal/internal/attendance"
	"deptportal/internal/auth"
	"deptportal/internal/course"
	"deptportal/internal/queue"
	"deptportal/internal/session"
	"deptportal/internal/student"
)

const (
	adminEmail    = "hod@dept.edu"
	adminPassword = "admin-pass"
)

type harness struct {
	router http.Handler
	repo   *student.MemoryRepository
	jobs   *attendance.MemoryJobs
}

func newHarness(t *testing.T, opts ...func(*Deps)) harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	repo := student.NewMemoryRepository()
	dir := auth.NewMemoryDirectory(repo)
	dir.AddRosterEntry(auth.RosterEntry{RollNumber: "23891A7201", Name: "Asha Rao", Year: "1st Year"})

	students := student.NewService(repo, nil, nil)
	roster := student.NewRoster(students, nil, nil)
	require.NoError(t, roster.Start(ctx))

	authSvc := auth.NewService(dir, repo, session.NewMemoryStore(), nil,
		auth.Config{Issuer: "portal-test", SigningKey: "test-key", SessionTTL: time.Hour}, nil)
	require.NoError(t, authSvc.BootstrapAdmin(ctx, adminEmail, adminPassword))

	att := attendance.NewService(students, roster, nil)
	jobs := attendance.NewMemoryJobs()
	q := queue.NewInMemory(8)
	go func() { _ = attendance.NewWorker(q, jobs, att, nil).Run(ctx) }()

	deps := Deps{
		Auth:                authSvc,
		Students:            students,
		Roster:              roster,
		Attendance:          att,
		Jobs:                jobs,
		Queue:               q,
		Courses:             course.NewService(course.NewMemoryRepository(), nil),
		RateLimitPerMin:     10000,
		AuthRateLimitPerMin: 10000,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	router := New(deps)
	return harness{router: router, repo: repo, jobs: jobs}
}

func (h harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if _, ok := body.(string); ok {
		req.Header.Set("Content-Type", "text/plain")
	} else if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h harness) signIn(t *testing.T, email, password string) string {
	t.Helper()
	w := h.do(t, http.MethodPost, "/v1/auth/sign-in", "", gin.H{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Token string `json:"token"`
	}
	decode(t, w, &res)
	require.NotEmpty(t, res.Token)
	return res.Token
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decode(t, w, &body)
	return body.Error
}

func sampleStudent(roll, email string) gin.H {
	return gin.H{
		"rollNumber": roll,
		"name":       "Student " + roll,
		"email":      email,
		"year":       "1st Year",
		"semester":   "2",
		"section":    "A",
	}
}

func TestSignUpApprovalGatesSignIn(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/auth/sign-up", "", gin.H{
		"email": "asha@x.edu", "password": "secret1", "rollNumber": "23891a7201",
		"name": "Asha Rao", "year": "1st Year", "semester": "1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = h.do(t, http.MethodPost, "/v1/auth/sign-in", "", gin.H{"email": "asha@x.edu", "password": "secret1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "pending_approval", errorCode(t, w))

	admin := h.signIn(t, adminEmail, adminPassword)
	w = h.do(t, http.MethodPost, "/v1/admin/students/23891A7201/approve", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tok := h.signIn(t, "asha@x.edu", "secret1")
	w = h.do(t, http.MethodGet, "/v1/me", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me struct {
		UserType    string          `json:"userType"`
		CurrentUser *student.Record `json:"currentUser"`
	}
	decode(t, w, &me)
	assert.Equal(t, "student", me.UserType)
	require.NotNil(t, me.CurrentUser)
	assert.Equal(t, student.StatusApproved, me.CurrentUser.Status)

	w = h.do(t, http.MethodGet, "/v1/admin/students", tok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSignUpOffRosterIsRefused(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/v1/auth/sign-up", "", gin.H{
		"email": "x@x.edu", "password": "secret1", "rollNumber": "99999A0001",
		"name": "Nobody", "year": "1st Year",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_eligible", errorCode(t, w))
}

func TestBadCredentialsAndMissingToken(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/v1/auth/sign-in", "", gin.H{"email": adminEmail, "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_credentials", errorCode(t, w))

	w = h.do(t, http.MethodGet, "/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignOutEndsSession(t *testing.T) {
	h := newHarness(t)
	tok := h.signIn(t, adminEmail, adminPassword)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/me", tok, nil).Code)
	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodPost, "/v1/auth/sign-out", tok, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/v1/me", tok, nil).Code)
}

func TestStudentLifecycle(t *testing.T) {
	h := newHarness(t)
	admin := h.signIn(t, adminEmail, adminPassword)

	w := h.do(t, http.MethodPost, "/v1/admin/students", admin, sampleStudent("24891a7201", "a@x.edu"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rec student.Record
	decode(t, w, &rec)
	assert.Equal(t, "24891A7201", rec.RollNumber)
	assert.Equal(t, student.StatusPending, rec.Status)

	w = h.do(t, http.MethodPost, "/v1/admin/students", admin, sampleStudent("24891A7201", "b@x.edu"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_key", errorCode(t, w))

	bad := sampleStudent("24891A7202", "not-an-email")
	w = h.do(t, http.MethodPost, "/v1/admin/students", admin, bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", errorCode(t, w))

	w = h.do(t, http.MethodPatch, "/v1/admin/students/24891A7201", admin, gin.H{"cgpa": "8.5"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &rec)
	assert.Equal(t, "8.5", rec.CGPA)

	w = h.do(t, http.MethodGet, "/v1/admin/students?status=pending", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)

	w = h.do(t, http.MethodDelete, "/v1/admin/students/24891A7201", admin, nil)
	assert.Equal(t, http.StatusPreconditionRequired, w.Code)
	assert.Equal(t, "confirmation_required", errorCode(t, w))

	w = h.do(t, http.MethodDelete, "/v1/admin/students/24891A7201?confirm=true", admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(t, http.MethodGet, "/v1/admin/students/24891A7201", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportAttachment(t *testing.T) {
	h := newHarness(t)
	admin := h.signIn(t, adminEmail, adminPassword)
	require.Equal(t, http.StatusCreated,
		h.do(t, http.MethodPost, "/v1/admin/students", admin, sampleStudent("24891A7201", "a@x.edu")).Code)

	w := h.do(t, http.MethodPost, "/v1/admin/export", admin, gin.H{
		"format": "csv", "year": "all", "status": "all", "fields": []string{"name", "rollNumber"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "students_export.csv")
	assert.True(t, strings.HasPrefix(w.Body.String(), "Name,Roll Number\n"))

	w = h.do(t, http.MethodPost, "/v1/admin/export", admin, gin.H{
		"format": "csv", "year": "4th Year", "status": "all", "fields": []string{"name"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBackupIncludesEveryTable(t *testing.T) {
	h := newHarness(t)
	admin := h.signIn(t, adminEmail, adminPassword)
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/v1/admin/courses", admin, gin.H{
		"name": "Data Structures", "code": "cs201", "professor": "Dr. Rao",
	}).Code)

	w := h.do(t, http.MethodGet, "/v1/admin/backup", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "database_backup_")
	var b struct {
		Students []student.Record `json:"students"`
		Courses  []course.Course  `json:"courses"`
	}
	decode(t, w, &b)
	assert.Empty(t, b.Students)
	require.Len(t, b.Courses, 1)
	assert.Equal(t, "CS201", b.Courses[0].Code)

	w = h.do(t, http.MethodPost, "/v1/admin/backup/offsite", admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAttendancePreviewAndApply(t *testing.T) {
	h := newHarness(t)
	admin := h.signIn(t, adminEmail, adminPassword)
	require.Equal(t, http.StatusCreated,
		h.do(t, http.MethodPost, "/v1/admin/students", admin, sampleStudent("24891A7201", "a@x.edu")).Code)

	w := h.do(t, http.MethodPost, "/v1/admin/attendance/preview", admin, "Roll Number,Attendance\n24891a7201,85\nA2,150\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var p attendance.Preview
	decode(t, w, &p)
	require.Len(t, p.Rows, 1)
	assert.Equal(t, "Student 24891A7201", p.Rows[0].StudentName)
	require.Len(t, p.Errors, 1)
	assert.Contains(t, p.Errors[0], "Line 2")

	w = h.do(t, http.MethodPost, "/v1/admin/attendance/apply", admin, gin.H{
		"rows": append(p.Rows, attendance.Row{RollNumber: "00000X0000", Attendance: "50"}),
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var accepted struct {
		Job attendance.Job `json:"job"`
	}
	decode(t, w, &accepted)
	assert.Equal(t, attendance.JobQueued, accepted.Job.Status)

	require.Eventually(t, func() bool {
		job, err := h.jobs.GetJob(context.Background(), accepted.Job.ID)
		return err == nil && job.Status == attendance.JobProcessed
	}, 2*time.Second, 10*time.Millisecond)

	w = h.do(t, http.MethodGet, "/v1/admin/attendance/jobs/"+accepted.Job.ID, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var job attendance.Job
	decode(t, w, &job)
	require.NotNil(t, job.Report)
	assert.Equal(t, []string{"24891A7201"}, job.Report.Applied)
	assert.Equal(t, []string{"00000X0000"}, job.Report.Unmatched)

	rec, err := h.repo.Get(context.Background(), "24891A7201")
	require.NoError(t, err)
	assert.Equal(t, "85%", rec.Attendance)

	w = h.do(t, http.MethodPost, "/v1/admin/attendance/apply", admin, gin.H{"rows": []attendance.Row{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestImportVerifiedRoster(t *testing.T) {
	h := newHarness(t)
	admin := h.signIn(t, adminEmail, adminPassword)

	w := h.do(t, http.MethodPost, "/v1/admin/verified-roster", admin, "Roll Number,Name,Year\n24891A7205,Dev Nair,2nd Year\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res auth.RosterImport
	decode(t, w, &res)
	assert.Equal(t, 1, res.Added)

	w = h.do(t, http.MethodPost, "/v1/auth/sign-up", "", gin.H{
		"email": "dev@x.edu", "password": "secret1", "rollNumber": "24891A7205",
		"name": "Dev Nair", "year": "2nd Year",
	})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func signInFrom(h harness, forwardedFor string) int {
	body := strings.NewReader(`{"email":"` + adminEmail + `","password":"wrong-pass"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/sign-in", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w.Code
}

func TestSignInLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.AuthRateLimitPerMin = 3 })

	throttled := 0
	for i := 0; i < 10; i++ {
		if signInFrom(h, fmt.Sprintf("10.0.0.%d", i)) == http.StatusTooManyRequests {
			throttled++
		}
	}
	assert.Equal(t, 7, throttled)
}

func TestSignInLimitHonoursTrustedProxy(t *testing.T) {
	// httptest requests arrive from 192.0.2.1.
	h := newHarness(t, func(d *Deps) {
		d.AuthRateLimitPerMin = 3
		d.TrustedProxies = []string{"192.0.2.1"}
	})

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusUnauthorized, signInFrom(h, fmt.Sprintf("10.0.0.%d", i)))
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusUnauthorized, signInFrom(h, "10.0.1.1"))
	}
	assert.Equal(t, http.StatusTooManyRequests, signInFrom(h, "10.0.1.1"))
}
