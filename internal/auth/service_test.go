package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deptportal/internal/apperr"
	"deptportal/internal/session"
	"deptportal/internal/student"
)

type fixture struct {
	svc      *Service
	dir      *MemoryDirectory
	repo     *student.MemoryRepository
	students *student.Service
	sessions *session.MemoryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := student.NewMemoryRepository()
	dir := NewMemoryDirectory(repo)
	sessions := session.NewMemoryStore()
	dir.AddRosterEntry(RosterEntry{RollNumber: "23891A7201", Name: "Asha Rao", Year: "1st Year"})
	dir.AddRosterEntry(RosterEntry{RollNumber: "23891A7202", Name: "Ravi Kumar", Year: "1st Year"})
	svc := NewService(dir, repo, sessions, nil, Config{Issuer: "portal", SigningKey: "test-key", SessionTTL: time.Hour}, nil)
	return fixture{svc: svc, dir: dir, repo: repo, students: student.NewService(repo, nil, nil), sessions: sessions}
}

func registration() Registration {
	return Registration{
		Email:      "Asha@X.edu",
		Password:   "secret1",
		RollNumber: "23891a7201",
		Name:       " Asha Rao ",
		Year:       "1st Year",
		Semester:   "1",
	}
}

func TestSignUpRequiresRosterEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []Registration{
		func() Registration { r := registration(); r.Name = "Asha R"; return r }(),
		func() Registration { r := registration(); r.Year = "2nd Year"; return r }(),
		func() Registration { r := registration(); r.RollNumber = "23891A7299"; return r }(),
	}
	for _, reg := range cases {
		_, err := f.svc.SignUp(ctx, reg)
		assert.ErrorIs(t, err, ErrNotEligible)
	}

	assert.Equal(t, 0, f.dir.Accounts())
	all, _ := f.repo.List(ctx)
	assert.Empty(t, all)
	_, err := f.svc.SignIn(ctx, "asha@x.edu", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignUpCreatesPendingStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.SignUp(ctx, registration())
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, p.Role)
	assert.Equal(t, "23891A7201", p.RollNumber)
	assert.Equal(t, "asha@x.edu", p.Email)

	rec, err := f.repo.Get(ctx, "23891A7201")
	require.NoError(t, err)
	assert.Equal(t, student.StatusPending, rec.Status)
	assert.Equal(t, "Asha Rao", rec.Name)

	prof, err := f.dir.Profile(ctx, p.UserID)
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, prof.Role)
}

func TestSignUpDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, registration())
	require.NoError(t, err)

	_, err = f.svc.SignUp(ctx, registration())
	assert.ErrorIs(t, err, student.ErrDuplicateKey)
	assert.Equal(t, 1, f.dir.Accounts())
}

func TestSignUpValidation(t *testing.T) {
	f := newFixture(t)
	reg := registration()
	reg.Password = "123"
	_, err := f.svc.SignUp(context.Background(), reg)
	assert.True(t, apperr.IsValidation(err))

	reg = registration()
	reg.Email = "not-an-email"
	_, err = f.svc.SignUp(context.Background(), reg)
	assert.True(t, apperr.IsValidation(err))
}

func TestSignInGatedByApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, registration())
	require.NoError(t, err)

	_, err = f.svc.SignIn(ctx, "asha@x.edu", "secret1")
	assert.ErrorIs(t, err, ErrPendingApproval)

	_, err = f.students.Reject(ctx, "23891A7201")
	require.NoError(t, err)
	_, err = f.svc.SignIn(ctx, "asha@x.edu", "secret1")
	assert.ErrorIs(t, err, ErrPendingApproval)

	_, err = f.students.Approve(ctx, "23891A7201")
	require.NoError(t, err)
	res, err := f.svc.SignIn(ctx, "ASHA@x.edu", "secret1")
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, res.Role)
	require.NotNil(t, res.Student)
	assert.Equal(t, "23891A7201", res.Student.RollNumber)

	claims, err := f.svc.ParseToken(res.Token)
	require.NoError(t, err)
	snap, err := f.sessions.Load(ctx, claims.SessionID())
	require.NoError(t, err)
	assert.Equal(t, "student", snap.UserType)
	require.NotNil(t, snap.CurrentUser)
	assert.Equal(t, "Asha Rao", snap.CurrentUser.Name)
}

func TestSignInBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, registration())
	require.NoError(t, err)

	_, err = f.svc.SignIn(ctx, "asha@x.edu", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.SignIn(ctx, "nobody@x.edu", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignInMissingProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.SignUp(ctx, registration())
	require.NoError(t, err)
	f.dir.DeleteProfile(p.UserID)

	_, err = f.svc.SignIn(ctx, "asha@x.edu", "secret1")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestSignInMissingStudentRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, registration())
	require.NoError(t, err)
	require.NoError(t, f.students.Remove(ctx, "23891A7201"))

	_, err = f.svc.SignIn(ctx, "asha@x.edu", "secret1")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestAdminSignInAndSignOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.BootstrapAdmin(ctx, "Admin@Dept.edu", "admin-pass"))
	require.NoError(t, f.svc.BootstrapAdmin(ctx, "admin@dept.edu", "admin-pass"))
	assert.Equal(t, 1, f.dir.Accounts())

	res, err := f.svc.SignIn(ctx, "admin@dept.edu", "admin-pass")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, res.Role)
	assert.Nil(t, res.Student)

	claims, err := f.svc.ParseToken(res.Token)
	require.NoError(t, err)
	_, err = f.svc.Session(ctx, claims.SessionID())
	require.NoError(t, err)

	require.NoError(t, f.svc.SignOut(ctx, claims.SessionID()))
	_, err = f.svc.Session(ctx, claims.SessionID())
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestIssueAndParse(t *testing.T) {
	now := time.Now()
	tok, err := Issue("u1", RoleAdmin, "", "sid-1", "portal", "k", time.Minute, now)
	require.NoError(t, err)

	claims, err := Parse(tok.AccessToken, "k", "portal")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "sid-1", claims.SessionID())
	assert.Equal(t, RoleAdmin, claims.Role)

	_, err = Parse(tok.AccessToken, "other", "portal")
	assert.Error(t, err)
	_, err = Parse(tok.AccessToken, "k", "someone-else")
	assert.Error(t, err)

	expired, err := Issue("u1", RoleAdmin, "", "sid-1", "portal", "k", time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = Parse(expired.AccessToken, "k", "portal")
	assert.Error(t, err)
}

func TestPassword(t *testing.T) {
	h, err := HashPassword("secret1")
	require.NoError(t, err)
	assert.True(t, CheckPassword(h, "secret1"))
	assert.False(t, CheckPassword(h, "secret2"))
	assert.False(t, CheckPassword("not-a-hash", "secret1"))
}
