package student

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deptportal/internal/apperr"
	"deptportal/internal/events"
)

func newTestService(t *testing.T) (*Service, *MemoryRepository, *events.InMemory) {
	t.Helper()
	repo := NewMemoryRepository()
	bus := events.NewInMemory(16)
	return NewService(repo, bus, nil), repo, bus
}

func sample(roll, name, email string) NewStudent {
	return NewStudent{
		RollNumber: roll,
		Name:       name,
		Email:      email,
		Year:       "2nd Year",
		Section:    "A",
		Semester:   "3",
		CGPA:       "8.4",
		Attendance: "91",
	}
}

func TestAddDefaultsToPendingAndNormalizes(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec, err := svc.Add(context.Background(), sample(" 23891a7201 ", "Asha Rao", "Asha@College.edu"))
	require.NoError(t, err)

	assert.Equal(t, "23891A7201", rec.RollNumber)
	assert.Equal(t, "asha@college.edu", rec.Email)
	assert.Equal(t, "91%", rec.Attendance)
	assert.Equal(t, StatusPending, rec.Status)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestAddAdminChosenStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	in := sample("A1", "Ravi", "ravi@x.edu")
	in.Status = StatusApproved
	rec, err := svc.Add(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, rec.Status)
}

func TestAddDuplicateRollKeepsOneRecord(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, sample("A1", "First", "first@x.edu"))
	require.NoError(t, err)
	_, err = svc.Add(ctx, sample("a1", "Second", "second@x.edu"))
	assert.ErrorIs(t, err, ErrDuplicateKey)

	_, err = svc.Add(ctx, sample("A2", "Third", "FIRST@x.edu"))
	assert.ErrorIs(t, err, ErrDuplicateKey)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "First", all[0].Name)
}

func TestAddRequiresCoreFields(t *testing.T) {
	svc, repo, _ := newTestService(t)
	_, err := svc.Add(context.Background(), NewStudent{RollNumber: "A1"})
	require.Error(t, err)

	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	fields := map[string]bool{}
	for _, f := range ve.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["name"])
	assert.True(t, fields["email"])

	all, _ := repo.List(context.Background())
	assert.Empty(t, all)
}

func TestAddRejectsSemesterOutsideYear(t *testing.T) {
	svc, _, _ := newTestService(t)
	in := sample("A1", "X", "x@x.edu")
	in.Semester = "7"
	_, err := svc.Add(context.Background(), in)
	assert.True(t, apperr.IsValidation(err))
}

func TestUpdatePartialMerge(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	orig, err := svc.Add(ctx, sample("A1", "Asha", "asha@x.edu"))
	require.NoError(t, err)

	cgpa := "9.1"
	time.Sleep(time.Millisecond)
	got, err := svc.Update(ctx, "a1", Patch{CGPA: &cgpa})
	require.NoError(t, err)

	assert.Equal(t, "9.1", got.CGPA)
	assert.Equal(t, orig.Name, got.Name)
	assert.Equal(t, orig.Email, got.Email)
	assert.True(t, got.UpdatedAt.After(orig.UpdatedAt))
}

func TestUpdateMissingAndEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	name := "Nobody"
	_, err := svc.Update(context.Background(), "ZZ9", Patch{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Update(context.Background(), "ZZ9", Patch{})
	assert.True(t, apperr.IsValidation(err))
}

func TestUpdateRejectsNaN(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Add(ctx, sample("A1", "Asha", "asha@x.edu"))
	require.NoError(t, err)

	nan := "NaN"
	_, err = svc.Update(ctx, "A1", Patch{Attendance: &nan})
	assert.True(t, apperr.IsValidation(err))
	_, err = svc.Update(ctx, "A1", Patch{CGPA: &nan})
	assert.True(t, apperr.IsValidation(err))

	rec, err := svc.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "91%", rec.Attendance)
}

func TestRemove(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Add(ctx, sample("A1", "Asha", "asha@x.edu"))
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, "a1"))
	assert.ErrorIs(t, svc.Remove(ctx, "A1"), ErrNotFound)
	_, err = svc.Get(ctx, "A1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApproveIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Add(ctx, sample("A1", "Asha", "asha@x.edu"))
	require.NoError(t, err)

	first, err := svc.Approve(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, first.Status)

	second, err := svc.Approve(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, second.Status)

	rejected, err := svc.Reject(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
}

func TestMutationsPublishChanges(t *testing.T) {
	svc, _, bus := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	_, err = svc.Add(ctx, sample("A1", "Asha", "asha@x.edu"))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, "A1")
	require.NoError(t, err)
	require.NoError(t, svc.Remove(ctx, "A1"))

	var ops []string
	for i := 0; i < 3; i++ {
		select {
		case c := <-ch:
			assert.Equal(t, Table, c.Table)
			assert.Equal(t, "A1", c.Key)
			ops = append(ops, c.Op)
		case <-time.After(time.Second):
			t.Fatal("missing change notification")
		}
	}
	assert.Equal(t, []string{events.OpInsert, events.OpUpdate, events.OpDelete}, ops)
}

func TestListNewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for _, roll := range []string{"A1", "A2", "A3"} {
		_, err := svc.Add(ctx, sample(roll, "N"+roll, roll+"@x.edu"))
		require.NoError(t, err)
	}
	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "A3", all[0].RollNumber)
	assert.Equal(t, "A1", all[2].RollNumber)
}

func TestCheckSemester(t *testing.T) {
	assert.NoError(t, CheckSemester("1st Year", "1"))
	assert.NoError(t, CheckSemester("1st Year", "2"))
	assert.NoError(t, CheckSemester("4th Year", "8"))
	assert.NoError(t, CheckSemester("", "5"))
	assert.Error(t, CheckSemester("1st Year", "3"))
	assert.Error(t, CheckSemester("3rd Year", "4"))
}
