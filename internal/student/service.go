package student

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"deptportal/internal/apperr"
	"deptportal/internal/events"
	"deptportal/internal/metrics"
	"deptportal/internal/validate"
)

// Table is the name carried by change notifications for student writes.
const Table = "students"

// Service coordinates validation, persistence and change notification for student records.
type Service struct {
	repo     Repository
	bus      events.Publisher
	validate *validator.Validate
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates a service backed by a repository. bus may be nil.
func NewService(repo Repository, bus events.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		bus:      bus,
		validate: validate.New(),
		log:      log.Named("student"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// List returns all records, newest first.
func (s *Service) List(ctx context.Context) ([]Record, error) {
	return s.repo.List(ctx)
}

// Get returns a record by roll number.
func (s *Service) Get(ctx context.Context, roll string) (Record, error) {
	return s.repo.Get(ctx, roll)
}

// Add validates and inserts a new record. Status defaults to pending.
func (s *Service) Add(ctx context.Context, in NewStudent) (Record, error) {
	if err := s.validate.Struct(in); err != nil {
		return Record{}, apperr.FromValidator("invalid student", err)
	}
	rec := in.Record()
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if err := CheckSemester(rec.Year, rec.Semester); err != nil {
		return Record{}, err
	}

	out, err := s.repo.Insert(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	s.changed(ctx, events.OpInsert, out.RollNumber)
	return out, nil
}

// Update applies a partial patch to the record identified by roll.
func (s *Service) Update(ctx context.Context, roll string, patch Patch) (Record, error) {
	if err := s.validate.Struct(patch); err != nil {
		return Record{}, apperr.FromValidator("invalid update", err)
	}
	patch = patch.normalize()
	if patch.Empty() {
		return Record{}, apperr.Invalid("nothing to update")
	}
	if patch.Year != nil || patch.Semester != nil {
		cur, err := s.repo.Get(ctx, roll)
		if err != nil {
			return Record{}, err
		}
		merged := patch.Apply(cur)
		if err := CheckSemester(merged.Year, merged.Semester); err != nil {
			return Record{}, err
		}
	}

	out, err := s.repo.Update(ctx, roll, patch, s.now())
	if err != nil {
		return Record{}, err
	}
	s.changed(ctx, events.OpUpdate, out.RollNumber)
	return out, nil
}

// Remove deletes the record permanently.
func (s *Service) Remove(ctx context.Context, roll string) error {
	if err := s.repo.Delete(ctx, roll); err != nil {
		return err
	}
	s.changed(ctx, events.OpDelete, NormalizeRoll(roll))
	return nil
}

// Approve sets status to approved. Approving an approved record is a no-op write.
func (s *Service) Approve(ctx context.Context, roll string) (Record, error) {
	return s.setStatus(ctx, roll, StatusApproved)
}

// Reject sets status to rejected.
func (s *Service) Reject(ctx context.Context, roll string) (Record, error) {
	return s.setStatus(ctx, roll, StatusRejected)
}

func (s *Service) setStatus(ctx context.Context, roll string, st Status) (Record, error) {
	out, err := s.repo.Update(ctx, roll, Patch{Status: &st}, s.now())
	if err != nil {
		return Record{}, err
	}
	s.log.Info("status changed", zap.String("roll", out.RollNumber), zap.String("status", string(st)))
	s.changed(ctx, events.OpUpdate, out.RollNumber)
	return out, nil
}

// changed publishes a notification. The write already happened, so a failed publish is only logged.
func (s *Service) changed(ctx context.Context, op, roll string) {
	metrics.StudentMutations.WithLabelValues(op).Inc()
	if s.bus == nil {
		return
	}
	err := s.bus.Publish(ctx, events.Change{Table: Table, Op: op, Key: roll, At: s.now()})
	if err != nil {
		s.log.Warn("publish change failed", zap.String("op", op), zap.String("roll", roll), zap.Error(err))
	}
}

// CheckSemester enforces that year N only carries semesters 2N-1 and 2N. Empty values pass.
func CheckSemester(year, semester string) error {
	if year == "" || semester == "" {
		return nil
	}
	y := validate.YearIndex(year)
	sem, err := strconv.Atoi(semester)
	if y == 0 || err != nil {
		return nil
	}
	if sem != 2*y-1 && sem != 2*y {
		return apperr.Invalid("semester does not match year", apperr.FieldError{
			Field:   "semester",
			Message: fmt.Sprintf("%s allows semesters %d and %d", year, 2*y-1, 2*y),
		})
	}
	return nil
}
