package attendance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"deptportal/internal/apperr"
	"deptportal/internal/metrics"
	"deptportal/internal/student"
)

// Updater writes a partial update to one student record.
type Updater interface {
	Update(ctx context.Context, roll string, patch student.Patch) (student.Record, error)
}

// Lookup resolves roll numbers against the live roster.
type Lookup interface {
	Find(roll string) (student.Record, bool)
	Refresh(ctx context.Context) error
}

// Failure is a matched row whose update was refused.
type Failure struct {
	RollNumber string `json:"rollNumber"`
	Error      string `json:"error"`
}

// Report summarizes an applied batch.
type Report struct {
	Applied   []string  `json:"applied"`
	Unmatched []string  `json:"unmatched"`
	Failed    []Failure `json:"failed"`
}

// Service coordinates previewing and applying attendance batches.
type Service struct {
	students Updater
	roster   Lookup
	log      *zap.Logger
}

// NewService creates a service.
func NewService(students Updater, roster Lookup, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{students: students, roster: roster, log: log.Named("attendance")}
}

// Annotate fills in student names for rows that match the roster.
func (s *Service) Annotate(p Preview) Preview {
	for i, r := range p.Rows {
		if rec, ok := s.roster.Find(r.RollNumber); ok {
			p.Rows[i].StudentName = rec.Name
		}
	}
	return p
}

// Apply writes each row's attendance to the record with the same roll number, ignoring case.
// Rows with no match are reported, and a failed update does not stop the rest of the batch.
func (s *Service) Apply(ctx context.Context, rows []Row) (Report, error) {
	if len(rows) == 0 {
		return Report{}, apperr.Invalid("no attendance data to upload")
	}
	rep := Report{Applied: []string{}, Unmatched: []string{}, Failed: []Failure{}}
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rec, ok := s.roster.Find(r.RollNumber)
		if !ok {
			rep.Unmatched = append(rep.Unmatched, r.RollNumber)
			continue
		}
		value := student.NormalizeAttendance(r.Attendance)
		if _, err := s.students.Update(ctx, rec.RollNumber, student.Patch{Attendance: &value}); err != nil {
			if errors.Is(err, apperr.ErrBackendUnavailable) {
				return rep, err
			}
			rep.Failed = append(rep.Failed, Failure{RollNumber: rec.RollNumber, Error: err.Error()})
			continue
		}
		rep.Applied = append(rep.Applied, rec.RollNumber)
	}

	metrics.AttendanceRows.WithLabelValues("applied").Add(float64(len(rep.Applied)))
	metrics.AttendanceRows.WithLabelValues("unmatched").Add(float64(len(rep.Unmatched)))
	metrics.AttendanceRows.WithLabelValues("failed").Add(float64(len(rep.Failed)))
	s.log.Info("attendance applied",
		zap.Int("applied", len(rep.Applied)),
		zap.Int("unmatched", len(rep.Unmatched)),
		zap.Int("failed", len(rep.Failed)))

	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.roster.Refresh(refreshCtx); err != nil {
		s.log.Warn("roster refresh after attendance failed", zap.Error(err))
	}
	return rep, nil
}
