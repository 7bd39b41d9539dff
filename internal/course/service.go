package course

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"deptportal/internal/apperr"
	"deptportal/internal/validate"
)

// Service validates and stores courses and timetables.
type Service struct {
	repo     Repository
	validate *validator.Validate
	log      *zap.Logger
}

// NewService creates a service.
func NewService(repo Repository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, validate: validate.New(), log: log.Named("course")}
}

// ListCourses returns the catalogue.
func (s *Service) ListCourses(ctx context.Context) ([]Course, error) {
	return s.repo.ListCourses(ctx)
}

// AddCourse validates and inserts a course. Credits default to 3.
func (s *Service) AddCourse(ctx context.Context, in NewCourse) (Course, error) {
	if err := s.validate.Struct(in); err != nil {
		return Course{}, apperr.FromValidator("invalid course", err)
	}
	c, err := s.repo.InsertCourse(ctx, in.course())
	if err != nil {
		return Course{}, err
	}
	s.log.Info("course added", zap.String("code", c.Code))
	return c, nil
}

// DeleteCourse removes a course.
func (s *Service) DeleteCourse(ctx context.Context, id string) error {
	return s.repo.DeleteCourse(ctx, id)
}

// ListTimetables returns all timetables.
func (s *Service) ListTimetables(ctx context.Context) ([]Timetable, error) {
	return s.repo.ListTimetables(ctx)
}

// AddTimetable validates and inserts a timetable. Every slot must end after it starts.
func (s *Service) AddTimetable(ctx context.Context, in NewTimetable) (Timetable, error) {
	if err := s.validate.Struct(in); err != nil {
		return Timetable{}, apperr.FromValidator("invalid timetable", err)
	}
	var bad []apperr.FieldError
	for i, sl := range in.Slots {
		start, _ := time.Parse("15:04", sl.StartTime)
		end, _ := time.Parse("15:04", sl.EndTime)
		if !end.After(start) {
			bad = append(bad, apperr.FieldError{Field: slotField(i), Message: "end time must be after start time"})
		}
	}
	if len(bad) > 0 {
		return Timetable{}, apperr.Invalid("invalid timetable", bad...)
	}
	t, err := s.repo.InsertTimetable(ctx, in.timetable())
	if err != nil {
		return Timetable{}, err
	}
	s.log.Info("timetable added", zap.String("year", t.Year), zap.String("section", t.Section))
	return t, nil
}

// DeleteTimetable removes a timetable.
func (s *Service) DeleteTimetable(ctx context.Context, id string) error {
	return s.repo.DeleteTimetable(ctx, id)
}

func slotField(i int) string {
	return fmt.Sprintf("slots[%d].endTime", i)
}
