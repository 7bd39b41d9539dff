package course

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"deptportal/internal/apperr"
)

// Repository persists courses and timetables.
type Repository interface {
	ListCourses(ctx context.Context) ([]Course, error)
	InsertCourse(ctx context.Context, c Course) (Course, error)
	DeleteCourse(ctx context.Context, id string) error
	ListTimetables(ctx context.Context) ([]Timetable, error)
	InsertTimetable(ctx context.Context, t Timetable) (Timetable, error)
	DeleteTimetable(ctx context.Context, id string) error
}

// PostgresRepository stores courses and timetables in Postgres. Slots are kept as JSONB.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ListCourses returns courses ordered by semester then code.
func (r *PostgresRepository) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, code, credits, semester, professor, description, created_at, updated_at
		FROM courses ORDER BY semester, code`)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	defer rows.Close()
	var res []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Name, &c.Code, &c.Credits, &c.Semester, &c.Professor, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// InsertCourse writes a new course.
func (r *PostgresRepository) InsertCourse(ctx context.Context, c Course) (Course, error) {
	c = stampCourse(c)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO courses (id, name, code, credits, semester, professor, description, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, c.ID, c.Name, c.Code, c.Credits, c.Semester, c.Professor, c.Description, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Course{}, ErrDuplicateCode
		}
		return Course{}, apperr.Unavailable(err)
	}
	return c, nil
}

// DeleteCourse removes a course.
func (r *PostgresRepository) DeleteCourse(ctx context.Context, id string) error {
	return r.deleteByID(ctx, `DELETE FROM courses WHERE id = $1`, id)
}

// ListTimetables returns timetables ordered by year and section.
func (r *PostgresRepository) ListTimetables(ctx context.Context) ([]Timetable, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, year, section, batch, slots, created_at, updated_at
		FROM timetables ORDER BY year, section, batch`)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	defer rows.Close()
	var res []Timetable
	for rows.Next() {
		var t Timetable
		var slots []byte
		if err := rows.Scan(&t.ID, &t.Year, &t.Section, &t.Batch, &slots, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(slots, &t.Slots); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// InsertTimetable writes a new timetable.
func (r *PostgresRepository) InsertTimetable(ctx context.Context, t Timetable) (Timetable, error) {
	t = stampTimetable(t)
	slots, err := json.Marshal(t.Slots)
	if err != nil {
		return Timetable{}, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO timetables (id, year, section, batch, slots, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, t.ID, t.Year, t.Section, t.Batch, string(slots), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return Timetable{}, apperr.Unavailable(err)
	}
	return t, nil
}

// DeleteTimetable removes a timetable.
func (r *PostgresRepository) DeleteTimetable(ctx context.Context, id string) error {
	return r.deleteByID(ctx, `DELETE FROM timetables WHERE id = $1`, id)
}

func (r *PostgresRepository) deleteByID(ctx context.Context, query, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return apperr.Unavailable(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func stampCourse(c Course) Course {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	return c
}

func stampTimetable(t Timetable) Timetable {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	return t
}

// MemoryRepository keeps courses and timetables in memory.
type MemoryRepository struct {
	mu         sync.RWMutex
	courses    map[string]Course
	timetables map[string]Timetable
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{courses: make(map[string]Course), timetables: make(map[string]Timetable)}
}

// ListCourses returns courses ordered by semester then code.
func (m *MemoryRepository) ListCourses(_ context.Context) ([]Course, error) {
	m.mu.RLock()
	out := make([]Course, 0, len(m.courses))
	for _, c := range m.courses {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Semester != out[j].Semester {
			return out[i].Semester < out[j].Semester
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// InsertCourse stores c unless its code is taken.
func (m *MemoryRepository) InsertCourse(_ context.Context, c Course) (Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.courses {
		if existing.Code == c.Code {
			return Course{}, ErrDuplicateCode
		}
	}
	c = stampCourse(c)
	m.courses[c.ID] = c
	return c, nil
}

// DeleteCourse removes a course.
func (m *MemoryRepository) DeleteCourse(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[id]; !ok {
		return ErrNotFound
	}
	delete(m.courses, id)
	return nil
}

// ListTimetables returns timetables ordered by year and section.
func (m *MemoryRepository) ListTimetables(_ context.Context) ([]Timetable, error) {
	m.mu.RLock()
	out := make([]Timetable, 0, len(m.timetables))
	for _, t := range m.timetables {
		out = append(out, t)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		if out[i].Section != out[j].Section {
			return out[i].Section < out[j].Section
		}
		return out[i].Batch < out[j].Batch
	})
	return out, nil
}

// InsertTimetable stores t.
func (m *MemoryRepository) InsertTimetable(_ context.Context, t Timetable) (Timetable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t = stampTimetable(t)
	m.timetables[t.ID] = t
	return t, nil
}

// DeleteTimetable removes a timetable.
func (m *MemoryRepository) DeleteTimetable(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.timetables[id]; !ok {
		return ErrNotFound
	}
	delete(m.timetables, id)
	return nil
}
