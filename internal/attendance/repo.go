package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"deptportal/internal/apperr"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("attendance job not found")

// Job states.
const (
	JobQueued    = "queued"
	JobProcessed = "processed"
	JobFailed    = "failed"
)

// Job records one bulk attendance batch from enqueue to completion.
type Job struct {
	ID          string     `json:"id"`
	RequestedBy string     `json:"requestedBy"`
	Status      string     `json:"status"`
	Rows        int        `json:"rows"`
	Report      *Report    `json:"report,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// JobStore persists job state.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) (Job, error)
	GetJob(ctx context.Context, id string) (Job, error)
	FinishJob(ctx context.Context, id, status string, report *Report, errMsg string) error
	ListJobs(ctx context.Context, limit, offset int) ([]Job, error)
}

// Repository persists attendance jobs in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func prepareJob(job Job) Job {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = JobQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	return job
}

// CreateJob writes a new queued job.
func (r *Repository) CreateJob(ctx context.Context, job Job) (Job, error) {
	job = prepareJob(job)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_jobs (id, requested_by, status, row_count, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, job.ID, job.RequestedBy, job.Status, job.Rows, job.CreatedAt)
	if err != nil {
		return Job{}, apperr.Unavailable(err)
	}
	return job, nil
}

const jobColumns = `id, requested_by, status, row_count, report, error, created_at, finished_at`

func scanJob(s interface{ Scan(...any) error }) (Job, error) {
	var j Job
	var report []byte
	var errMsg sql.NullString
	var finished sql.NullTime
	if err := s.Scan(&j.ID, &j.RequestedBy, &j.Status, &j.Rows, &report, &errMsg, &j.CreatedAt, &finished); err != nil {
		return Job{}, err
	}
	if len(report) > 0 {
		var rep Report
		if err := json.Unmarshal(report, &rep); err != nil {
			return Job{}, err
		}
		j.Report = &rep
	}
	j.Error = errMsg.String
	if finished.Valid {
		t := finished.Time
		j.FinishedAt = &t
	}
	return j, nil
}

// GetJob returns a single job by id.
func (r *Repository) GetJob(ctx context.Context, id string) (Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM attendance_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, apperr.Unavailable(err)
	}
	return j, nil
}

// FinishJob stores the outcome of a processed batch.
func (r *Repository) FinishJob(ctx context.Context, id, status string, report *Report, errMsg string) error {
	var payload []byte
	if report != nil {
		var err error
		if payload, err = json.Marshal(report); err != nil {
			return err
		}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_jobs
		SET status = $2, report = $3, error = NULLIF($4, ''), finished_at = NOW()
		WHERE id = $1
	`, id, status, payload, errMsg)
	if err != nil {
		return apperr.Unavailable(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs newest first.
func (r *Repository) ListJobs(ctx context.Context, limit, offset int) ([]Job, error) {
	limit, offset = page(limit, offset)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM attendance_jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	defer rows.Close()
	var res []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// MemoryJobs keeps jobs in process memory.
type MemoryJobs struct {
	mu   sync.Mutex
	jobs map[string]Job
}

// NewMemoryJobs creates an empty job store.
func NewMemoryJobs() *MemoryJobs {
	return &MemoryJobs{jobs: make(map[string]Job)}
}

// CreateJob stores a queued job.
func (m *MemoryJobs) CreateJob(_ context.Context, job Job) (Job, error) {
	job = prepareJob(job)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return job, nil
}

// GetJob returns a job.
func (m *MemoryJobs) GetJob(_ context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j, nil
}

// FinishJob records the outcome.
func (m *MemoryJobs) FinishJob(_ context.Context, id, status string, report *Report, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	now := time.Now().UTC()
	j.Status, j.Report, j.Error, j.FinishedAt = status, report, errMsg, &now
	m.jobs[id] = j
	return nil
}

// ListJobs returns jobs newest first.
func (m *MemoryJobs) ListJobs(_ context.Context, limit, offset int) ([]Job, error) {
	limit, offset = page(limit, offset)
	m.mu.Lock()
	all := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		all = append(all, j)
	}
	m.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return []Job{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
