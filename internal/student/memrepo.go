package student

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps records in process memory for dev runs and tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]Record
	seq  int64
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]Record)}
}

// List returns every record, newest first.
func (m *MemoryRepository) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns a record by roll number.
func (m *MemoryRepository) Get(_ context.Context, roll string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[NormalizeRoll(roll)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

// Insert adds rec, enforcing roll number and email uniqueness.
func (m *MemoryRepository) Insert(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUniqueLocked(rec.RollNumber, rec.Email, ""); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.CreatedAt.IsZero() {
		// Nanosecond offsets keep insertion order stable when the clock does not advance.
		m.seq++
		rec.CreatedAt = time.Now().UTC().Add(time.Duration(m.seq))
	}
	rec.UpdatedAt = rec.CreatedAt
	m.rows[rec.RollNumber] = rec
	return rec, nil
}

// CheckUnique reports ErrDuplicateKey when roll or email is taken.
func (m *MemoryRepository) CheckUnique(roll, email string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkUniqueLocked(NormalizeRoll(roll), NormalizeEmail(email), "")
}

func (m *MemoryRepository) checkUniqueLocked(roll, email, except string) error {
	for key, r := range m.rows {
		if key == except {
			continue
		}
		if key == roll || (email != "" && r.Email == email) {
			return ErrDuplicateKey
		}
	}
	return nil
}

// Update merges patch into the record.
func (m *MemoryRepository) Update(_ context.Context, roll string, patch Patch, now time.Time) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := NormalizeRoll(roll)
	r, ok := m.rows[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	if patch.Email != nil {
		if err := m.checkUniqueLocked("", *patch.Email, key); err != nil {
			return Record{}, err
		}
	}
	r = patch.Apply(r)
	r.UpdatedAt = now
	m.rows[key] = r
	return r, nil
}

// Delete removes a record.
func (m *MemoryRepository) Delete(_ context.Context, roll string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := NormalizeRoll(roll)
	if _, ok := m.rows[key]; !ok {
		return ErrNotFound
	}
	delete(m.rows, key)
	return nil
}
