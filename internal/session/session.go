// Package session keeps the per-session snapshot of the signed-in principal: its role and,
// for students, the record shown on the dashboard. A session that is absent from the store
// is treated as signed out even if its token has not expired yet.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"deptportal/internal/apperr"
	"deptportal/internal/student"
)

// ErrNotFound is returned for unknown, expired or cleared sessions.
var ErrNotFound = errors.New("session not found")

// Snapshot is what the portal remembers about a signed-in principal.
type Snapshot struct {
	SessionID   string          `json:"sessionId"`
	UserID      string          `json:"userId"`
	Email       string          `json:"email"`
	UserType    string          `json:"userType"`
	CurrentUser *student.Record `json:"currentUser,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Store owns snapshot lifecycle: saved on sign-in, read by dashboards, cleared on sign-out.
type Store interface {
	Save(ctx context.Context, s Snapshot, ttl time.Duration) error
	Load(ctx context.Context, id string) (Snapshot, error)
	Clear(ctx context.Context, id string) error
}

// RedisStore keeps each snapshot in a hash with userType and currentUser fields.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store whose keys are prefix+sessionID.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Save writes the snapshot and sets its expiry.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot, ttl time.Duration) error {
	fields := map[string]any{
		"userId":    snap.UserID,
		"email":     snap.Email,
		"userType":  snap.UserType,
		"createdAt": snap.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if snap.CurrentUser != nil {
		data, err := json.Marshal(snap.CurrentUser)
		if err != nil {
			return err
		}
		fields["currentUser"] = string(data)
	}
	key := s.prefix + snap.SessionID
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return apperr.Unavailable(err)
}

// Load reads a snapshot.
func (s *RedisStore) Load(ctx context.Context, id string) (Snapshot, error) {
	vals, err := s.client.HGetAll(ctx, s.prefix+id).Result()
	if err != nil {
		return Snapshot{}, apperr.Unavailable(err)
	}
	if len(vals) == 0 {
		return Snapshot{}, ErrNotFound
	}
	snap := Snapshot{
		SessionID: id,
		UserID:    vals["userId"],
		Email:     vals["email"],
		UserType:  vals["userType"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["createdAt"]); err == nil {
		snap.CreatedAt = ts
	}
	if raw := vals["currentUser"]; raw != "" {
		var rec student.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return Snapshot{}, err
		}
		snap.CurrentUser = &rec
	}
	return snap, nil
}

// Clear removes a snapshot. Clearing an unknown session is not an error.
func (s *RedisStore) Clear(ctx context.Context, id string) error {
	return apperr.Unavailable(s.client.Del(ctx, s.prefix+id).Err())
}

// MemoryStore is an in-process store for dev runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]memEntry
	now  func() time.Time
}

type memEntry struct {
	snap    Snapshot
	expires time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]memEntry), now: time.Now}
}

// Save stores a copy of snap.
func (m *MemoryStore) Save(_ context.Context, snap Snapshot, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{snap: snap}
	if snap.CurrentUser != nil {
		rec := *snap.CurrentUser
		e.snap.CurrentUser = &rec
	}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.data[snap.SessionID] = e
	return nil
}

// Load returns a live snapshot.
func (m *MemoryStore) Load(_ context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.data, id)
		return Snapshot{}, ErrNotFound
	}
	return e.snap, nil
}

// Clear forgets a snapshot.
func (m *MemoryStore) Clear(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}
