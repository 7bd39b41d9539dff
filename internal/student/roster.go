package student

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"deptportal/internal/events"
	"deptportal/internal/metrics"
)

// Roster is the live in-memory list of student records. Any change notification
// discards the held list and refetches everything.
type Roster struct {
	svc *Service
	sub events.Subscriber
	log *zap.Logger

	mu       sync.RWMutex
	records  []Record
	loadedAt time.Time
	lastErr  error
	watchers map[chan struct{}]struct{}

	retryMin, retryMax time.Duration
}

// NewRoster builds a roster over svc that listens on sub. sub may be nil, in which case
// the roster only refreshes when asked.
func NewRoster(svc *Service, sub events.Subscriber, log *zap.Logger) *Roster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Roster{
		svc:      svc,
		sub:      sub,
		log:      log.Named("roster"),
		watchers: make(map[chan struct{}]struct{}),
		retryMin: 500 * time.Millisecond,
		retryMax: 30 * time.Second,
	}
}

// Start subscribes to changes until ctx is cancelled and performs the initial fetch.
// A failed subscription is retried in the background with backoff; the returned
// error only reports the initial fetch.
func (r *Roster) Start(ctx context.Context) error {
	if r.sub != nil {
		changes, err := r.sub.Subscribe(ctx)
		if err != nil {
			r.log.Warn("subscribe failed, retrying in background", zap.Error(err))
			changes = nil
		}
		go r.follow(ctx, changes)
	}
	return r.Refresh(ctx)
}

// follow drains changes and resubscribes whenever the subscription is missing or ends
// while ctx is still live.
func (r *Roster) follow(ctx context.Context, changes <-chan events.Change) {
	delay := r.retryMin
	for {
		if changes != nil {
			r.listen(ctx, changes)
			delay = r.retryMin
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		var err error
		changes, err = r.sub.Subscribe(ctx)
		if err != nil {
			changes = nil
			delay = min(delay*2, r.retryMax)
			r.log.Warn("resubscribe failed", zap.Duration("retry_in", delay), zap.Error(err))
			continue
		}
		r.log.Info("resubscribed to changes")
		// Writes made while unsubscribed were never announced.
		if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("refresh after resubscribe failed", zap.Error(err))
		}
	}
}

func (r *Roster) listen(ctx context.Context, changes <-chan events.Change) {
	for c := range changes {
		if c.Table != "" && c.Table != Table {
			continue
		}
		if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("refresh after change failed", zap.String("op", c.Op), zap.String("key", c.Key), zap.Error(err))
		}
	}
	r.log.Debug("subscription closed")
}

// Refresh refetches the full list. On failure the previous list is kept and the error returned.
func (r *Roster) Refresh(ctx context.Context) error {
	recs, err := r.svc.List(ctx)
	r.mu.Lock()
	r.lastErr = err
	if err == nil {
		r.records = recs
		r.loadedAt = time.Now().UTC()
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	metrics.RosterRefreshes.Inc()
	metrics.RosterSize.Set(float64(len(recs)))
	r.notify()
	return nil
}

// Snapshot returns a copy of the held list in fetch order.
func (r *Roster) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// LoadedAt is the time of the last successful refresh, and the error of the latest attempt.
func (r *Roster) LoadedAt() (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt, r.lastErr
}

// Filter applies f to the held list.
func (r *Roster) Filter(f Filter) []Record {
	return f.Apply(r.Snapshot())
}

// Find looks a record up by roll number, ignoring case.
func (r *Roster) Find(roll string) (Record, bool) {
	key := NormalizeRoll(roll)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if NormalizeRoll(rec.RollNumber) == key {
			return rec, true
		}
	}
	return Record{}, false
}

// Approve approves roll and refreshes the list without waiting for the notification.
func (r *Roster) Approve(ctx context.Context, roll string) (Record, error) {
	rec, err := r.svc.Approve(ctx, roll)
	if err != nil {
		return Record{}, err
	}
	r.refreshAfter(ctx, rec.RollNumber)
	return rec, nil
}

// Reject rejects roll and refreshes the list.
func (r *Roster) Reject(ctx context.Context, roll string) (Record, error) {
	rec, err := r.svc.Reject(ctx, roll)
	if err != nil {
		return Record{}, err
	}
	r.refreshAfter(ctx, rec.RollNumber)
	return rec, nil
}

// refreshAfter refetches after a write that already succeeded; a failure only leaves
// the previous list in place.
func (r *Roster) refreshAfter(ctx context.Context, roll string) {
	if err := r.Refresh(ctx); err != nil {
		r.log.Warn("refresh after status change failed", zap.String("roll", roll), zap.Error(err))
	}
}

// Watch returns a channel that receives a tick after every successful refresh.
// It is closed when ctx is done.
func (r *Roster) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	r.mu.Lock()
	r.watchers[ch] = struct{}{}
	r.mu.Unlock()
	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.watchers, ch)
		close(ch)
		r.mu.Unlock()
	}()
	return ch
}

func (r *Roster) notify() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ch := range r.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
