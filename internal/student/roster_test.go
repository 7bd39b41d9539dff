package student

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deptportal/internal/events"
)

func TestRosterRefetchesOnChange(t *testing.T) {
	svc, _, bus := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Add(ctx, sample("A1", "Asha", "asha@x.edu"))
	require.NoError(t, err)

	roster := NewRoster(svc, bus, nil)
	require.NoError(t, roster.Start(ctx))
	require.Len(t, roster.Snapshot(), 1)

	_, err = svc.Add(ctx, sample("A2", "Ravi", "ravi@x.edu"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(roster.Snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestRosterApproveRefreshesWithoutNotification(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Add(ctx, sample("A1", "Asha", "asha@x.edu"))
	require.NoError(t, err)

	roster := NewRoster(svc, nil, nil)
	require.NoError(t, roster.Start(ctx))

	_, err = roster.Approve(ctx, "a1")
	require.NoError(t, err)
	rec, ok := roster.Find("a1")
	require.True(t, ok)
	assert.Equal(t, StatusApproved, rec.Status)

	_, err = roster.Reject(ctx, "A1")
	require.NoError(t, err)
	rec, _ = roster.Find("A1")
	assert.Equal(t, StatusRejected, rec.Status)
}

func TestRosterIgnoresOtherTables(t *testing.T) {
	svc, _, bus := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roster := NewRoster(svc, bus, nil)
	require.NoError(t, roster.Start(ctx))
	first, _ := roster.LoadedAt()

	watch := roster.Watch(ctx)
	require.NoError(t, bus.Publish(ctx, events.Change{Table: "courses", Op: events.OpInsert}))
	select {
	case <-watch:
		t.Fatal("roster refreshed for an unrelated table")
	case <-time.After(100 * time.Millisecond):
	}
	again, _ := roster.LoadedAt()
	assert.Equal(t, first, again)
}

func TestRosterWatchTicksAfterRefresh(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	roster := NewRoster(svc, nil, nil)
	require.NoError(t, roster.Start(ctx))

	watch := roster.Watch(ctx)
	require.NoError(t, roster.Refresh(ctx))
	select {
	case <-watch:
	case <-time.After(time.Second):
		t.Fatal("no tick")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-watch
		return !ok
	}, time.Second, 10*time.Millisecond)
}

// flakySubscriber fails its first failures calls before delegating to the bus.
type flakySubscriber struct {
	bus        *events.InMemory
	failures   int32
	calls      atomic.Int32
	subscribed atomic.Bool
}

func (f *flakySubscriber) Subscribe(ctx context.Context) (<-chan events.Change, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("redis: connection refused")
	}
	ch, err := f.bus.Subscribe(ctx)
	if err == nil {
		f.subscribed.Store(true)
	}
	return ch, err
}

func TestRosterRetriesFailedSubscribe(t *testing.T) {
	svc, _, bus := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Add(ctx, sample("A1", "Asha", "asha@x.edu"))
	require.NoError(t, err)

	sub := &flakySubscriber{bus: bus, failures: 2}
	roster := NewRoster(svc, sub, nil)
	roster.retryMin = 5 * time.Millisecond
	require.NoError(t, roster.Start(ctx))
	require.Len(t, roster.Snapshot(), 1)

	require.Eventually(t, sub.subscribed.Load, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), sub.calls.Load())

	_, err = svc.Add(ctx, sample("A2", "Ravi", "ravi@x.edu"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(roster.Snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
}
