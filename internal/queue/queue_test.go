package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok)
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
		return Message{}
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	m := deserialize(serialize(Message{Type: TypeAttendanceApply, Body: []byte(`[{"a":"x|y"}]`)}))
	assert.Equal(t, TypeAttendanceApply, m.Type)
	assert.Equal(t, `[{"a":"x|y"}]`, string(m.Body))

	bare := deserialize("no-type")
	assert.Empty(t, bare.Type)
	assert.Equal(t, "no-type", string(bare.Body))
}

func TestInMemory(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, Message{Type: "a", Body: []byte("1")}))
	require.NoError(t, q.Publish(ctx, Message{Type: "b", Body: []byte("2")}))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", next(t, ch).Type)
	assert.Equal(t, "b", next(t, ch).Type)
}

func TestRedisQueueFIFO(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := NewRedisQueue(client, "test:jobs")
	q.wait = 100 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, Message{Type: TypeAttendanceApply, Body: []byte("first")}))
	require.NoError(t, q.Publish(ctx, Message{Type: TypeAttendanceApply, Body: []byte("second")}))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", string(next(t, ch).Body))
	assert.Equal(t, "second", string(next(t, ch).Body))
}
