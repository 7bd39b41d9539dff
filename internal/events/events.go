package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Change describes a write to a backing table. Consumers treat it as a hint to refetch.
type Change struct {
	Table string    `json:"table"`
	Op    string    `json:"op"`
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
}

// Operations carried by Change.Op.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Publisher emits change notifications.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Subscriber delivers notifications until ctx is cancelled, then closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Change, error)
}

// Bus is the abstraction over different backends.
type Bus interface {
	Publisher
	Subscriber
}

// InMemory fans notifications out to every live subscriber in the same process.
// A subscriber that is not keeping up loses notifications; since consumers refetch
// everything, one pending notification already covers the ones dropped behind it.
type InMemory struct {
	size int
	mu   sync.Mutex
	subs map[chan Change]struct{}
}

// NewInMemory creates a bus whose subscribers buffer up to size notifications.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 16
	}
	return &InMemory{size: size, subs: make(map[chan Change]struct{})}
}

// Publish delivers c to all subscribers without blocking.
func (b *InMemory) Publish(ctx context.Context, c Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for the lifetime of ctx.
func (b *InMemory) Subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, b.size)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// RedisBus publishes notifications over Redis Pub/Sub so every API replica hears every write.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus builds a bus on the given channel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "portal:changes"
	}
	return &RedisBus{client: client, channel: channel}
}

// Publish sends c as JSON.
func (b *RedisBus) Publish(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe streams decoded notifications. Undecodable payloads are still delivered as a
// bare Change so the consumer refetches.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Change, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription confirmation so no publish after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan Change)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					c = Change{}
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
