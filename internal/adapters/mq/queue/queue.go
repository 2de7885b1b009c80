// Package queue defines the contract for enqueuing and consuming trigger events.
//
// Events are spread over lanes by a hash of their shard key, so deliveries
// for one entity stay in order while different entities proceed in parallel.
package queue

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 10000
	defaultLanes         = 4
)

// Event represents the payload type flowing through the queue.
type Event = model.Event

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an event to the queue.
	// Returns false if the queue is full or closed and the event was not enqueued.
	Enqueue(ctx context.Context, e Event) bool

	// Dequeue returns a channel that will receive events as they become available.
	// The channel will be closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Event

	// Len returns the current number of queued events.
	Len(ctx context.Context) int

	// Close gracefully shuts down the queue.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

var _ Queue = (*InMemoryQueue)(nil)

// InMemoryQueue implements Queue using a buffered channel. It is one lane.
type InMemoryQueue struct {
	events   chan Event
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	cfg := options{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &InMemoryQueue{
		events:   make(chan Event, cfg.capacity),
		capacity: cfg.capacity,
	}
}

// Enqueue adds an event to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) bool { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError("closed")
		return false
	}

	select {
	case q.events <- e:
		metrics.RecordQueueEnqueue()
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError("context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError("full")
		return false
	}
}

// Dequeue returns the lane channel. Events are removed as they are received.
func (q *InMemoryQueue) Dequeue(_ context.Context) <-chan Event {
	return q.events
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.events)
}

// Capacity returns the lane capacity.
func (q *InMemoryQueue) Capacity() int {
	return q.capacity
}

// Close gracefully shuts down the queue. Buffered events remain readable.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.events)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// ShardedQueue routes events to lanes by xxhash of Event.ShardKey.
type ShardedQueue struct {
	lanes []*InMemoryQueue
}

// NewShardedQueue creates lanes queues sharing the lane options.
func NewShardedQueue(lanes int, opts ...Option) *ShardedQueue {
	if lanes < 1 {
		lanes = defaultLanes
	}
	s := &ShardedQueue{lanes: make([]*InMemoryQueue, lanes)}
	for i := range s.lanes {
		s.lanes[i] = NewInMemoryQueue(opts...)
	}
	metrics.UpdateQueueCapacity(s.Capacity())
	metrics.UpdateQueueSize(0)
	return s
}

// LaneFor returns the lane index for a shard key.
func (s *ShardedQueue) LaneFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(s.lanes)))
}

// Enqueue adds e to the lane owning its shard key.
func (s *ShardedQueue) Enqueue(ctx context.Context, e Event) bool { //nolint:gocritic // hugeParam: see InMemoryQueue.Enqueue
	return s.lanes[s.LaneFor(e.ShardKey())].Enqueue(ctx, e)
}

// Lane returns lane i. Each lane is consumed by exactly one worker.
func (s *ShardedQueue) Lane(i int) Queue {
	return s.lanes[i]
}

// Lanes returns the number of lanes.
func (s *ShardedQueue) Lanes() int {
	return len(s.lanes)
}

// Len returns the number of queued events across lanes.
func (s *ShardedQueue) Len(ctx context.Context) int {
	n := 0
	for _, l := range s.lanes {
		n += l.Len(ctx)
	}
	return n
}

// Capacity returns the total capacity across lanes.
func (s *ShardedQueue) Capacity() int {
	n := 0
	for _, l := range s.lanes {
		n += l.Capacity()
	}
	return n
}

// Close closes every lane.
func (s *ShardedQueue) Close() error {
	for _, l := range s.lanes {
		_ = l.Close()
	}
	return nil
}
