package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/ghostcoop/internal/domain/model"
)

func attempt(ghost, player string, seq uint64) model.Event {
	return model.Event{
		Seq:      seq,
		Template: model.CaptureAttemptTemplate,
		Path:     model.CaptureAttemptPath(ghost, player),
		Params:   map[string]string{"ghostId": ghost, "playerId": player},
		Op:       model.OpCreated,
	}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, attempt("g1", "alice", 1)) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	ev := <-q.Dequeue(ctx)
	if ev.Param("playerId") != "alice" {
		t.Errorf("expected alice, got %v", ev.Param("playerId"))
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, attempt("g1", "a", 1)) || !q.Enqueue(ctx, attempt("g1", "b", 2)) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, attempt("g1", "c", 3)) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	q.Enqueue(ctx, attempt("g1", "a", 1))
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed")
	}
	if q.Enqueue(ctx, attempt("g1", "b", 2)) {
		t.Error("expected enqueue after close to fail")
	}

	var drained int
	for range q.Dequeue(ctx) {
		drained++
	}
	if drained != 1 {
		t.Errorf("expected buffered event to drain, got %d", drained)
	}
}

func TestShardedQueue_PerEntityOrder(t *testing.T) {
	s := NewShardedQueue(4, WithCapacity(1000))
	ctx := context.Background()

	// Every delivery for one ghost lands on the same lane regardless of player.
	lane := s.LaneFor("ghosts/g7")
	for i := 0; i < 20; i++ {
		e := attempt("g7", fmt.Sprintf("p%d", i), uint64(i))
		if got := s.LaneFor(e.ShardKey()); got != lane {
			t.Fatalf("event %d routed to lane %d, want %d", i, got, lane)
		}
		if !s.Enqueue(ctx, e) {
			t.Fatalf("enqueue %d failed", i)
		}
	}

	if s.Len(ctx) != 20 || s.Lane(lane).Len(ctx) != 20 {
		t.Fatalf("expected all 20 events on lane %d", lane)
	}

	ch := s.Lane(lane).Dequeue(ctx)
	for i := 0; i < 20; i++ {
		if ev := <-ch; ev.Seq != uint64(i) {
			t.Fatalf("out of order: got seq %d, want %d", ev.Seq, i)
		}
	}
}

func TestShardedQueue_ConcurrentAccess(t *testing.T) {
	s := NewShardedQueue(8, WithCapacity(1000))
	ctx := context.Background()

	if s.Lanes() != 8 || s.Capacity() != 8000 {
		t.Fatalf("unexpected shape: lanes=%d capacity=%d", s.Lanes(), s.Capacity())
	}

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Enqueue(ctx, attempt(fmt.Sprintf("g%d", g), "p", uint64(i)))
			}
		}(g)
	}
	wg.Wait()

	if l := s.Len(ctx); l != 1000 {
		t.Errorf("expected 1000 queued events, got %d", l)
	}
	_ = s.Close()
	for i := 0; i < s.Lanes(); i++ {
		if !s.Lane(i).IsClosed() {
			t.Errorf("lane %d not closed", i)
		}
	}
}
