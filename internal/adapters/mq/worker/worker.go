// Package worker drains queue lanes and dispatches trigger events to handlers.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/ghostcoop/internal/adapters/mq/queue"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
	"github.com/okian/ghostcoop/pkg/metrics"
)

// Default worker configuration constants.
const (
	poolShutdownTimeout = 30 * time.Second
)

// Event abstracts what workers read off the queue.
type Event = model.Event

// Dispatcher runs the handler registered for an event's template.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events from one lane, one at a time.
type Worker interface {
	// Run starts the worker loop until ctx is canceled, the lane closes, or Shutdown.
	Run(ctx context.Context)

	// Shutdown stops the worker once its current event finishes.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue      Queue
	dispatcher Dispatcher
	name       string

	processed atomic.Int64
	failed    atomic.Int64

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, d Dispatcher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      q,
		dispatcher: d,
		name:       "worker",
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.With(logger.String("worker", w.name))
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			w.process(ctx, ev)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Processed returns the number of events handled without error.
func (w *InMemoryWorker) Processed() int64 { return w.processed.Load() }

// Failed returns the number of events whose handler returned an error.
func (w *InMemoryWorker) Failed() int64 { return w.failed.Load() }

func (w *InMemoryWorker) process(ctx context.Context, ev Event) { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	start := time.Now()
	err := w.dispatcher.Dispatch(ctx, ev)
	metrics.RecordHandlerLatency(ev.Template, float64(time.Since(start).Microseconds())/1000)

	if err != nil {
		w.failed.Add(1)
		metrics.RecordHandlerError(ev.Template)
		// Transient failures are logged and dropped; the next write re-triggers.
		w.logger.Error(ctx, "trigger handler failed",
			logger.String("template", ev.Template),
			logger.String("path", ev.Path),
			logger.Error(err),
		)
		return
	}
	w.processed.Add(1)
}

// Pool runs one worker per queue lane.
type Pool struct {
	workers []*InMemoryWorker
	queue   *queue.ShardedQueue
	logger  logger.Logger
}

// NewPool creates a worker for every lane of q.
func NewPool(q *queue.ShardedQueue, d Dispatcher) *Pool {
	p := &Pool{
		workers: make([]*InMemoryWorker, q.Lanes()),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		p.workers[i] = NewInMemoryWorker(q.Lane(i), d, WithName("lane-"+strconv.Itoa(i)))
	}
	metrics.UpdateWorkerCount(len(p.workers))
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Stats returns processed and failed counts across workers.
func (p *Pool) Stats() (processed, failed int64) {
	for _, w := range p.workers {
		processed += w.Processed()
		failed += w.Failed()
	}
	return processed, failed
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Shutdown closes the queue, lets workers drain what is buffered, and waits.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
