package store

import (
	"sync"

	"github.com/okian/ghostcoop/pkg/metrics"
)

// subscription owns an unbounded ordered queue of changes and the goroutine
// draining it. Writers never block on slow handlers.
type subscription struct {
	id      uint64
	segs    []string // nil with watch set: every write
	watch   bool
	deliver func(Change)

	mu      sync.Mutex
	pending []Change
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSubscription(id uint64, segs []string, watch bool, deliver func(Change)) *subscription {
	return &subscription{
		id:      id,
		segs:    segs,
		watch:   watch,
		deliver: deliver,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (sub *subscription) wants(c *Change) bool {
	return sub.watch || related(sub.segs, c.segs)
}

func (sub *subscription) push(c Change) { //nolint:gocritic // hugeParam: changes are queued by value
	sub.mu.Lock()
	sub.pending = append(sub.pending, c)
	sub.mu.Unlock()
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscription) stop() {
	sub.once.Do(func() { close(sub.done) })
}

func (sub *subscription) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}
		for {
			sub.mu.Lock()
			batch := sub.pending
			sub.pending = nil
			sub.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, c := range batch {
				select {
				case <-sub.done:
					return
				default:
				}
				sub.deliver(c)
			}
		}
	}
}

// eventsFor derives the events a subscription of class t at segs observes for c.
func eventsFor(segs []string, t EventType, c *Change) []Event {
	before := lookup(c.before, segs)
	after := lookup(c.after, segs)
	path := joinPath(segs)

	if t == ValueChanged {
		if c.initial || !sameValue(before, after) {
			return []Event{{
				Type:     ValueChanged,
				Seq:      c.Seq,
				Snapshot: Snapshot{path: path, value: after},
				Previous: Snapshot{path: path, value: before},
			}}
		}
		return nil
	}

	var keys []string
	if len(c.segs) > len(segs) {
		keys = []string{c.segs[len(segs)]}
	} else {
		keys = unionKeys(before, after)
	}

	var out []Event
	for _, k := range keys {
		childPath := joinPath(append(append([]string{}, segs...), k))
		o := lookup(before, []string{k})
		n := lookup(after, []string{k})
		var et EventType
		switch {
		case o == nil && n != nil:
			et = ChildAdded
		case o != nil && n == nil:
			et = ChildRemoved
		case o != nil && n != nil && !sameValue(o, n):
			et = ChildChanged
		default:
			continue
		}
		if et != t {
			continue
		}
		ev := Event{
			Type:     et,
			Seq:      c.Seq,
			Snapshot: Snapshot{path: childPath, value: n},
			Previous: Snapshot{path: childPath, value: o},
		}
		if et == ChildRemoved {
			ev.Snapshot.value = o
		}
		out = append(out, ev)
	}
	return out
}

func eventDeliverer(segs []string, t EventType, h Handler) func(Change) {
	return func(c Change) { //nolint:gocritic // hugeParam: see push
		for _, ev := range eventsFor(segs, t, &c) {
			metrics.RecordStoreEvent(string(ev.Type))
			h(ev)
		}
	}
}
