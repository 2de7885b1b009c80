// Package store implements the shared state store: a hierarchical tree of
// JSON-shaped values addressed by slash paths, with change subscriptions.
//
// Values are normalized on write (numbers become float64, structs become
// maps) and empty maps are pruned, so a node with no children does not exist.
// Writing nil deletes. Subscribers receive events asynchronously, in write
// order, on a goroutine owned by the subscription.
package store

import (
	"context"
	"time"
)

// EventType selects which changes a subscription observes.
type EventType string

// Subscription event classes.
const (
	ValueChanged EventType = "value"
	ChildAdded   EventType = "childAdded"
	ChildChanged EventType = "childChanged"
	ChildRemoved EventType = "childRemoved"
)

// ParseEventType maps a wire name to an EventType.
func ParseEventType(s string) (EventType, bool) {
	switch EventType(s) {
	case ValueChanged, ChildAdded, ChildChanged, ChildRemoved:
		return EventType(s), true
	case "":
		return ValueChanged, true
	}
	return "", false
}

// Event is delivered to subscription handlers. For child events Snapshot is
// the child node; Previous holds its value before the write.
type Event struct {
	Type     EventType
	Seq      uint64
	Snapshot Snapshot
	Previous Snapshot
}

// Handler receives subscription events.
type Handler func(Event)

// TxFunc computes a node's next value from its current one. Returning an
// error wrapping ErrAborted leaves the node untouched. It runs under the
// store lock and must not call back into the store.
type TxFunc func(current Snapshot) (any, error)

// Change is one committed write as seen by Watch consumers. Path is the
// write's root; Before and After resolve any path against the whole tree
// immediately before and after the write.
type Change struct {
	Seq  uint64
	Path string
	At   time.Time

	segs    []string
	before  any
	after   any
	initial bool
}

// Before returns the value at path before the write.
func (c *Change) Before(path string) Snapshot {
	segs := splitPath(path)
	return Snapshot{path: joinPath(segs), value: lookup(c.before, segs)}
}

// After returns the value at path after the write.
func (c *Change) After(path string) Snapshot {
	segs := splitPath(path)
	return Snapshot{path: joinPath(segs), value: lookup(c.after, segs)}
}

// Store is the shared state store contract.
type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	Set(ctx context.Context, path string, value any) error
	// Update applies fields (keys are child paths relative to path) as one write.
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	// Push stores value under a generated, time-ordered child key.
	Push(ctx context.Context, path string, value any) (string, error)
	// Query returns the children of path whose field equals value, ordered by key.
	Query(ctx context.Context, path, field string, value any) ([]Snapshot, error)
	// Transact replaces the node at path with fn's result atomically.
	Transact(ctx context.Context, path string, fn TxFunc) (Snapshot, error)
	// Subscribe registers h for events of class t at path. The returned
	// function cancels the subscription.
	Subscribe(path string, t EventType, h Handler) (func(), error)
	// Watch registers h for every committed write.
	Watch(h func(Change)) (func(), error)
	Close() error
}
