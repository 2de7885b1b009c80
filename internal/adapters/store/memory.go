package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ghostcoop/pkg/logger"
	"github.com/okian/ghostcoop/pkg/metrics"
)

// Default store configuration constants.
const (
	defaultSnapshotInterval = 30 * time.Second
)

// MemoryStore is an in-process Store. The tree is persistent: every write
// builds a new root by path copying, so changes can carry both roots to
// subscribers without copying or locking.
type MemoryStore struct {
	mu     sync.Mutex
	root   any
	seq    uint64
	closed bool

	subs   map[uint64]*subscription
	nextID uint64
	subsWG sync.WaitGroup

	now    func() time.Time
	keygen func() string
	logger logger.Logger

	snapshotPath     string
	snapshotInterval time.Duration
	bgWG             sync.WaitGroup
	stopChan         chan struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs a store. When a snapshot path is configured the
// store restores from it if the file exists, then saves periodically and on Close.
func NewMemoryStore(ctx context.Context, opts ...Option) (*MemoryStore, error) {
	s := &MemoryStore{
		subs:             make(map[uint64]*subscription),
		now:              time.Now,
		keygen:           newPushKey,
		logger:           logger.Get().Named("store"),
		snapshotInterval: defaultSnapshotInterval,
		stopChan:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.snapshotPath != "" {
		if err := s.LoadSnapshot(s.snapshotPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		s.startPeriodicSnapshots(ctx)
	}
	return s, nil
}

func newPushKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Get returns the node at path.
func (s *MemoryStore) Get(ctx context.Context, path string) (Snapshot, error) {
	segs, err := parsePath(path)
	if err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrClosed
	}
	return Snapshot{path: joinPath(segs), value: lookup(s.root, segs)}, nil
}

// Set replaces the node at path. A nil value deletes it.
func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	segs, err := parsePath(path)
	if err != nil {
		metrics.RecordStoreWriteError("set")
		return err
	}
	v, err := normalize(value)
	if err != nil {
		metrics.RecordStoreWriteError("set")
		return err
	}
	return s.write(ctx, "set", segs, func(root any) (any, error) {
		return setIn(root, segs, v), nil
	})
}

// Update writes each field, keyed by a path relative to path, as one change.
// Overlapping field paths are rejected.
func (s *MemoryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	segs, err := parsePath(path)
	if err != nil {
		metrics.RecordStoreWriteError("update")
		return err
	}
	type field struct {
		segs  []string
		value any
	}
	parsed := make([]field, 0, len(fields))
	for rel, val := range fields {
		fs, err := parsePath(rel)
		if err != nil || len(fs) == 0 {
			metrics.RecordStoreWriteError("update")
			return fmt.Errorf("%w: update field %q", ErrInvalidPath, rel)
		}
		v, err := normalize(val)
		if err != nil {
			metrics.RecordStoreWriteError("update")
			return err
		}
		parsed = append(parsed, field{segs: append(append([]string{}, segs...), fs...), value: v})
	}
	sort.Slice(parsed, func(i, j int) bool { return joinPath(parsed[i].segs) < joinPath(parsed[j].segs) })
	for i := 1; i < len(parsed); i++ {
		if hasPrefix(parsed[i].segs, parsed[i-1].segs) {
			metrics.RecordStoreWriteError("update")
			return fmt.Errorf("%w: overlapping update fields %q and %q", ErrInvalidPath,
				joinPath(parsed[i-1].segs), joinPath(parsed[i].segs))
		}
	}
	return s.write(ctx, "update", segs, func(root any) (any, error) {
		for _, f := range parsed {
			root = setIn(root, f.segs, f.value)
		}
		return root, nil
	})
}

// Delete removes the node at path.
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	segs, err := parsePath(path)
	if err != nil {
		metrics.RecordStoreWriteError("delete")
		return err
	}
	return s.write(ctx, "delete", segs, func(root any) (any, error) {
		return setIn(root, segs, nil), nil
	})
}

// Push stores value under a new time-ordered key and returns the key.
func (s *MemoryStore) Push(ctx context.Context, path string, value any) (string, error) {
	segs, err := parsePath(path)
	if err != nil {
		metrics.RecordStoreWriteError("push")
		return "", err
	}
	v, err := normalize(value)
	if err != nil {
		metrics.RecordStoreWriteError("push")
		return "", err
	}
	key := s.keygen()
	child := append(append([]string{}, segs...), key)
	if err := s.write(ctx, "push", child, func(root any) (any, error) {
		return setIn(root, child, v), nil
	}); err != nil {
		return "", err
	}
	return key, nil
}

// Query returns children of path whose field (a relative path) equals value.
func (s *MemoryStore) Query(ctx context.Context, path, field string, value any) ([]Snapshot, error) {
	parent, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	fs, err := parsePath(field)
	if err != nil || len(fs) == 0 {
		return nil, fmt.Errorf("%w: query field %q", ErrInvalidPath, field)
	}
	want, err := normalize(value)
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	for _, child := range parent.Children() {
		if sameValue(lookup(child.value, fs), want) {
			out = append(out, child)
		}
	}
	return out, nil
}

// Transact runs fn against the current node and commits its result under
// the store lock, so no other write can interleave.
func (s *MemoryStore) Transact(ctx context.Context, path string, fn TxFunc) (Snapshot, error) {
	segs, err := parsePath(path)
	if err != nil {
		metrics.RecordStoreWriteError("transact")
		return Snapshot{}, err
	}
	var committed Snapshot
	err = s.write(ctx, "transact", segs, func(root any) (any, error) {
		cur := Snapshot{path: joinPath(segs), value: lookup(root, segs)}
		next, err := fn(cur)
		if err != nil {
			committed = cur
			return nil, err
		}
		v, err := normalize(next)
		if err != nil {
			committed = cur
			return nil, err
		}
		committed = Snapshot{path: cur.path, value: v}
		return setIn(root, segs, v), nil
	})
	switch {
	case err == nil:
		metrics.RecordStoreTransaction("committed")
	case errors.Is(err, ErrAborted):
		metrics.RecordStoreTransaction("aborted")
	default:
		metrics.RecordStoreTransaction("failed")
	}
	return committed, err
}

// write applies mutate to the root under the lock and fans the change out.
// Writes that leave the node at segs unchanged emit nothing.
func (s *MemoryStore) write(ctx context.Context, op string, segs []string, mutate func(root any) (any, error)) error {
	if err := ctx.Err(); err != nil {
		metrics.RecordStoreWriteError(op)
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		metrics.RecordStoreWriteError(op)
		return ErrClosed
	}

	before := s.root
	after, err := mutate(before)
	if err != nil {
		if !errors.Is(err, ErrAborted) {
			metrics.RecordStoreWriteError(op)
		}
		return err
	}
	if sameValue(lookup(before, segs), lookup(after, segs)) {
		return nil
	}

	s.root = after
	s.seq++
	c := Change{Seq: s.seq, Path: joinPath(segs), At: s.now(), segs: segs, before: before, after: after}
	for _, sub := range s.subs {
		if sub.wants(&c) {
			sub.push(c)
		}
	}
	metrics.RecordStoreWrite(op)
	return nil
}

// Subscribe registers h for class t events at path. Value subscribers
// immediately receive the current value and child-added subscribers one
// event per existing child.
func (s *MemoryStore) Subscribe(path string, t EventType, h Handler) (func(), error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	if _, ok := ParseEventType(string(t)); !ok || t == "" {
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	return s.addSubscription(segs, false, eventDeliverer(segs, t, h), true)
}

// Watch registers h for every committed write, in commit order.
func (s *MemoryStore) Watch(h func(Change)) (func(), error) {
	return s.addSubscription(nil, true, h, false)
}

func (s *MemoryStore) addSubscription(segs []string, watch bool, deliver func(Change), initial bool) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.nextID++
	sub := newSubscription(s.nextID, segs, watch, deliver)
	s.subs[sub.id] = sub
	if initial {
		sub.push(Change{Seq: s.seq, Path: joinPath(segs), At: s.now(), after: s.root, initial: true})
	}
	s.subsWG.Add(1)
	go sub.run(&s.subsWG)
	metrics.UpdateStoreSubscriptions(len(s.subs))

	return func() {
		s.mu.Lock()
		delete(s.subs, sub.id)
		metrics.UpdateStoreSubscriptions(len(s.subs))
		s.mu.Unlock()
		sub.stop()
	}, nil
}

// Seq returns the sequence number of the last committed write.
func (s *MemoryStore) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Subscriptions returns the number of live subscriptions and watchers.
func (s *MemoryStore) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close stops subscriptions and background snapshots, writing a final
// snapshot when persistence is enabled. It must not be called from a handler.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, sub := range s.subs {
		sub.stop()
		delete(s.subs, id)
	}
	s.mu.Unlock()

	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	s.bgWG.Wait()
	s.subsWG.Wait()
	metrics.UpdateStoreSubscriptions(0)

	if s.snapshotPath != "" {
		return s.SaveSnapshot(s.snapshotPath)
	}
	return nil
}
