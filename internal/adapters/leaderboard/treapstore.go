package leaderboard

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/ghostcoop/pkg/logger"
	"github.com/okian/ghostcoop/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: points DESC, then playerID ASC (deterministic). "less" means
// ranks earlier, so in-order traversal yields the leaderboard from best to
// worst. Node priorities come from a hash of the player id, which keeps the
// tree balanced in expectation regardless of how points are distributed.

const defaultMetricsUpdateInterval = 5 * time.Second

// record holds a player's current totals.
type record struct {
	points   int
	captures int
}

// treap node
type node struct {
	id     string
	points int
	prio   uint64
	left   *node
	right  *node
	size   int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aPoints, aID) should appear before (bPoints, bID).
func less(aPoints int, aID string, bPoints int, bID string) bool {
	if aPoints != bPoints {
		return aPoints > bPoints
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, points int) *node {
	if n == nil {
		return &node{id: id, points: points, prio: xxhash.Sum64String(id), size: 1}
	}
	if less(points, id, n.points, n.id) {
		n.left = insert(n.left, id, points)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, points)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, points int) *node {
	if n == nil {
		return nil
	}
	switch {
	case points == n.points && id == n.id:
		// Rotate the higher-priority child up until the node is a leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, points)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, points)
		}
	case less(points, id, n.points, n.id):
		n.left = deleteNode(n.left, id, points)
	default:
		n.right = deleteNode(n.right, id, points)
	}
	fix(n)
	return n
}

// countAbove returns how many ranked players have strictly more points.
func countAbove(n *node, points int) int {
	count := 0
	for n != nil {
		if n.points > points {
			count += nsize(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, records map[string]record, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, records, out)
	if len(*out) < limit {
		rec := records[n.id]
		*out = append(*out, Entry{PlayerID: n.id, Points: rec.points, Captures: rec.captures})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, records, out)
	}
}

// assignRanks gives tied players the same rank and skips the positions they
// share (1, 1, 3). entries must be a prefix of the full ordering.
func assignRanks(entries []Entry) {
	for i := range entries {
		if i > 0 && entries[i].Points == entries[i-1].Points {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}

// TreapStore is the in-memory Store.
type TreapStore struct {
	mu   sync.RWMutex
	root *node
	byID map[string]record

	metricsUpdateInterval time.Duration
	wg                    sync.WaitGroup
	stopChan              chan struct{}
	closeOnce             sync.Once
	logger                logger.Logger
}

// NewTreapStore constructs a treap store and starts its metrics updater.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		byID:                  make(map[string]record),
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		stopChan:              make(chan struct{}),
		logger:                logger.Get().Named("leaderboard"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMetricsUpdater(ctx)
	return s
}

// Close stops the metrics updater.
func (s *TreapStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// Set implements Store.Set with O(log n) expected time.
func (s *TreapStore) Set(ctx context.Context, playerID string, points, captures int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	start := time.Now()
	defer func() {
		metrics.RecordLeaderboardLatency("set", float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[playerID]
	if ok && old.points == points && old.captures == captures {
		return false, nil
	}
	if ok && old.points != points {
		s.root = deleteNode(s.root, playerID, old.points)
	}
	if !ok || old.points != points {
		s.root = insert(s.root, playerID, points)
	}
	s.byID[playerID] = record{points: points, captures: captures}
	return true, nil
}

// Remove implements Store.Remove.
func (s *TreapStore) Remove(_ context.Context, playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[playerID]
	if !ok {
		return false
	}
	s.root = deleteNode(s.root, playerID, old.points)
	delete(s.byID, playerID)
	return true
}

// Rank returns the current rank and totals for a player in O(log n).
func (s *TreapStore) Rank(_ context.Context, playerID string) (Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordLeaderboardLatency("rank", float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[playerID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{
		Rank:     countAbove(s.root, rec.points) + 1,
		PlayerID: playerID,
		Points:   rec.points,
		Captures: rec.captures,
	}, nil
}

// TopN returns the top N entries ordered by points desc.
func (s *TreapStore) TopN(_ context.Context, n int) ([]Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	start := time.Now()
	defer func() {
		metrics.RecordLeaderboardLatency("top", float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, min(n, len(s.byID)))
	collectTopN(s.root, n, s.byID, &out)
	assignRanks(out)
	return out, nil
}

// Count returns the number of ranked players.
func (s *TreapStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *TreapStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateLeaderboardPlayers(s.Count(ctx))
			}
		}
	}()
}
