package leaderboard

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func newStore(t *testing.T) *TreapStore {
	t.Helper()
	s := NewTreapStore(context.Background())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTreapStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if count := s.Count(ctx); count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}

	changed, err := s.Set(ctx, "alice", 25, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Error("expected first set to change the ranking")
	}
	if count := s.Count(ctx); count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}

	entry, err := s.Rank(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Rank != 1 || entry.Points != 25 || entry.Captures != 1 {
		t.Errorf("unexpected entry %+v", entry)
	}

	entries, err := s.TopN(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].PlayerID != "alice" {
		t.Errorf("unexpected top entries %+v", entries)
	}
}

func TestTreapStore_Updates(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, _ = s.Set(ctx, "alice", 10, 1)
	_, _ = s.Set(ctx, "bob", 20, 1)

	if changed, _ := s.Set(ctx, "alice", 10, 1); changed {
		t.Error("identical totals should not change the ranking")
	}
	if changed, _ := s.Set(ctx, "alice", 30, 2); !changed {
		t.Error("expected new totals to change the ranking")
	}
	top, _ := s.TopN(ctx, 2)
	if top[0].PlayerID != "alice" || top[1].PlayerID != "bob" {
		t.Errorf("expected alice before bob, got %+v", top)
	}

	// Captures alone do not move a player.
	_, _ = s.Set(ctx, "bob", 20, 5)
	entry, _ := s.Rank(ctx, "bob")
	if entry.Rank != 2 || entry.Captures != 5 {
		t.Errorf("unexpected entry %+v", entry)
	}
	if s.Count(ctx) != 2 {
		t.Errorf("expected 2 players, got %d", s.Count(ctx))
	}
}

func TestTreapStore_TiesAndOrdering(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for id, points := range map[string]int{"carol": 12, "alice": 12, "bob": 25, "dave": 5} {
		_, _ = s.Set(ctx, id, points, 1)
	}

	top, err := s.TopN(ctx, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Entry{
		{Rank: 1, PlayerID: "bob", Points: 25, Captures: 1},
		{Rank: 2, PlayerID: "alice", Points: 12, Captures: 1},
		{Rank: 2, PlayerID: "carol", Points: 12, Captures: 1},
		{Rank: 4, PlayerID: "dave", Points: 5, Captures: 1},
	}
	for i := range want {
		if top[i] != want[i] {
			t.Errorf("position %d: expected %+v, got %+v", i, want[i], top[i])
		}
	}

	for _, e := range want {
		got, err := s.Rank(ctx, e.PlayerID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Rank != e.Rank {
			t.Errorf("%s: expected rank %d, got %d", e.PlayerID, e.Rank, got.Rank)
		}
	}
}

func TestTreapStore_RemoveAndErrors(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if _, err := s.Rank(ctx, "ghost"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.TopN(ctx, 0); err != ErrInvalidLimit {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}

	_, _ = s.Set(ctx, "alice", 10, 1)
	_, _ = s.Set(ctx, "bob", 20, 1)
	if !s.Remove(ctx, "bob") {
		t.Error("expected bob to be removed")
	}
	if s.Remove(ctx, "bob") {
		t.Error("second remove should report false")
	}
	entry, _ := s.Rank(ctx, "alice")
	if entry.Rank != 1 {
		t.Errorf("expected alice to move up, got rank %d", entry.Rank)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.Set(cancelled, "carol", 1, 1); err == nil {
		t.Error("expected cancelled context to fail")
	}
}

func TestTreapStore_MatchesSortedOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	rng := rand.New(rand.NewSource(7))

	points := make(map[string]int)
	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("p%03d", rng.Intn(300))
		p := rng.Intn(50) * 6
		points[id] = p
		_, _ = s.Set(ctx, id, p, 1)
		if rng.Intn(10) == 0 {
			victim := fmt.Sprintf("p%03d", rng.Intn(300))
			s.Remove(ctx, victim)
			delete(points, victim)
		}
	}

	ids := make([]string, 0, len(points))
	for id := range points {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if points[ids[i]] != points[ids[j]] {
			return points[ids[i]] > points[ids[j]]
		}
		return ids[i] < ids[j]
	})

	top, err := s.TopN(ctx, len(ids)+10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != len(ids) {
		t.Fatalf("expected %d entries, got %d", len(ids), len(top))
	}
	for i, id := range ids {
		if top[i].PlayerID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, top[i].PlayerID)
		}
		rank, _ := s.Rank(ctx, id)
		if rank.Rank != top[i].Rank {
			t.Fatalf("%s: Rank says %d, TopN says %d", id, rank.Rank, top[i].Rank)
		}
	}
}

func TestTreapStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("w%d-%d", w, i%20)
				_, _ = s.Set(ctx, id, i, i)
				_, _ = s.Rank(ctx, id)
				_, _ = s.TopN(ctx, 5)
			}
		}(w)
	}
	wg.Wait()

	if count := s.Count(ctx); count != 160 {
		t.Errorf("expected 160 players, got %d", count)
	}
}

func TestTreapStore_Triggers(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	event := func(op model.Op, id string, after any) model.Event {
		return model.Event{
			Template: model.UserStatsTemplate,
			Path:     model.UserPath(id),
			Params:   map[string]string{"userId": id},
			Op:       op,
			After:    after,
		}
	}

	if err := s.HandleUserStats(ctx, event(model.OpCreated, "alice", map[string]any{"points": float64(12), "captures": float64(1)})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, err := s.Rank(ctx, "alice")
	if err != nil || entry.Points != 12 {
		t.Fatalf("expected alice with 12 points, got %+v (%v)", entry, err)
	}

	if err := s.HandleUserStats(ctx, event(model.OpUpdated, "alice", "garbage")); err == nil {
		t.Error("expected malformed record to fail")
	}

	if err := s.HandleUserStats(ctx, event(model.OpDeleted, "alice", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Count(ctx) != 0 {
		t.Error("expected delete to unrank alice")
	}
}

func TestTreapStore_Seed(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	st, err := store.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = st.Close() }()

	n, err := s.Seed(ctx, st)
	if err != nil || n != 0 {
		t.Fatalf("expected empty seed, got %d (%v)", n, err)
	}

	_ = st.Set(ctx, model.UserPath("alice"), model.UserStats{Points: 12, Captures: 1})
	_ = st.Set(ctx, model.UserPath("bob"), model.UserStats{Points: 37, Captures: 2})
	n, err = s.Seed(ctx, st)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 seeded players, got %d (%v)", n, err)
	}
	top, _ := s.TopN(ctx, 1)
	if top[0].PlayerID != "bob" || top[0].Captures != 2 {
		t.Errorf("unexpected leader %+v", top[0])
	}
}
