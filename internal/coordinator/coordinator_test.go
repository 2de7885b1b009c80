package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ghostcoop/internal/adapters/mq/queue"
	"github.com/okian/ghostcoop/internal/adapters/mq/worker"
	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/internal/trigger"
	"github.com/okian/ghostcoop/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

var fixedNow = time.UnixMilli(1_700_000_000_000)

type recorderStub struct {
	mu      sync.Mutex
	records []model.CaptureRecord
	err     error
}

func (r *recorderStub) RecordCapture(_ context.Context, rec model.CaptureRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func newFixture() (context.Context, *store.MemoryStore, *Coordinator, *recorderStub) {
	ctx := context.Background()
	s, err := store.NewMemoryStore(ctx)
	So(err, ShouldBeNil)
	rec := &recorderStub{}
	c := New(s, model.DefaultRules(), WithClock(func() time.Time { return fixedNow }), WithRecorder(rec))
	return ctx, s, c, rec
}

func seedGhost(ctx context.Context, s *store.MemoryStore, id string, kind model.Kind) {
	g := model.DefaultRules().NewGhost(id, "park", 40.0, -74.0, kind, fixedNow)
	So(s.Set(ctx, model.GhostPath(id), g), ShouldBeNil)
}

func attemptEvent(ghostID, playerID string) model.Event {
	return model.Event{
		Template: model.CaptureAttemptTemplate,
		Path:     model.CaptureAttemptPath(ghostID, playerID),
		Params:   map[string]string{"ghostId": ghostID, "playerId": playerID},
		Op:       model.OpCreated,
		After: map[string]any{
			"playerId":    playerID,
			"displayName": "Player " + playerID,
			"position":    map[string]any{"lat": 40.0, "lon": -74.0},
		},
	}
}

func completeEvent(ghostID, playerID string) model.Event {
	return model.Event{
		Template: model.CaptureCompleteTemplate,
		Path:     model.CaptureCompletePath(ghostID),
		Params:   map[string]string{"ghostId": ghostID},
		Op:       model.OpCreated,
		After:    map[string]any{"playerId": playerID, "timestamp": float64(model.Millis(fixedNow))},
	}
}

// flakyStore fails transactions on one path.
type flakyStore struct {
	*store.MemoryStore
	failPath string
}

func (f *flakyStore) Transact(ctx context.Context, path string, fn store.TxFunc) (store.Snapshot, error) {
	if path == f.failPath {
		return store.Snapshot{}, errors.New("write timeout")
	}
	return f.MemoryStore.Transact(ctx, path, fn)
}

func readGhost(ctx context.Context, s *store.MemoryStore, id string) model.Ghost {
	snap, err := s.Get(ctx, model.GhostPath(id))
	So(err, ShouldBeNil)
	var g model.Ghost
	So(snap.Decode(&g), ShouldBeNil)
	return g
}

func readNotifications(ctx context.Context, s *store.MemoryStore) []model.Notification {
	snap, err := s.Get(ctx, model.NotificationsRoot)
	So(err, ShouldBeNil)
	var out []model.Notification
	for _, child := range snap.Children() {
		var n model.Notification
		So(child.Decode(&n), ShouldBeNil)
		out = append(out, n)
	}
	return out
}

func readUser(ctx context.Context, s *store.MemoryStore, id string) model.UserStats {
	snap, err := s.Get(ctx, model.UserPath(id))
	So(err, ShouldBeNil)
	var u model.UserStats
	So(snap.Decode(&u), ShouldBeNil)
	return u
}

func TestCaptureStart(t *testing.T) {
	Convey("Given a strong ghost", t, func() {
		ctx, s, c, _ := newFixture()
		defer func() { _ = s.Close() }()
		seedGhost(ctx, s, "g1", model.KindStrong)

		Convey("When a single player attempts", func() {
			So(c.HandleCaptureAttempt(ctx, attemptEvent("g1", "bob")), ShouldBeNil)

			Convey("Then the player is recorded but the capture does not start", func() {
				g := readGhost(ctx, s, "g1")
				So(g.IsBeingCaptured, ShouldBeFalse)
				So(g.State(), ShouldEqual, model.StateAttempting)
				So(g.PlayersCapturing["bob"].StartedAt, ShouldEqual, model.Millis(fixedNow))
				So(g.PlayersCapturing["bob"].DisplayName, ShouldEqual, "Player bob")
				So(readNotifications(ctx, s), ShouldBeEmpty)
			})
		})

		Convey("When a second player attempts", func() {
			So(c.HandleCaptureAttempt(ctx, attemptEvent("g1", "bob")), ShouldBeNil)
			So(c.HandleCaptureAttempt(ctx, attemptEvent("g1", "alice")), ShouldBeNil)

			Convey("Then the capture starts and one notification lists both players", func() {
				g := readGhost(ctx, s, "g1")
				So(g.IsBeingCaptured, ShouldBeTrue)
				So(g.CaptureStartedAt, ShouldEqual, model.Millis(fixedNow))
				ns := readNotifications(ctx, s)
				So(len(ns), ShouldEqual, 1)
				So(ns[0].Type, ShouldEqual, model.NotificationCaptureStarted)
				So(ns[0].Players, ShouldResemble, []string{"alice", "bob"})
				So(c.Stats().Started, ShouldEqual, 1)
			})

			Convey("And a third attempt joins without a second notification", func() {
				So(c.HandleCaptureAttempt(ctx, attemptEvent("g1", "carol")), ShouldBeNil)
				g := readGhost(ctx, s, "g1")
				So(len(g.PlayersCapturing), ShouldEqual, 3)
				So(len(readNotifications(ctx, s)), ShouldEqual, 1)
			})
		})

		Convey("When the ghost does not exist", func() {
			err := c.HandleCaptureAttempt(ctx, attemptEvent("missing", "bob"))

			Convey("Then the attempt is ignored without error", func() {
				So(err, ShouldBeNil)
				snap, _ := s.Get(ctx, model.GhostPath("missing"))
				So(snap.Exists(), ShouldBeFalse)
				So(c.Stats().Rejected, ShouldEqual, 1)
			})
		})

		Convey("When only a client attempt exists under an unknown id", func() {
			So(s.Set(ctx, model.CaptureAttemptPath("ghostless", "bob"), model.CaptureAttempt{PlayerID: "bob"}), ShouldBeNil)
			So(c.HandleCaptureAttempt(ctx, attemptEvent("ghostless", "bob")), ShouldBeNil)

			Convey("Then the node is not treated as a ghost", func() {
				snap, _ := s.Get(ctx, model.GhostPath("ghostless")+"/isBeingCaptured")
				So(snap.Exists(), ShouldBeFalse)
				So(readNotifications(ctx, s), ShouldBeEmpty)
				So(c.Stats().Rejected, ShouldEqual, 1)
			})
		})
	})

	Convey("Given a common ghost", t, func() {
		ctx, s, c, _ := newFixture()
		defer func() { _ = s.Close() }()
		seedGhost(ctx, s, "g2", model.KindCommon)

		Convey("When one player attempts", func() {
			So(c.HandleCaptureAttempt(ctx, attemptEvent("g2", "alice")), ShouldBeNil)

			Convey("Then the capture starts immediately", func() {
				So(readGhost(ctx, s, "g2").IsBeingCaptured, ShouldBeTrue)
				So(len(readNotifications(ctx, s)), ShouldEqual, 1)
			})
		})
	})
}

func TestCaptureComplete(t *testing.T) {
	Convey("Given a strong ghost in progress with two participants", t, func() {
		ctx, s, c, rec := newFixture()
		defer func() { _ = s.Close() }()
		seedGhost(ctx, s, "g1", model.KindStrong)
		So(c.HandleCaptureAttempt(ctx, attemptEvent("g1", "bob")), ShouldBeNil)
		So(c.HandleCaptureAttempt(ctx, attemptEvent("g1", "alice")), ShouldBeNil)
		So(s.Set(ctx, model.UserPath("bob"), map[string]any{"points": 3, "captures": 1, "nickname": "b"}), ShouldBeNil)

		Convey("When a completion marker arrives", func() {
			So(c.HandleCaptureComplete(ctx, completeEvent("g1", "alice")), ShouldBeNil)

			Convey("Then the ghost is terminal and each player gets the floor share", func() {
				g := readGhost(ctx, s, "g1")
				So(g.CapturedBy, ShouldResemble, []string{"alice", "bob"})
				So(g.CapturedAt, ShouldEqual, model.Millis(fixedNow))
				So(g.IsBeingCaptured, ShouldBeFalse)
				So(g.State(), ShouldEqual, model.StateCaptured)

				So(readUser(ctx, s, "alice"), ShouldResemble, model.UserStats{Points: 12, Captures: 1})
				So(readUser(ctx, s, "bob"), ShouldResemble, model.UserStats{Points: 15, Captures: 2})
				nick, _ := s.Get(ctx, model.UserPath("bob")+"/nickname")
				So(nick.Value(), ShouldEqual, "b")

				ns := readNotifications(ctx, s)
				So(len(ns), ShouldEqual, 2)
				So(ns[1].Type, ShouldEqual, model.NotificationCaptureSuccess)
				So(ns[1].PointsEarned, ShouldEqual, 12)
				So(ns[1].GhostKind, ShouldEqual, model.KindStrong)

				So(len(rec.records), ShouldEqual, 1)
				So(rec.records[0].Players, ShouldResemble, []string{"alice", "bob"})
				So(rec.records[0].Location, ShouldEqual, "park")
			})

			Convey("And a duplicate marker changes nothing", func() {
				So(c.HandleCaptureComplete(ctx, completeEvent("g1", "bob")), ShouldBeNil)
				So(readUser(ctx, s, "alice"), ShouldResemble, model.UserStats{Points: 12, Captures: 1})
				So(len(readNotifications(ctx, s)), ShouldEqual, 2)
				So(c.Stats().Captured, ShouldEqual, 1)
			})

			Convey("And a late attempt leaves the terminal fields alone", func() {
				So(c.HandleCaptureAttempt(ctx, attemptEvent("g1", "carol")), ShouldBeNil)
				g := readGhost(ctx, s, "g1")
				So(g.CapturedBy, ShouldResemble, []string{"alice", "bob"})
				So(g.PlayersCapturing, ShouldNotContainKey, "carol")
			})
		})

		Convey("When the history recorder fails", func() {
			rec.err = errors.New("db down")
			err := c.HandleCaptureComplete(ctx, completeEvent("g1", "alice"))

			Convey("Then the capture still completes", func() {
				So(err, ShouldBeNil)
				g := readGhost(ctx, s, "g1")
				So(g.Captured(), ShouldBeTrue)
			})
		})
	})

	Convey("Given a strong ghost with one attempting player", t, func() {
		ctx, s, c, _ := newFixture()
		defer func() { _ = s.Close() }()
		seedGhost(ctx, s, "g1", model.KindStrong)
		So(c.HandleCaptureAttempt(ctx, attemptEvent("g1", "bob")), ShouldBeNil)

		Convey("When a premature marker arrives", func() {
			So(c.HandleCaptureComplete(ctx, completeEvent("g1", "bob")), ShouldBeNil)

			Convey("Then it is ignored", func() {
				g := readGhost(ctx, s, "g1")
				So(g.Captured(), ShouldBeFalse)
				snap, _ := s.Get(ctx, model.UserPath("bob"))
				So(snap.Exists(), ShouldBeFalse)
			})
		})
	})
}

func TestRewardFailure(t *testing.T) {
	Convey("Given a strong capture in progress where one reward write fails", t, func() {
		ctx := context.Background()
		mem, err := store.NewMemoryStore(ctx)
		So(err, ShouldBeNil)
		defer func() { _ = mem.Close() }()
		fs := &flakyStore{MemoryStore: mem, failPath: model.UserPath("alice")}
		c := New(fs, model.DefaultRules(), WithClock(func() time.Time { return fixedNow }))
		seedGhost(ctx, mem, "g1", model.KindStrong)
		So(c.HandleCaptureAttempt(ctx, attemptEvent("g1", "alice")), ShouldBeNil)
		So(c.HandleCaptureAttempt(ctx, attemptEvent("g1", "bob")), ShouldBeNil)

		Convey("When the completion marker is handled", func() {
			err := c.HandleCaptureComplete(ctx, completeEvent("g1", "bob"))

			Convey("Then the other participant is still paid and the failure is reported", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "reward alice")
				So(readUser(ctx, mem, "bob"), ShouldResemble, model.UserStats{Points: 12, Captures: 1})
				g := readGhost(ctx, mem, "g1")
				So(g.Captured(), ShouldBeTrue)
				So(len(readNotifications(ctx, mem)), ShouldEqual, 2)
				So(c.Stats().PointsPaid, ShouldEqual, 12)
			})
		})
	})
}

func TestConcurrentAttempts(t *testing.T) {
	Convey("Given a strong ghost", t, func() {
		ctx, s, c, _ := newFixture()
		defer func() { _ = s.Close() }()
		seedGhost(ctx, s, "g1", model.KindStrong)

		Convey("When many players attempt at once", func() {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_ = c.HandleCaptureAttempt(ctx, attemptEvent("g1", fmt.Sprintf("p%d", i)))
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one start notification is emitted", func() {
				So(len(readGhost(ctx, s, "g1").PlayersCapturing), ShouldEqual, 8)
				So(len(readNotifications(ctx, s)), ShouldEqual, 1)
			})
		})
	})
}

func TestHousekeeping(t *testing.T) {
	Convey("Given a coordinator with a small chat cap", t, func() {
		ctx := context.Background()
		s, err := store.NewMemoryStore(ctx)
		So(err, ShouldBeNil)
		defer func() { _ = s.Close() }()
		rules := model.DefaultRules()
		rules.MaxChatMessages = 3
		c := New(s, rules, WithClock(func() time.Time { return fixedNow }))

		Convey("When a fifth message lands", func() {
			for i := 1; i <= 5; i++ {
				So(s.Set(ctx, model.ChatPath("park")+fmt.Sprintf("/m%d", i), map[string]any{"message": "hi", "timestamp": i}), ShouldBeNil)
			}
			ev := model.Event{
				Template: model.ChatMessageTemplate,
				Path:     model.ChatPath("park") + "/m5",
				Params:   map[string]string{"location": "park", "messageId": "m5"},
				Op:       model.OpCreated,
				After:    map[string]any{"message": "hi", "timestamp": float64(5)},
			}
			So(c.HandleChatMessage(ctx, ev), ShouldBeNil)

			Convey("Then only the newest messages remain", func() {
				snap, _ := s.Get(ctx, model.ChatPath("park"))
				So(snap.ChildKeys(), ShouldResemble, []string{"m3", "m4", "m5"})
				So(c.Stats().ChatTrims, ShouldEqual, 2)
			})
		})

		Convey("When a message arrives without a timestamp", func() {
			So(s.Set(ctx, model.ChatPath("park")+"/m1", map[string]any{"message": "hi"}), ShouldBeNil)
			ev := model.Event{
				Path:   model.ChatPath("park") + "/m1",
				Params: map[string]string{"location": "park", "messageId": "m1"},
				After:  map[string]any{"message": "hi"},
			}
			So(c.HandleChatMessage(ctx, ev), ShouldBeNil)

			Convey("Then the server stamps it", func() {
				snap, _ := s.Get(ctx, model.ChatPath("park")+"/m1/timestamp")
				So(snap.Value(), ShouldEqual, float64(model.Millis(fixedNow)))
			})
		})

		Convey("When a position update arrives", func() {
			So(s.Set(ctx, model.PlayerPath("alice"), map[string]any{"displayName": "A", "position": map[string]any{"lat": 1}}), ShouldBeNil)
			ev := model.Event{Params: map[string]string{"playerId": "alice"}, After: map[string]any{"lat": float64(1)}}
			So(c.HandlePlayerPosition(ctx, ev), ShouldBeNil)

			Convey("Then lastSeen is stamped", func() {
				snap, _ := s.Get(ctx, model.PlayerPath("alice")+"/lastSeen")
				So(snap.Value(), ShouldEqual, float64(model.Millis(fixedNow)))
			})
		})

		Convey("When the player already left", func() {
			ev := model.Event{Params: map[string]string{"playerId": "gone"}, After: map[string]any{"lat": float64(1)}}
			So(c.HandlePlayerPosition(ctx, ev), ShouldBeNil)

			Convey("Then no record is recreated", func() {
				snap, _ := s.Get(ctx, model.PlayerPath("gone"))
				So(snap.Exists(), ShouldBeFalse)
			})
		})
	})
}

func TestChatHistoryBound(t *testing.T) {
	Convey("Given a coordinator with the stock chat bound", t, func() {
		ctx, s, c, _ := newFixture()
		defer func() { _ = s.Close() }()
		So(c.rules.MaxChatMessages, ShouldEqual, 50)

		Convey("When 55 messages have been posted to a location", func() {
			for i := 1; i <= 55; i++ {
				So(s.Set(ctx, model.ChatPath("park")+fmt.Sprintf("/m%02d", i), map[string]any{"message": "boo", "timestamp": i}), ShouldBeNil)
			}
			ev := model.Event{
				Template: model.ChatMessageTemplate,
				Path:     model.ChatPath("park") + "/m55",
				Params:   map[string]string{"location": "park", "messageId": "m55"},
				Op:       model.OpCreated,
				After:    map[string]any{"message": "boo", "timestamp": float64(55)},
			}
			So(c.HandleChatMessage(ctx, ev), ShouldBeNil)

			Convey("Then the 50 newest remain and the 5 oldest are removed", func() {
				snap, _ := s.Get(ctx, model.ChatPath("park"))
				keys := snap.ChildKeys()
				So(keys, ShouldHaveLength, 50)
				So(keys[0], ShouldEqual, "m06")
				So(keys[49], ShouldEqual, "m55")
				for i := 1; i <= 5; i++ {
					old, _ := s.Get(ctx, model.ChatPath("park")+fmt.Sprintf("/m%02d", i))
					So(old.Exists(), ShouldBeFalse)
				}
				So(c.Stats().ChatTrims, ShouldEqual, 5)
			})
		})
	})
}

func TestPipeline(t *testing.T) {
	Convey("Given the store wired through the router and worker pool", t, func() {
		ctx, cancelCtx := context.WithCancel(context.Background())
		defer cancelCtx()
		s, err := store.NewMemoryStore(ctx)
		So(err, ShouldBeNil)
		defer func() { _ = s.Close() }()

		q := queue.NewShardedQueue(4, queue.WithCapacity(64))
		r := trigger.NewRouter(q)
		c := New(s, model.DefaultRules())
		So(c.Register(r), ShouldBeNil)
		detach, err := r.Attach(ctx, s)
		So(err, ShouldBeNil)
		defer detach()
		pool := worker.NewPool(q, r)
		pool.Start(ctx)
		defer func() { _ = pool.Shutdown(context.Background()) }()

		seedGhost(ctx, s, "g1", model.KindStrong)

		Convey("When two players attempt and one marks completion", func() {
			So(s.Set(ctx, model.CaptureAttemptPath("g1", "alice"), model.CaptureAttempt{PlayerID: "alice"}), ShouldBeNil)
			So(s.Set(ctx, model.CaptureAttemptPath("g1", "bob"), model.CaptureAttempt{PlayerID: "bob"}), ShouldBeNil)
			So(waitFor(func() bool {
				snap, _ := s.Get(ctx, model.GhostPath("g1")+"/isBeingCaptured")
				return snap.Value() == true
			}), ShouldBeTrue)
			So(s.Set(ctx, model.CaptureCompletePath("g1"), model.CaptureComplete{PlayerID: "bob", Timestamp: 1}), ShouldBeNil)

			Convey("Then the capture completes exactly once", func() {
				So(waitFor(func() bool {
					snap, _ := s.Get(ctx, model.UserPath("bob"))
					return snap.Exists()
				}), ShouldBeTrue)
				g := readGhost(ctx, s, "g1")
				So(g.CapturedBy, ShouldResemble, []string{"alice", "bob"})
				So(readUser(ctx, s, "alice").Points, ShouldEqual, 12)
				So(waitFor(func() bool { return len(readNotifications(ctx, s)) == 2 }), ShouldBeTrue)
			})
		})

		Convey("When an attempt and a marker target a ghost that was never spawned", func() {
			So(s.Set(ctx, model.CaptureAttemptPath("nope", "alice"), model.CaptureAttempt{PlayerID: "alice"}), ShouldBeNil)
			So(waitFor(func() bool { return c.Stats().Rejected == 1 }), ShouldBeTrue)
			So(s.Set(ctx, model.CaptureCompletePath("nope"), model.CaptureComplete{PlayerID: "alice", Timestamp: 1}), ShouldBeNil)

			Convey("Then nothing is captured and nobody is paid", func() {
				So(waitFor(func() bool { return c.Stats().Rejected == 2 }), ShouldBeTrue)
				snap, _ := s.Get(ctx, model.GhostPath("nope")+"/capturedBy")
				So(snap.Exists(), ShouldBeFalse)
				user, _ := s.Get(ctx, model.UserPath("alice"))
				So(user.Exists(), ShouldBeFalse)
				So(readNotifications(ctx, s), ShouldBeEmpty)
				So(c.Stats().Captured, ShouldEqual, 0)
			})
		})
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
