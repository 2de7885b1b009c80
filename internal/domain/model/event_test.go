package model_test

import (
	"errors"
	"testing"
	"time"

	model "github.com/okian/ghostcoop/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestEvent(t *testing.T) {
	convey.Convey("Given a trigger event", t, func() {
		ev := model.Event{
			Seq:      7,
			Template: model.CaptureAttemptTemplate,
			Path:     "ghosts/g1/captureAttempts/alice",
			Params:   map[string]string{"ghostId": "g1", "playerId": "alice"},
			Op:       model.OpCreated,
			After:    map[string]any{"playerId": "alice", "displayName": "Alice", "timestamp": float64(1700000000000)},
		}

		convey.Convey("Then its id combines sequence and node path", func() {
			convey.So(ev.ID(), convey.ShouldEqual, "7|ghosts/g1/captureAttempts/alice")
		})

		convey.Convey("Then its shard key is the owning entity", func() {
			convey.So(ev.ShardKey(), convey.ShouldEqual, "ghosts/g1")
			short := model.Event{Path: "ghosts"}
			convey.So(short.ShardKey(), convey.ShouldEqual, "ghosts")
		})

		convey.Convey("Then params are addressable by name", func() {
			convey.So(ev.Param("playerId"), convey.ShouldEqual, "alice")
			convey.So(ev.Param("missing"), convey.ShouldEqual, "")
		})

		convey.Convey("When decoding the new value", func() {
			var att model.CaptureAttempt
			err := ev.DecodeAfter(&att)

			convey.Convey("Then numbers land in typed fields", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(att.PlayerID, convey.ShouldEqual, "alice")
				convey.So(att.DisplayName, convey.ShouldEqual, "Alice")
				convey.So(att.Timestamp, convey.ShouldEqual, int64(1700000000000))
			})
		})

		convey.Convey("When decoding into a mismatched type", func() {
			var n int
			err := ev.DecodeAfter(&n)

			convey.Convey("Then an error is returned", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestGhostState(t *testing.T) {
	convey.Convey("Given a strong ghost", t, func() {
		rules := model.DefaultRules()
		now := time.UnixMilli(1_700_000_000_000)
		g := rules.NewGhost("g1", "Praça Central", -27.63, -48.67, model.KindStrong, now)

		convey.Convey("Then rule-derived fields are set", func() {
			convey.So(g.Points, convey.ShouldEqual, 25)
			convey.So(g.CaptureDurationMs, convey.ShouldEqual, 8000)
			convey.So(g.CreatedAt, convey.ShouldEqual, now.UnixMilli())
			convey.So(g.State(), convey.ShouldEqual, model.StateIdle)
		})

		convey.Convey("When participants attempt", func() {
			g.PlayersCapturing = map[string]model.CaptureAttempt{
				"bob":   {PlayerID: "bob"},
				"alice": {PlayerID: "alice"},
			}

			convey.Convey("Then it is attempting with sorted participants", func() {
				convey.So(g.State(), convey.ShouldEqual, model.StateAttempting)
				convey.So(g.ParticipantIDs(), convey.ShouldResemble, []string{"alice", "bob"})
			})

			convey.Convey("And when the capture starts, progress follows elapsed time", func() {
				g.IsBeingCaptured = true
				g.CaptureStartedAt = now.UnixMilli()

				convey.So(g.State(), convey.ShouldEqual, model.StateInProgress)
				convey.So(g.Progress(now), convey.ShouldEqual, 0)
				convey.So(g.Progress(now.Add(4*time.Second)), convey.ShouldAlmostEqual, 50, 0.001)
				convey.So(g.Progress(now.Add(20*time.Second)), convey.ShouldEqual, 100)
			})

			convey.Convey("And when captured, the state is terminal", func() {
				g.CapturedBy = []string{"alice", "bob"}
				g.IsBeingCaptured = true

				convey.So(g.State(), convey.ShouldEqual, model.StateCaptured)
			})
		})

		convey.Convey("Then progress is zero until the server confirms the capture", func() {
			g.CaptureStartedAt = now.UnixMilli()
			convey.So(g.Progress(now.Add(time.Hour)), convey.ShouldEqual, 0)
		})
	})
}

func TestRules(t *testing.T) {
	convey.Convey("Given the default rules", t, func() {
		r := model.DefaultRules()

		convey.Convey("Then thresholds, points and durations follow the kind", func() {
			convey.So(r.Required(model.KindCommon), convey.ShouldEqual, 1)
			convey.So(r.Required(model.KindStrong), convey.ShouldEqual, 2)
			convey.So(r.PointsFor(model.KindCommon), convey.ShouldEqual, 10)
			convey.So(r.PointsFor(model.KindStrong), convey.ShouldEqual, 25)
			convey.So(r.DurationMsFor(model.KindCommon), convey.ShouldEqual, 5000)
			convey.So(r.DurationMsFor(model.KindStrong), convey.ShouldEqual, 8000)
			convey.So(r.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("When a value is not positive", func() {
			r.StrongPoints = 0

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(r.Validate(), model.ErrInvalidRules), convey.ShouldBeTrue)
			})
		})
	})
}

func TestAvatarAndNotification(t *testing.T) {
	convey.Convey("Given player ids", t, func() {
		convey.Convey("Then avatars are deterministic", func() {
			convey.So(model.AvatarFor("player_abc"), convey.ShouldEqual, model.AvatarFor("player_abc"))
			// "a" hashes to 97, 97 % 10 == 7
			convey.So(model.AvatarFor("a"), convey.ShouldEqual, "👩‍🔬")
			convey.So(model.AvatarFor(""), convey.ShouldEqual, "👻")
		})

		convey.Convey("Then notifications route only to listed participants", func() {
			n := model.Notification{Type: model.NotificationCaptureStarted, Players: []string{"alice", "bob"}}
			convey.So(n.Includes("alice"), convey.ShouldBeTrue)
			convey.So(n.Includes("carol"), convey.ShouldBeFalse)
		})
	})
}
