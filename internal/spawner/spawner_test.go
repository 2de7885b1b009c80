package spawner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func sequence(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func TestSpawner(t *testing.T) {
	convey.Convey("Given a spawner with one location", t, func() {
		ctx := context.Background()
		s, err := store.NewMemoryStore(ctx)
		convey.So(err, convey.ShouldBeNil)
		defer func() { _ = s.Close() }()

		park := model.Location{Name: "park", Lat: 10, Lon: 20}
		draws := []float64{0.1, 0.5, 0.5}
		i := 0
		sp := New(s, model.DefaultRules(), []model.Location{park},
			WithMaxPerLocation(3),
			WithIDGenerator(sequence("g")),
			WithRand(func() float64 {
				v := draws[i%len(draws)]
				i++
				return v
			}),
		)

		convey.Convey("When the location is empty", func() {
			ids, err := sp.SpawnAt(ctx, "park")

			convey.Convey("Then it is filled to the cap near the base coordinates", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ids, convey.ShouldResemble, []string{"g1", "g2", "g3"})
				snap, _ := s.Get(ctx, model.GhostPath("g1"))
				var g model.Ghost
				convey.So(snap.Decode(&g), convey.ShouldBeNil)
				convey.So(g.Kind, convey.ShouldEqual, model.KindStrong)
				convey.So(g.Points, convey.ShouldEqual, 25)
				convey.So(g.Location, convey.ShouldEqual, "park")
				convey.So(g.Lat, convey.ShouldAlmostEqual, 10, 0.001)
				convey.So(g.Lon, convey.ShouldAlmostEqual, 20, 0.001)
			})
		})

		convey.Convey("When some ghosts were already captured", func() {
			_, err := sp.SpawnAt(ctx, "park")
			convey.So(err, convey.ShouldBeNil)
			convey.So(s.Set(ctx, model.GhostPath("g1")+"/capturedBy", []string{"alice"}), convey.ShouldBeNil)
			ids, err := sp.SpawnAt(ctx, "park")

			convey.Convey("Then only the captured slot is refilled", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ids, convey.ShouldResemble, []string{"g4"})
				n, _ := sp.Active(ctx, "park")
				convey.So(n, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When spawning at an unknown location", func() {
			_, err := sp.SpawnAt(ctx, "moon")

			convey.Convey("Then ErrUnknownLocation is returned", func() {
				convey.So(errors.Is(err, ErrUnknownLocation), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the periodic loop runs", func() {
			sp.interval = 10 * time.Millisecond
			sp.Start(ctx)
			time.Sleep(30 * time.Millisecond)
			sp.Stop()

			convey.Convey("Then the location stays at the cap", func() {
				n, err := sp.Active(ctx, "park")
				convey.So(err, convey.ShouldBeNil)
				convey.So(n, convey.ShouldEqual, 3)
			})
		})
	})
}
