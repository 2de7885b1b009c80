package simulation

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("logger init: " + err.Error() + "\n")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func fastConfig() *Config {
	cfg := DefaultConfig()
	cfg.CaptureDuration = 300 * time.Millisecond
	cfg.WaitTimeout = 10 * time.Second
	cfg.Workers = 2
	return cfg
}

func TestConfig(t *testing.T) {
	convey.Convey("Given the default config", t, func() {
		cfg := DefaultConfig()

		convey.Convey("Then it is valid and targets strong ghosts", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
			convey.So(cfg.Kind, convey.ShouldEqual, model.KindStrong)
			convey.So(cfg.Location, convey.ShouldEqual, model.DefaultLocations()[0].Name)
		})

		convey.Convey("Then the rules carry the capture duration override", func() {
			rules := cfg.Rules()
			convey.So(rules.StrongCaptureDurationMs, convey.ShouldEqual, DefaultCaptureDuration.Milliseconds())
			convey.So(rules.CommonCaptureDurationMs, convey.ShouldEqual, DefaultCaptureDuration.Milliseconds())
			convey.So(rules.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("When agents stand far from their ghost", func() {
			cfg.SpreadMeters = 40
			rules := cfg.Rules()

			convey.Convey("Then the radii widen to keep teammates in range", func() {
				convey.So(rules.ProximityRadiusMeters, convey.ShouldEqual, 81)
				convey.So(rules.CaptureRadiusMeters, convey.ShouldEqual, 50)
			})
		})

		convey.Convey("When fields are out of range", func() {
			for _, mutate := range []func(*Config){
				func(c *Config) { c.Teams = 0 },
				func(c *Config) { c.TeamSize = -1 },
				func(c *Config) { c.Kind = "boss" },
				func(c *Config) { c.SpreadMeters = -1 },
				func(c *Config) { c.WaitTimeout = 0 },
			} {
				bad := DefaultConfig()
				mutate(bad)
				convey.So(errors.Is(bad.Validate(), ErrInvalidConfig), convey.ShouldBeTrue)
			}
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a fast simulation", t, func() {
		ctx := context.Background()
		cfg := fastConfig()

		convey.Convey("When two teams of two hunt strong ghosts", func() {
			err := Run(ctx, cfg)

			convey.Convey("Then every capture completes and pays out", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a lone hunter faces a strong ghost", func() {
			cfg.Teams = 1
			cfg.TeamSize = 1
			err := Run(ctx, cfg)

			convey.Convey("Then the capture is refused and nothing is paid", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})

		convey.Convey("When solo hunters chase common ghosts", func() {
			cfg.Kind = model.KindCommon
			cfg.Teams = 3
			cfg.TeamSize = 1
			err := Run(ctx, cfg)

			convey.Convey("Then each captures alone", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the location is unknown", func() {
			cfg.Location = "nowhere"
			err := Run(ctx, cfg)

			convey.Convey("Then the run fails before spawning", func() {
				convey.So(errors.Is(err, ErrUnknownLocation), convey.ShouldBeTrue)
			})
		})
	})
}

func TestRunStats(t *testing.T) {
	convey.Convey("Given a completed strong capture", t, func() {
		ctx := context.Background()
		cfg := fastConfig()
		cfg.Teams = 1
		svc, err := startService(ctx, cfg, cfg.Rules())
		convey.So(err, convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		baseURL, shutdown, err := serveAPI(svc)
		convey.So(err, convey.ShouldBeNil)
		defer shutdown()
		client := newHTTPClient(baseURL, time.Second)
		stats := &Stats{}

		teams, err := spawnGhosts(ctx, client, cfg, stats)
		convey.So(err, convey.ShouldBeNil)
		defer leaveAll(teams)
		convey.So(joinTeams(ctx, svc, cfg, cfg.Rules(), teams), convey.ShouldBeNil)
		convey.So(startCaptures(ctx, teams, stats), convey.ShouldBeNil)
		convey.So(waitForCaptures(ctx, cfg, teams), convey.ShouldBeNil)

		convey.Convey("Then the steps account for every agent", func() {
			convey.So(stats.GhostsSpawned, convey.ShouldEqual, 1)
			convey.So(stats.CapturesStarted, convey.ShouldEqual, 2)
			convey.So(stats.CapturesRefused, convey.ShouldEqual, 0)
			convey.So(verifyResults(ctx, client, cfg, cfg.Rules(), teams, stats), convey.ShouldBeNil)
			convey.So(stats.CapturesCompleted, convey.ShouldEqual, 1)
			convey.So(stats.RewardsVerified, convey.ShouldEqual, 2)

			user, err := client.UserStats(ctx, "hunter-01-1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(user, convey.ShouldResemble, model.UserStats{Points: 12, Captures: 1})
		})
	})
}

func TestWaitUntil(t *testing.T) {
	convey.Convey("Given a condition that never holds", t, func() {
		never := func() bool { return false }

		convey.Convey("Then waitUntil times out", func() {
			err := waitUntil(context.Background(), 50*time.Millisecond, never)
			convey.So(errors.Is(err, ErrWaitTimeout), convey.ShouldBeTrue)
		})

		convey.Convey("Then a cancelled context wins", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			convey.So(waitUntil(ctx, time.Second, never), convey.ShouldEqual, context.Canceled)
		})
	})
}
