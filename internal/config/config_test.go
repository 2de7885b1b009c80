package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/ghostcoop/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.EventQueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.PositionUpdateInterval, convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.SweeperEnabled, convey.ShouldBeFalse)
			convey.So(cfg.AttemptTimeout, convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.MetricsEnabled, convey.ShouldBeTrue)
			convey.So(cfg.MetricsRefreshInterval, convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then the rules carry the stock game constants", func() {
			r := cfg.Rules()
			convey.So(r.ProximityRadiusMeters, convey.ShouldEqual, 50)
			convey.So(r.StrongRequiredParticipants, convey.ShouldEqual, 2)
			convey.So(r.CommonCaptureDurationMs, convey.ShouldEqual, 5000)
			convey.So(r.StrongCaptureDurationMs, convey.ShouldEqual, 8000)
			convey.So(r.CommonPoints, convey.ShouldEqual, 10)
			convey.So(r.StrongPoints, convey.ShouldEqual, 25)
			convey.So(r.MaxChatMessages, convey.ShouldEqual, 50)
		})

		convey.Convey("Then the three stock locations are sorted by name", func() {
			locs := cfg.SpawnLocations()
			convey.So(len(locs), convey.ShouldEqual, 3)
			convey.So(locs[0].Name, convey.ShouldEqual, "Casa do Vô")
			convey.So(locs[1].Name, convey.ShouldEqual, "Parque da Cidade")
			convey.So(locs[2].Name, convey.ShouldEqual, "Praça Central")
			convey.So(locs[2].Lat, convey.ShouldEqual, -27.630913)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("When a rule is not positive", func() {
			cfg.StrongPoints = 0

			convey.Convey("Then validation fails with ErrInvalidConfig", func() {
				err := cfg.Validate()
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the strong probability is out of range", func() {
			cfg.StrongGhostProbability = 1.5

			convey.Convey("Then validation fails", func() {
				convey.So(cfg.Validate(), convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the spawner is enabled without an interval", func() {
			cfg.SpawnEnabled = true
			cfg.SpawnInterval = 0

			convey.Convey("Then validation fails", func() {
				convey.So(cfg.Validate(), convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the metrics refresh interval is zero", func() {
			cfg.MetricsRefreshInterval = 0

			convey.Convey("Then validation fails", func() {
				convey.So(cfg.Validate(), convey.ShouldNotBeNil)
			})
		})
	})
}
