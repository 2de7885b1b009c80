package simulation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/ghostcoop/internal/adapters/http/api"
	"github.com/okian/ghostcoop/internal/agent"
	service "github.com/okian/ghostcoop/internal/app"
	"github.com/okian/ghostcoop/internal/domain/geo"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/internal/spawner"
	"github.com/okian/ghostcoop/pkg/logger"
)

// Run errors.
var (
	ErrUnknownLocation = errors.New("unknown location")
	ErrWaitTimeout     = errors.New("timed out waiting")
	ErrVerification    = errors.New("reward verification failed")
)

// member is one simulated player.
type member struct {
	id       string
	agent    *agent.Agent
	recorder *recorder
	started  bool
}

// team is the group of agents assigned to one ghost.
type team struct {
	ghost   model.Ghost
	members []*member
}

// Run executes one complete simulation.
func Run(ctx context.Context, config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	log := logger.Get().Named("simulation")
	stats := &Stats{
		StartTime: time.Now(),
		Teams:     config.Teams,
		Agents:    config.Teams * config.TeamSize,
	}
	rules := config.Rules()

	log.Info(ctx, "starting ghostcoop capture simulation",
		logger.String("location", config.Location),
		logger.Int("teams", config.Teams),
		logger.Int("teamSize", config.TeamSize),
		logger.String("kind", string(config.Kind)),
		logger.Duration("captureDuration", config.CaptureDuration),
		logger.Int("required", rules.Required(config.Kind)))

	// Step 1: Start the service
	svc, err := startService(ctx, config, rules)
	if err != nil {
		return fmt.Errorf("service start failed: %w", err)
	}
	defer func() {
		if err := svc.Stop(context.Background()); err != nil {
			log.Warn(ctx, "service stop failed", logger.Error(err))
		}
	}()

	// Step 2: Serve the API and check its health
	baseURL, shutdown, err := serveAPI(svc)
	if err != nil {
		return fmt.Errorf("api server failed: %w", err)
	}
	defer shutdown()
	client := newHTTPClient(baseURL, config.Timeout)
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}
	log.Info(ctx, "service is healthy", logger.String("baseURL", baseURL))

	// Step 3: Spawn one ghost per team
	teams, err := spawnGhosts(ctx, client, config, stats)
	if err != nil {
		return fmt.Errorf("ghost spawn failed: %w", err)
	}

	// Step 4: Join every agent next to its ghost
	defer leaveAll(teams)
	if err := joinTeams(ctx, svc, config, rules, teams); err != nil {
		return fmt.Errorf("agent join failed: %w", err)
	}

	// Step 5: Every agent opts into its team's capture
	if err := startCaptures(ctx, teams, stats); err != nil {
		return fmt.Errorf("capture start failed: %w", err)
	}

	// Step 6: Wait for the captures the rules allow
	if config.TeamSize >= rules.Required(config.Kind) {
		if err := waitForCaptures(ctx, config, teams); err != nil {
			return fmt.Errorf("capture wait failed: %w", err)
		}
	}

	// Step 7: Verify ghosts and rewards over HTTP
	verr := verifyResults(ctx, client, config, rules, teams, stats)

	for _, t := range teams {
		for _, m := range t.members {
			stats.Notifications += m.recorder.notificationCount()
		}
	}
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)

	if verr != nil {
		return verr
	}
	log.Info(ctx, "simulation completed successfully")
	return nil
}

// startService builds a service with a single location and no background spawning.
func startService(ctx context.Context, config *Config, rules model.Rules) (*service.Service, error) {
	var loc *model.Location
	for _, l := range model.DefaultLocations() {
		if l.Name == config.Location {
			loc = &l
			break
		}
	}
	if loc == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocation, config.Location)
	}
	strongProb := 0.0
	if config.Kind == model.KindStrong {
		strongProb = 1
	}
	svc := service.New(
		service.WithWorkerCount(config.Workers),
		service.WithRules(rules),
		service.WithLocations([]model.Location{*loc}),
		service.WithSpawner(false,
			spawner.WithMaxPerLocation(config.Teams),
			spawner.WithStrongProbability(strongProb),
		),
	)
	if err := svc.Start(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

// serveAPI serves the service's API on a loopback port.
func serveAPI(svc *service.Service) (string, func(), error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return "", nil, err
	}
	srv := &http.Server{
		Handler:           api.NewServer(svc.Store(), svc,
			api.WithSpawner(svc.Spawner()),
			api.WithLeaderboard(svc.Leaderboard()),
		).Routes(),
		ReadHeaderTimeout: DefaultHTTPTimeout,
	}
	go func() { _ = srv.Serve(ln) }()
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultHTTPTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return "http://" + ln.Addr().String(), shutdown, nil
}

// spawnGhosts spawns through the API and reads each ghost back.
func spawnGhosts(ctx context.Context, client *HTTPClient, config *Config, stats *Stats) ([]*team, error) {
	ids, err := client.Spawn(ctx, config.Location)
	if err != nil {
		return nil, err
	}
	if len(ids) != config.Teams {
		return nil, fmt.Errorf("spawned %d ghosts, want %d", len(ids), config.Teams)
	}
	stats.GhostsSpawned = len(ids)

	teams := make([]*team, 0, len(ids))
	for _, id := range ids {
		g, err := client.Ghost(ctx, id)
		if err != nil {
			return nil, err
		}
		teams = append(teams, &team{ghost: g})
	}
	logger.Get().Info(ctx, "ghosts spawned", logger.Strings("ids", ids))
	return teams, nil
}

// joinTeams places TeamSize agents on a circle around each ghost, publishes
// their first position and waits until teammates see each other.
func joinTeams(ctx context.Context, svc *service.Service, config *Config, rules model.Rules, teams []*team) error {
	log := logger.Get().Named("simulation")
	for ti, t := range teams {
		for j := 0; j < config.TeamSize; j++ {
			id := fmt.Sprintf("hunter-%02d-%d", ti+1, j+1)
			bearing := float64(j) * fullCircleDegrees / float64(config.TeamSize)
			lat, lon := geo.Offset(t.ghost.Lat, t.ghost.Lon, bearing, config.SpreadMeters)
			pos := model.Position{Lat: lat, Lon: lon, Accuracy: config.SpreadMeters}
			rec := newRecorder(id, log)
			a := agent.New(svc.Store(), rules,
				agent.GeolocatorFunc(func(context.Context) (model.Position, error) { return pos, nil }),
				agent.WithPresenter(rec),
				agent.WithPositionInterval(positionInterval),
				agent.WithProgressInterval(progressInterval),
			)
			t.members = append(t.members, &member{id: id, agent: a, recorder: rec})
		}
	}

	// Sessions outlive the group, so they get ctx rather than a group context.
	var g errgroup.Group
	for ti, t := range teams {
		for _, m := range t.members {
			name := fmt.Sprintf("Hunter %d", ti+1)
			g.Go(func() error {
				if err := m.agent.Join(ctx, m.id, name); err != nil {
					return err
				}
				if err := m.agent.SetLocation(ctx, config.Location); err != nil {
					return err
				}
				return m.agent.Tracker().Tick(ctx)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return waitUntil(ctx, config.WaitTimeout, func() bool {
		for _, t := range teams {
			for _, m := range t.members {
				for _, other := range t.members {
					if other != m && !m.agent.Tracker().IsNearby(other.id) {
						return false
					}
				}
			}
		}
		return true
	})
}

// startCaptures has every agent opt into its team's ghost concurrently.
func startCaptures(ctx context.Context, teams []*team, stats *Stats) error {
	var g errgroup.Group
	for _, t := range teams {
		ghost := t.ghost
		for _, m := range t.members {
			g.Go(func() error {
				ok, err := m.agent.StartCapture(ctx, &ghost)
				if err != nil {
					return fmt.Errorf("%s: %w", m.id, err)
				}
				m.started = ok
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, t := range teams {
		for _, m := range t.members {
			if m.started {
				stats.CapturesStarted++
			} else {
				stats.CapturesRefused++
			}
		}
	}
	logger.Get().Info(ctx, "captures started",
		logger.Int("started", stats.CapturesStarted),
		logger.Int("refused", stats.CapturesRefused))
	return nil
}

// waitForCaptures waits until every agent saw its ghost end.
func waitForCaptures(ctx context.Context, config *Config, teams []*team) error {
	logger.Get().Info(ctx, "waiting for captures to complete")
	return waitUntil(ctx, config.WaitTimeout, func() bool {
		for _, t := range teams {
			for _, m := range t.members {
				if !m.recorder.hasEnded(t.ghost.ID) {
					return false
				}
			}
		}
		return true
	})
}

// leaveAll ends every joined session.
func leaveAll(teams []*team) {
	ctx := context.Background()
	for _, t := range teams {
		for _, m := range t.members {
			if err := m.agent.Leave(ctx); err != nil {
				logger.Get().Warn(ctx, "leave failed", logger.String("player", m.id), logger.Error(err))
			}
		}
	}
}

// waitUntil polls cond until it holds, the timeout passes or ctx is done.
func waitUntil(ctx context.Context, timeout time.Duration, cond func() bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

// displayFinalStats prints the final run statistics.
func displayFinalStats(stats *Stats) {
	var successRate float64
	if checks := stats.RewardsVerified + stats.RewardsMismatched; checks > 0 {
		successRate = float64(stats.RewardsVerified) / float64(checks) * PercentageMultiplier
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("teams", stats.Teams),
		logger.Int("agents", stats.Agents),
		logger.Int("ghostsSpawned", stats.GhostsSpawned),
		logger.Int("capturesStarted", stats.CapturesStarted),
		logger.Int("capturesRefused", stats.CapturesRefused),
		logger.Int("capturesCompleted", stats.CapturesCompleted),
		logger.Int("notifications", stats.Notifications),
		logger.Int("rewardsVerified", stats.RewardsVerified),
		logger.Int("rewardsMismatched", stats.RewardsMismatched),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("successRate", successRate))
}
