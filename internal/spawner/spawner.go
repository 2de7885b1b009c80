// Package spawner keeps each configured location stocked with capturable ghosts.
package spawner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
	"github.com/okian/ghostcoop/pkg/metrics"
)

// Default spawner configuration constants.
const (
	defaultInterval           = time.Minute
	defaultMaxPerLocation     = 5
	defaultStrongProbability  = 0.25
	defaultSpawnRadiusDegrees = 0.001
)

// ErrUnknownLocation is returned when spawning at a location that is not configured.
var ErrUnknownLocation = errors.New("unknown location")

// Store is the subset of the state store the spawner needs.
type Store interface {
	Query(ctx context.Context, path, field string, value any) ([]store.Snapshot, error)
	Set(ctx context.Context, path string, value any) error
}

// Spawner creates ghosts around fixed locations.
type Spawner struct {
	store     Store
	rules     model.Rules
	locations map[string]model.Location

	interval       time.Duration
	maxPerLocation int
	strongProb     float64
	radiusDeg      float64
	now            func() time.Time
	rand           func() float64
	newID          func() string

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
	logger   logger.Logger
}

// New creates a Spawner for the given locations.
func New(s Store, rules model.Rules, locations []model.Location, opts ...Option) *Spawner {
	sp := &Spawner{
		store:          s,
		rules:          rules,
		locations:      make(map[string]model.Location, len(locations)),
		interval:       defaultInterval,
		maxPerLocation: defaultMaxPerLocation,
		strongProb:     defaultStrongProbability,
		radiusDeg:      defaultSpawnRadiusDegrees,
		now:            time.Now,
		rand:           rand.Float64,
		newID:          uuid.NewString,
		logger:         logger.Get().Named("spawner"),
	}
	for _, loc := range locations {
		sp.locations[loc.Name] = loc
	}
	for _, opt := range opts {
		opt(sp)
	}
	return sp
}

// Locations returns the configured locations ordered by name.
func (s *Spawner) Locations() []model.Location {
	out := make([]model.Location, 0, len(s.locations))
	for _, loc := range s.locations {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Active counts uncaptured ghosts at a location.
func (s *Spawner) Active(ctx context.Context, name string) (int, error) {
	snaps, err := s.store.Query(ctx, model.GhostsRoot, "location", name)
	if err != nil {
		return 0, fmt.Errorf("query ghosts at %s: %w", name, err)
	}
	n := 0
	for _, snap := range snaps {
		if !snap.Child("capturedBy").Exists() {
			n++
		}
	}
	return n, nil
}

// SpawnAt tops up one location to the per-location maximum and returns the
// ids it created.
func (s *Spawner) SpawnAt(ctx context.Context, name string) ([]string, error) {
	loc, ok := s.locations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocation, name)
	}
	active, err := s.Active(ctx, name)
	if err != nil {
		return nil, err
	}

	var ids []string
	for i := active; i < s.maxPerLocation; i++ {
		kind := model.KindCommon
		if s.rand() < s.strongProb {
			kind = model.KindStrong
		}
		lat := loc.Lat + (s.rand()*2-1)*s.radiusDeg
		lon := loc.Lon + (s.rand()*2-1)*s.radiusDeg
		id := s.newID()
		g := s.rules.NewGhost(id, name, lat, lon, kind, s.now())
		if err := s.store.Set(ctx, model.GhostPath(id), g); err != nil {
			return ids, fmt.Errorf("spawn ghost at %s: %w", name, err)
		}
		metrics.RecordGhostSpawned(string(kind))
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		s.logger.Info(ctx, "ghosts spawned", logger.String("location", name), logger.Int("count", len(ids)))
	}
	return ids, nil
}

// SpawnAll tops up every configured location. A failing location does not
// stop the others.
func (s *Spawner) SpawnAll(ctx context.Context) (int, error) {
	var errs []error
	total := 0
	for _, loc := range s.Locations() {
		ids, err := s.SpawnAt(ctx, loc.Name)
		total += len(ids)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Start runs SpawnAll immediately and then on every interval until Stop or ctx is done.
func (s *Spawner) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopChan != nil {
		return
	}
	s.stopChan = make(chan struct{})
	stop := s.stopChan

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			if _, err := s.SpawnAll(ctx); err != nil {
				s.logger.Warn(ctx, "spawn round failed", logger.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the periodic loop and waits for it to exit.
func (s *Spawner) Stop() {
	s.mu.Lock()
	if s.stopChan != nil {
		close(s.stopChan)
		s.stopChan = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}
