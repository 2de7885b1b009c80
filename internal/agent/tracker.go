package agent

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/domain/geo"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
	"github.com/okian/ghostcoop/pkg/metrics"
)

const defaultPositionInterval = 5 * time.Second

// TrackerStore is the subset of the state store the tracker needs.
type TrackerStore interface {
	Update(ctx context.Context, path string, fields map[string]any) error
	Subscribe(path string, t store.EventType, h store.Handler) (func(), error)
}

// NearbyPlayer is another player within the proximity radius.
type NearbyPlayer struct {
	ID          string
	DisplayName string
	Avatar      string
	IsCapturing bool
	Distance    float64 // meters, rounded
}

// Tracker publishes the local player's position on a fixed interval and
// keeps the set of players within the proximity radius. Every players
// update rebuilds the set from scratch.
type Tracker struct {
	store    TrackerStore
	geo      Geolocator
	playerID string
	radius   float64
	interval time.Duration
	now      func() time.Time
	onChange func([]NearbyPlayer)

	mu      sync.RWMutex
	self    *model.Position
	players map[string]model.Player
	nearby  map[string]NearbyPlayer

	runMu       sync.Mutex
	stopChan    chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup
	logger      logger.Logger
}

// NewTracker creates a tracker for playerID. onChange may be nil.
func NewTracker(s TrackerStore, g Geolocator, playerID string, radius float64, onChange func([]NearbyPlayer)) *Tracker {
	return &Tracker{
		store:    s,
		geo:      g,
		playerID: playerID,
		radius:   radius,
		interval: defaultPositionInterval,
		now:      time.Now,
		onChange: onChange,
		players:  make(map[string]model.Player),
		nearby:   make(map[string]NearbyPlayer),
		logger:   logger.Get().Named("tracker"),
	}
}

// Start subscribes to the players collection and begins position polling.
func (t *Tracker) Start(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.stopChan != nil {
		return nil
	}
	unsub, err := t.store.Subscribe(model.PlayersRoot, store.ValueChanged, func(e store.Event) { //nolint:gocritic // hugeParam: Handler signature
		var players map[string]model.Player
		if err := e.Snapshot.Decode(&players); err != nil {
			t.logger.Warn(ctx, "malformed players snapshot", logger.Error(err))
			return
		}
		t.Rebuild(players)
	})
	if err != nil {
		return err
	}
	t.unsubscribe = unsub
	t.stopChan = make(chan struct{})
	stop := t.stopChan

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := t.Tick(ctx); err != nil {
					t.logger.Warn(ctx, "position update failed", logger.Error(err))
				}
			}
		}
	}()
	return nil
}

// Stop ends polling and the players subscription.
func (t *Tracker) Stop() {
	t.runMu.Lock()
	if t.stopChan != nil {
		close(t.stopChan)
		t.stopChan = nil
	}
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.runMu.Unlock()
	t.wg.Wait()

	t.mu.Lock()
	t.nearby = make(map[string]NearbyPlayer)
	t.players = make(map[string]model.Player)
	t.mu.Unlock()
}

// Tick reads one position sample and writes it to the player's record. A
// geolocation failure skips the tick without error.
func (t *Tracker) Tick(ctx context.Context) error {
	pos, err := t.geo.Position(ctx)
	if err != nil {
		t.logger.Debug(ctx, "no position this tick", logger.Error(err))
		return nil
	}
	now := model.Millis(t.now())
	if pos.Timestamp == 0 {
		pos.Timestamp = now
	}
	t.mu.Lock()
	t.self = &pos
	t.mu.Unlock()

	return t.store.Update(ctx, model.PlayerPath(t.playerID), map[string]any{
		"position": pos,
		"lastSeen": now,
	})
}

// Position returns the last published position, or nil.
func (t *Tracker) Position() *model.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.self == nil {
		return nil
	}
	p := *t.self
	return &p
}

// Rebuild recomputes the nearby set from a full players snapshot. Without a
// known own position the previous set is kept.
func (t *Tracker) Rebuild(players map[string]model.Player) {
	t.mu.Lock()
	t.players = players
	self := t.self
	if self == nil {
		if me, ok := players[t.playerID]; ok && me.Position != nil {
			self = me.Position
		}
	}
	if self == nil {
		t.mu.Unlock()
		return
	}
	nearby := make(map[string]NearbyPlayer)
	for id, p := range players {
		if id == t.playerID || p.Position == nil {
			continue
		}
		d := geo.Distance(self.Lat, self.Lon, p.Position.Lat, p.Position.Lon)
		if d > t.radius {
			continue
		}
		nearby[id] = NearbyPlayer{
			ID:          id,
			DisplayName: p.DisplayName,
			Avatar:      p.Avatar,
			IsCapturing: p.IsCapturing,
			Distance:    math.Round(d),
		}
	}
	t.nearby = nearby
	list := t.listLocked()
	t.mu.Unlock()
	metrics.RecordNearbyPlayers(len(list))

	if t.onChange != nil {
		t.onChange(list)
	}
}

// Nearby returns nearby players ordered by distance, then id.
func (t *Tracker) Nearby() []NearbyPlayer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.listLocked()
}

// Count returns the number of nearby players.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nearby)
}

// IsNearby reports whether id is within the proximity radius.
func (t *Tracker) IsNearby(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nearby[id]
	return ok
}

func (t *Tracker) listLocked() []NearbyPlayer {
	out := make([]NearbyPlayer, 0, len(t.nearby))
	for _, p := range t.nearby {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out
}
