// Package agent implements the per-client side of cooperative capture:
// presence, proximity, capture admission and progress, chat and
// notification routing. It talks to the shared state store only.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/domain/geo"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
)

const defaultProgressInterval = 250 * time.Millisecond

// Agent errors.
var (
	ErrNotJoined  = errors.New("agent not joined")
	ErrNoLocation = errors.New("no location selected")
)

// Store is the subset of the state store an agent needs.
type Store interface {
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Push(ctx context.Context, path string, value any) (string, error)
	Query(ctx context.Context, path, field string, value any) ([]store.Snapshot, error)
	Subscribe(path string, t store.EventType, h store.Handler) (func(), error)
}

// capture is the local view of one capture this player opted into.
type capture struct {
	unsubscribe func()
	ghost       model.Ghost
	seen        bool
	markerSent  bool
}

// Agent is one player's session.
type Agent struct {
	store     Store
	rules     model.Rules
	geo       Geolocator
	presenter Presenter
	now       func() time.Time

	positionInterval time.Duration
	progressInterval time.Duration

	mu          sync.Mutex
	player      *model.Player
	tracker     *Tracker
	location    string
	chat        []model.ChatMessage
	captures    map[string]*capture
	unsubscribe []func()
	chatUnsub   func()
	stopChan    chan struct{}
	wg          sync.WaitGroup
	logger      logger.Logger
}

// New creates an agent. Join starts the session.
func New(s Store, rules model.Rules, g Geolocator, opts ...Option) *Agent {
	a := &Agent{
		store:            s,
		rules:            rules,
		geo:              g,
		presenter:        Nop{},
		now:              time.Now,
		positionInterval: defaultPositionInterval,
		progressInterval: defaultProgressInterval,
		captures:         make(map[string]*capture),
		logger:           logger.Get().Named("agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Join writes the player record, starts position tracking and subscribes to
// notifications. Joining twice is a no-op.
func (a *Agent) Join(ctx context.Context, id, displayName string) error {
	a.mu.Lock()
	if a.player != nil {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if displayName == "" {
		displayName = "Ghost Hunter"
	}
	now := model.Millis(a.now())
	p := model.Player{
		ID:          id,
		DisplayName: displayName,
		Avatar:      model.AvatarFor(id),
		LastSeen:    now,
		JoinedAt:    now,
	}
	if err := a.store.Set(ctx, model.PlayerPath(id), p); err != nil {
		return fmt.Errorf("join %s: %w", id, err)
	}

	tr := NewTracker(a.store, a.geo, id, a.rules.ProximityRadiusMeters, a.presenter.NearbyChanged)
	tr.interval = a.positionInterval
	tr.now = a.now
	if err := tr.Start(ctx); err != nil {
		_ = a.store.Delete(ctx, model.PlayerPath(id))
		return fmt.Errorf("join %s: %w", id, err)
	}

	unsub, err := a.store.Subscribe(model.NotificationsRoot, store.ChildAdded, func(e store.Event) { //nolint:gocritic // hugeParam: Handler signature
		a.handleNotification(ctx, e.Snapshot, now)
	})
	if err != nil {
		tr.Stop()
		_ = a.store.Delete(ctx, model.PlayerPath(id))
		return fmt.Errorf("join %s: %w", id, err)
	}

	a.mu.Lock()
	a.player = &p
	a.tracker = tr
	a.unsubscribe = append(a.unsubscribe, unsub)
	a.stopChan = make(chan struct{})
	stop := a.stopChan
	a.mu.Unlock()

	a.wg.Add(1)
	go a.progressLoop(ctx, stop)

	a.logger.Info(ctx, "joined", logger.String("player", id), logger.String("name", displayName))
	return nil
}

// Leave stops tracking, drops every subscription and deletes the player record.
func (a *Agent) Leave(ctx context.Context) error {
	a.mu.Lock()
	if a.player == nil {
		a.mu.Unlock()
		return nil
	}
	id := a.player.ID
	tr := a.tracker
	unsubs := a.unsubscribe
	if a.chatUnsub != nil {
		unsubs = append(unsubs, a.chatUnsub)
	}
	for _, c := range a.captures {
		if c.unsubscribe != nil {
			unsubs = append(unsubs, c.unsubscribe)
		}
	}
	close(a.stopChan)
	a.player = nil
	a.tracker = nil
	a.unsubscribe = nil
	a.chatUnsub = nil
	a.stopChan = nil
	a.captures = make(map[string]*capture)
	a.chat = nil
	a.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	tr.Stop()
	a.wg.Wait()

	if err := a.store.Delete(ctx, model.PlayerPath(id)); err != nil {
		return fmt.Errorf("leave %s: %w", id, err)
	}
	a.logger.Info(ctx, "left", logger.String("player", id))
	return nil
}

// PlayerID returns the joined player's id, or "".
func (a *Agent) PlayerID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.player == nil {
		return ""
	}
	return a.player.ID
}

// Tracker returns the proximity tracker of the current session, or nil.
func (a *Agent) Tracker() *Tracker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracker
}

// CanStartCooperativeCapture is the client-side admission hint: common ghosts
// always, strong ghosts only with enough other players nearby. The
// coordinator makes the authoritative decision.
func (a *Agent) CanStartCooperativeCapture(kind model.Kind) bool {
	a.mu.Lock()
	tr := a.tracker
	a.mu.Unlock()
	if tr == nil {
		return false
	}
	return tr.Count() >= a.rules.Required(kind)-1
}

// NearbyGhosts returns uncaptured ghosts at the current location within the
// capture radius of the player's last known position.
func (a *Agent) NearbyGhosts(ctx context.Context) ([]model.Ghost, error) {
	a.mu.Lock()
	tr, loc := a.tracker, a.location
	a.mu.Unlock()
	if tr == nil {
		return nil, ErrNotJoined
	}
	if loc == "" {
		return nil, ErrNoLocation
	}
	pos := tr.Position()
	if pos == nil {
		return nil, nil
	}
	snaps, err := a.store.Query(ctx, model.GhostsRoot, "location", loc)
	if err != nil {
		return nil, fmt.Errorf("nearby ghosts: %w", err)
	}
	var out []model.Ghost
	for _, snap := range snaps {
		var g model.Ghost
		if err := snap.Decode(&g); err != nil || g.Captured() {
			continue
		}
		if geo.Within(pos.Lat, pos.Lon, g.Lat, g.Lon, a.rules.CaptureRadiusMeters) {
			out = append(out, g)
		}
	}
	return out, nil
}

// StartCapture opts the player into capturing g. It returns false without
// writing when the admission hint refuses.
func (a *Agent) StartCapture(ctx context.Context, g *model.Ghost) (bool, error) {
	a.mu.Lock()
	if a.player == nil {
		a.mu.Unlock()
		return false, ErrNotJoined
	}
	me := *a.player
	tr := a.tracker
	_, active := a.captures[g.ID]
	a.mu.Unlock()

	if !a.CanStartCooperativeCapture(g.Kind) {
		a.presenter.Warn(fmt.Sprintf("%s ghost needs %d players nearby", g.Kind, a.rules.Required(g.Kind)))
		return false, nil
	}

	attempt := model.CaptureAttempt{
		PlayerID:    me.ID,
		DisplayName: me.DisplayName,
		Position:    tr.Position(),
		StartedAt:   model.Millis(a.now()),
	}
	if err := a.store.Set(ctx, model.CaptureAttemptPath(g.ID, me.ID), attempt); err != nil {
		return false, fmt.Errorf("capture attempt %s: %w", g.ID, err)
	}
	if err := a.store.Update(ctx, model.PlayerPath(me.ID), map[string]any{"isCapturing": true}); err != nil {
		a.logger.Warn(ctx, "capturing flag not set", logger.String("ghost", g.ID), logger.Error(err))
	}
	if active {
		return true, nil
	}

	// The entry goes in before subscribing so the initial ghost event, which
	// may already show the capture in progress, is never dropped.
	ghostID := g.ID
	c := &capture{ghost: *g}
	a.mu.Lock()
	if a.player == nil || a.captures[ghostID] != nil {
		a.mu.Unlock()
		return true, nil
	}
	a.captures[ghostID] = c
	a.mu.Unlock()

	unsub, err := a.store.Subscribe(model.GhostPath(ghostID), store.ValueChanged, func(e store.Event) { //nolint:gocritic // hugeParam: Handler signature
		a.handleGhost(ctx, ghostID, e.Snapshot)
	})
	if err != nil {
		a.mu.Lock()
		if a.captures[ghostID] == c {
			delete(a.captures, ghostID)
		}
		a.mu.Unlock()
		return true, fmt.Errorf("follow ghost %s: %w", ghostID, err)
	}
	a.mu.Lock()
	if a.captures[ghostID] == c {
		c.unsubscribe = unsub
		a.mu.Unlock()
		return true, nil
	}
	// Ended or left while subscribing.
	a.mu.Unlock()
	unsub()
	return true, nil
}

// Capturing returns the ids of ghosts the player is following.
func (a *Agent) Capturing() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.captures))
	for id := range a.captures {
		ids = append(ids, id)
	}
	return ids
}

func (a *Agent) handleGhost(ctx context.Context, ghostID string, snap store.Snapshot) { //nolint:gocritic // hugeParam: snapshots are passed by value
	if !snap.Exists() {
		a.endCapture(ctx, ghostID, nil)
		return
	}
	var g model.Ghost
	if err := snap.Decode(&g); err != nil {
		a.logger.Warn(ctx, "malformed ghost", logger.String("ghost", ghostID), logger.Error(err))
		return
	}
	if g.Captured() {
		a.endCapture(ctx, ghostID, g.CapturedBy)
		return
	}
	a.mu.Lock()
	c, ok := a.captures[ghostID]
	if ok {
		c.ghost = g
		c.seen = true
	}
	a.mu.Unlock()
	if ok {
		a.render(ctx, ghostID)
	}
}

// Refresh re-renders progress for every followed capture and writes the
// complete marker once local progress reaches 100%.
func (a *Agent) Refresh(ctx context.Context) {
	for _, id := range a.Capturing() {
		a.render(ctx, id)
	}
}

func (a *Agent) render(ctx context.Context, ghostID string) {
	now := a.now()
	a.mu.Lock()
	c, ok := a.captures[ghostID]
	if !ok || !c.seen || a.player == nil {
		a.mu.Unlock()
		return
	}
	g := c.ghost
	required := a.rules.Required(g.Kind)
	inProgress := g.IsBeingCaptured && len(g.PlayersCapturing) >= required
	progress := 0.0
	if inProgress {
		progress = g.Progress(now)
	}
	writeMarker := inProgress && progress >= 100 && !c.markerSent
	if writeMarker {
		c.markerSent = true
	}
	me := a.player.ID
	a.mu.Unlock()

	participants := make([]model.CaptureAttempt, 0, len(g.PlayersCapturing))
	for _, id := range g.ParticipantIDs() {
		participants = append(participants, g.PlayersCapturing[id])
	}
	a.presenter.CaptureProgress(CaptureView{
		GhostID:      ghostID,
		Kind:         g.Kind,
		Participants: participants,
		Required:     required,
		InProgress:   inProgress,
		Progress:     progress,
	})

	if !writeMarker {
		return
	}
	marker := model.CaptureComplete{PlayerID: me, Timestamp: model.Millis(now)}
	if err := a.store.Set(ctx, model.CaptureCompletePath(ghostID), marker); err != nil {
		a.logger.Warn(ctx, "complete marker not written", logger.String("ghost", ghostID), logger.Error(err))
		a.mu.Lock()
		if c, ok := a.captures[ghostID]; ok {
			c.markerSent = false
		}
		a.mu.Unlock()
		return
	}
	a.logger.Debug(ctx, "capture complete marker written", logger.String("ghost", ghostID))
}

func (a *Agent) endCapture(ctx context.Context, ghostID string, capturedBy []string) {
	a.mu.Lock()
	c, ok := a.captures[ghostID]
	var unsub func()
	if ok {
		delete(a.captures, ghostID)
		unsub = c.unsubscribe
	}
	var me string
	if a.player != nil {
		me = a.player.ID
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	if unsub != nil {
		unsub()
	}
	a.presenter.CaptureEnded(ghostID, capturedBy)
	if me == "" {
		return
	}
	if err := a.store.Update(ctx, model.PlayerPath(me), map[string]any{"isCapturing": false}); err != nil {
		a.logger.Warn(ctx, "capturing flag not reset", logger.String("ghost", ghostID), logger.Error(err))
	}
}

func (a *Agent) handleNotification(ctx context.Context, snap store.Snapshot, joinedAt int64) { //nolint:gocritic // hugeParam: snapshots are passed by value
	var n model.Notification
	if err := snap.Decode(&n); err != nil {
		a.logger.Debug(ctx, "malformed notification", logger.String("key", snap.Key()), logger.Error(err))
		return
	}
	if n.Timestamp < joinedAt {
		return
	}
	me := a.PlayerID()
	if me == "" || !n.Includes(me) {
		return
	}
	a.presenter.Notify(n)
}

func (a *Agent) progressLoop(ctx context.Context, stop <-chan struct{}) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			a.Refresh(ctx)
		}
	}
}
