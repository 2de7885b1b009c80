// Package coordinator arbitrates cooperative captures.
//
// Clients only record intent (capture attempts, completion markers); the
// coordinator reacts to those writes and is the single writer of the terminal
// fields and reward counters. Every handler re-reads the ghost inside a store
// transaction and short-circuits once capturedBy is set, so duplicate, late,
// or re-ordered deliveries are harmless.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/internal/trigger"
	"github.com/okian/ghostcoop/pkg/logger"
	"github.com/okian/ghostcoop/pkg/metrics"
)

// Trigger names used in logs and metrics.
const (
	triggerAttempt  = "capture_attempt"
	triggerComplete = "capture_complete"
)

// Rejection reasons.
const (
	reasonMissing       = "missing"
	reasonTerminal      = "terminal"
	reasonNotInProgress = "not_in_progress"
	reasonEmpty         = "empty"
	reasonMalformed     = "malformed"
)

// Store is the subset of the shared state store the coordinator writes through.
type Store interface {
	Get(ctx context.Context, path string) (store.Snapshot, error)
	Update(ctx context.Context, path string, fields map[string]any) error
	Push(ctx context.Context, path string, value any) (string, error)
	Transact(ctx context.Context, path string, fn store.TxFunc) (store.Snapshot, error)
}

// Router registers handlers by path template.
type Router interface {
	Handle(template string, h trigger.HandlerFunc, ops ...model.Op) error
}

// Recorder receives finished captures. Failures are logged, never retried.
type Recorder interface {
	RecordCapture(ctx context.Context, rec model.CaptureRecord) error
}

// Stats counts coordinator outcomes since start.
type Stats struct {
	Attempts   int64 `json:"attempts"`
	Started    int64 `json:"started"`
	Captured   int64 `json:"captured"`
	Rejected   int64 `json:"rejected"`
	ChatTrims  int64 `json:"chatTrims"`
	PointsPaid int64 `json:"pointsPaid"`
}

// rejection aborts a transaction for a validation reason. It is a silent
// no-op for callers, not an error.
type rejection struct{ reason string }

func (r *rejection) Error() string { return "capture rejected: " + r.reason }
func (r *rejection) Unwrap() error { return store.ErrAborted }

func reject(reason string) error { return &rejection{reason: reason} }

// Coordinator implements the capture state machine.
type Coordinator struct {
	store    Store
	rules    model.Rules
	now      func() time.Time
	recorder Recorder
	logger   logger.Logger

	attempts   atomic.Int64
	started    atomic.Int64
	captured   atomic.Int64
	rejected   atomic.Int64
	chatTrims  atomic.Int64
	pointsPaid atomic.Int64
}

// New creates a Coordinator.
func New(s Store, rules model.Rules, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  s,
		rules:  rules,
		now:    time.Now,
		logger: logger.Get().Named("coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register wires the coordinator's handlers. Attempts and markers fire on
// create and on overwrite so a rewritten record is re-evaluated.
func (c *Coordinator) Register(r Router) error {
	routes := []struct {
		template string
		handler  trigger.HandlerFunc
		ops      []model.Op
	}{
		{model.CaptureAttemptTemplate, c.HandleCaptureAttempt, []model.Op{model.OpCreated, model.OpUpdated}},
		{model.CaptureCompleteTemplate, c.HandleCaptureComplete, []model.Op{model.OpCreated, model.OpUpdated}},
		{model.ChatMessageTemplate, c.HandleChatMessage, []model.Op{model.OpCreated}},
		{model.PlayerPositionTemplate, c.HandlePlayerPosition, []model.Op{model.OpCreated, model.OpUpdated}},
	}
	for _, rt := range routes {
		if err := r.Handle(rt.template, rt.handler, rt.ops...); err != nil {
			return fmt.Errorf("register %s: %w", rt.template, err)
		}
	}
	return nil
}

// Stats returns outcome counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Attempts:   c.attempts.Load(),
		Started:    c.started.Load(),
		Captured:   c.captured.Load(),
		Rejected:   c.rejected.Load(),
		ChatTrims:  c.chatTrims.Load(),
		PointsPaid: c.pointsPaid.Load(),
	}
}

// handled converts a rejection into a silent no-op and passes other errors through.
func (c *Coordinator) handled(ctx context.Context, trigger string, ghostID string, err error) error {
	var rej *rejection
	if errors.As(err, &rej) {
		c.rejected.Add(1)
		metrics.RecordCaptureRejection(trigger, rej.reason)
		c.logger.Debug(ctx, "trigger ignored",
			logger.String("trigger", trigger),
			logger.String("ghost", ghostID),
			logger.String("reason", rej.reason),
		)
		return nil
	}
	return err
}

// HandleCaptureAttempt upserts the participant into playersCapturing and
// starts the timed capture once the kind's threshold is met.
func (c *Coordinator) HandleCaptureAttempt(ctx context.Context, e model.Event) error { //nolint:gocritic // hugeParam: handler signature
	ghostID, playerID := e.Param("ghostId"), e.Param("playerId")
	if e.After == nil {
		return nil
	}
	c.attempts.Add(1)

	var att model.CaptureAttempt
	if err := e.DecodeAfter(&att); err != nil {
		return c.handled(ctx, triggerAttempt, ghostID, reject(reasonMalformed))
	}

	now := c.now()
	var participants []string
	var startedNow bool
	_, err := c.store.Transact(ctx, model.GhostPath(ghostID), func(cur store.Snapshot) (any, error) {
		g, raw, err := decodeGhost(cur)
		if err != nil {
			return nil, err
		}
		if g.Captured() {
			return nil, reject(reasonTerminal)
		}

		pc, _ := raw["playersCapturing"].(map[string]any)
		if pc == nil {
			pc = make(map[string]any)
		}
		pc[playerID] = model.CaptureAttempt{
			PlayerID:    playerID,
			DisplayName: att.DisplayName,
			Position:    att.Position,
			StartedAt:   model.Millis(now),
		}
		raw["playersCapturing"] = pc

		participants = sortedKeys(pc)
		startedNow = false
		if len(participants) >= c.rules.Required(g.Kind) && !g.IsBeingCaptured {
			raw["isBeingCaptured"] = true
			raw["captureStartedAt"] = model.Millis(now)
			startedNow = true
		}
		return raw, nil
	})
	if err != nil {
		return c.handled(ctx, triggerAttempt, ghostID, err)
	}

	if !startedNow {
		metrics.RecordCaptureTransition(string(model.StateAttempting))
		c.logger.Debug(ctx, "capture attempt recorded",
			logger.String("ghost", ghostID),
			logger.String("player", playerID),
			logger.Int("participants", len(participants)),
		)
		return nil
	}

	c.started.Add(1)
	metrics.RecordCaptureTransition(string(model.StateInProgress))
	c.logger.Info(ctx, "cooperative capture started",
		logger.String("ghost", ghostID),
		logger.Strings("players", participants),
	)
	return c.notify(ctx, model.Notification{
		Type:      model.NotificationCaptureStarted,
		GhostID:   ghostID,
		Players:   participants,
		Timestamp: model.Millis(now),
	})
}

// HandleCaptureComplete finalizes an in-progress capture and pays out rewards.
// Markers are honored only while the server shows the capture in progress.
func (c *Coordinator) HandleCaptureComplete(ctx context.Context, e model.Event) error { //nolint:gocritic // hugeParam: handler signature
	ghostID := e.Param("ghostId")
	if e.After == nil {
		return nil
	}

	now := c.now()
	var ghost model.Ghost
	var ids []string
	_, err := c.store.Transact(ctx, model.GhostPath(ghostID), func(cur store.Snapshot) (any, error) {
		g, raw, err := decodeGhost(cur)
		if err != nil {
			return nil, err
		}
		switch {
		case g.Captured():
			return nil, reject(reasonTerminal)
		case !g.IsBeingCaptured:
			return nil, reject(reasonNotInProgress)
		}
		ids = g.ParticipantIDs()
		if len(ids) == 0 {
			return nil, reject(reasonEmpty)
		}
		raw["capturedBy"] = ids
		raw["capturedAt"] = model.Millis(now)
		raw["isBeingCaptured"] = false
		ghost = g
		return raw, nil
	})
	if err != nil {
		return c.handled(ctx, triggerComplete, ghostID, err)
	}

	c.captured.Add(1)
	metrics.RecordCaptureTransition(string(model.StateCaptured))

	points := ghost.Points
	if points <= 0 {
		points = c.rules.PointsFor(ghost.Kind)
	}
	// Floor division: the remainder is dropped, not redistributed.
	perPlayer := points / len(ids)

	// The ghost is already terminal, so a failed payout cannot be retried by
	// another marker; every participant is still attempted.
	var errs []error
	paid := 0
	for _, id := range ids {
		if err := c.reward(ctx, id, perPlayer); err != nil {
			c.logger.Error(ctx, "reward failed",
				logger.String("ghost", ghostID),
				logger.String("player", id),
				logger.Error(err),
			)
			errs = append(errs, fmt.Errorf("reward %s for ghost %s: %w", id, ghostID, err))
			continue
		}
		paid++
	}
	c.pointsPaid.Add(int64(perPlayer * paid))
	metrics.RecordPointsAwarded(perPlayer * paid)

	c.logger.Info(ctx, "cooperative capture succeeded",
		logger.String("ghost", ghostID),
		logger.Strings("players", ids),
		logger.Int("points_per_player", perPlayer),
	)

	if c.recorder != nil {
		rec := model.CaptureRecord{
			GhostID:         ghostID,
			Kind:            ghost.Kind,
			Location:        ghost.Location,
			Players:         ids,
			PointsPerPlayer: perPlayer,
			CapturedAt:      now,
		}
		if err := c.recorder.RecordCapture(ctx, rec); err != nil {
			c.logger.Warn(ctx, "capture history write failed", logger.String("ghost", ghostID), logger.Error(err))
		}
	}

	if err := c.notify(ctx, model.Notification{
		Type:         model.NotificationCaptureSuccess,
		GhostID:      ghostID,
		GhostKind:    ghost.Kind,
		Players:      ids,
		PointsEarned: perPlayer,
		Timestamp:    model.Millis(now),
	}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// reward atomically adds points and one capture to users/{id}, creating the record.
func (c *Coordinator) reward(ctx context.Context, playerID string, points int) error {
	_, err := c.store.Transact(ctx, model.UserPath(playerID), func(cur store.Snapshot) (any, error) {
		raw, _ := cur.Value().(map[string]any)
		if raw == nil {
			raw = make(map[string]any)
		}
		var stats model.UserStats
		if err := cur.Decode(&stats); err != nil {
			return nil, err
		}
		raw["points"] = stats.Points + points
		raw["captures"] = stats.Captures + 1
		return raw, nil
	})
	return err
}

func (c *Coordinator) notify(ctx context.Context, n model.Notification) error { //nolint:gocritic // hugeParam: pushed once
	if _, err := c.store.Push(ctx, model.NotificationsRoot, n); err != nil {
		return fmt.Errorf("push %s notification: %w", n.Type, err)
	}
	metrics.RecordNotification(string(n.Type))
	return nil
}

// decodeGhost reads the typed view and the raw map of a ghost node. Writes go
// through the raw map so fields unknown to model.Ghost survive. A node left
// behind by an attempt on a ghost that was never spawned, or already expired,
// counts as missing.
func decodeGhost(cur store.Snapshot) (model.Ghost, map[string]any, error) {
	var g model.Ghost
	if !cur.Exists() {
		return g, nil, reject(reasonMissing)
	}
	raw, ok := cur.Value().(map[string]any)
	if !ok {
		return g, nil, reject(reasonMalformed)
	}
	if err := cur.Decode(&g); err != nil {
		return g, nil, reject(reasonMalformed)
	}
	if !g.Spawned() {
		return g, nil, reject(reasonMissing)
	}
	return g, raw, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
