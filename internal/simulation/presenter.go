package simulation

import (
	"context"
	"sync"

	"github.com/okian/ghostcoop/internal/agent"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
)

// recorder is the presenter each simulated agent renders into.
type recorder struct {
	playerID string
	logger   logger.Logger

	mu            sync.Mutex
	progress      map[string]float64
	ended         map[string][]string
	warnings      []string
	notifications []model.Notification
}

func newRecorder(playerID string, log logger.Logger) *recorder {
	return &recorder{
		playerID: playerID,
		logger:   log,
		progress: make(map[string]float64),
		ended:    make(map[string][]string),
	}
}

func (r *recorder) CaptureProgress(v agent.CaptureView) {
	r.mu.Lock()
	prev := r.progress[v.GhostID]
	if v.Progress > prev {
		r.progress[v.GhostID] = v.Progress
	}
	r.mu.Unlock()
	// Log whole quarters only.
	if int(v.Progress*4) > int(prev*4) {
		r.logger.Debug(context.Background(), "capture progress",
			logger.String("player", r.playerID),
			logger.String("ghost", v.GhostID),
			logger.Int("participants", len(v.Participants)),
			logger.Float64("progress", v.Progress))
	}
}

func (r *recorder) CaptureEnded(ghostID string, capturedBy []string) {
	r.mu.Lock()
	r.ended[ghostID] = capturedBy
	r.mu.Unlock()
	r.logger.Debug(context.Background(), "capture ended",
		logger.String("player", r.playerID),
		logger.String("ghost", ghostID),
		logger.Strings("capturedBy", capturedBy))
}

func (r *recorder) NearbyChanged([]agent.NearbyPlayer) {}

func (r *recorder) Notify(n model.Notification) {
	r.mu.Lock()
	r.notifications = append(r.notifications, n)
	r.mu.Unlock()
}

func (r *recorder) Chat(model.ChatMessage, bool) {}

func (r *recorder) Warn(msg string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
	r.logger.Info(context.Background(), "capture refused",
		logger.String("player", r.playerID),
		logger.String("reason", msg))
}

func (r *recorder) hasEnded(ghostID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ended[ghostID]
	return ok
}

func (r *recorder) notificationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notifications)
}
