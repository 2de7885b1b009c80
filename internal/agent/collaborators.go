package agent

import (
	"context"

	"github.com/okian/ghostcoop/internal/domain/model"
)

// Geolocator supplies device position samples. An error means no position
// is available this tick.
type Geolocator interface {
	Position(ctx context.Context) (model.Position, error)
}

// GeolocatorFunc adapts a function to Geolocator.
type GeolocatorFunc func(ctx context.Context) (model.Position, error)

// Position calls f.
func (f GeolocatorFunc) Position(ctx context.Context) (model.Position, error) { return f(ctx) }

// CaptureView is the plain data a presenter renders for one capture.
type CaptureView struct {
	GhostID      string
	Kind         model.Kind
	Participants []model.CaptureAttempt
	Required     int
	InProgress   bool
	Progress     float64
}

// Presenter renders what the agent computes. Calls arrive from subscription
// goroutines and must not block.
type Presenter interface {
	CaptureProgress(v CaptureView)
	CaptureEnded(ghostID string, capturedBy []string)
	NearbyChanged(players []NearbyPlayer)
	Notify(n model.Notification)
	Chat(msg model.ChatMessage, own bool)
	Warn(msg string)
}

// Nop is a Presenter that renders nothing.
type Nop struct{}

func (Nop) CaptureProgress(CaptureView) {}
func (Nop) CaptureEnded(string, []string) {}
func (Nop) NearbyChanged([]NearbyPlayer) {}
func (Nop) Notify(model.Notification) {}
func (Nop) Chat(model.ChatMessage, bool) {}
func (Nop) Warn(string) {}
