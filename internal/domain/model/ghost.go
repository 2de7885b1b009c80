// Package model contains domain models passed between layers.
//
// Records are stored in the shared state store as JSON-shaped trees, so every
// type here carries json tags naming its field in the store.
package model

import (
	"sort"
	"time"
)

// Kind classifies a ghost and selects its capture rules.
type Kind string

// Ghost kinds.
const (
	KindCommon Kind = "common"
	KindStrong Kind = "strong"
)

// State is the coordinator's view of a ghost's capture lifecycle.
type State string

// Capture states. No transition ever leaves StateCaptured.
const (
	StateIdle       State = "idle"
	StateAttempting State = "attempting"
	StateInProgress State = "in_progress"
	StateCaptured   State = "captured"
)

// Ghost is a capturable entity stored at ghosts/{id}.
type Ghost struct {
	ID                string  `json:"id"`
	Location          string  `json:"location"`
	Lat               float64 `json:"lat"`
	Lon               float64 `json:"lon"`
	Kind              Kind    `json:"type"`
	Points            int     `json:"points"`
	CaptureDurationMs int64   `json:"captureDurationMs"`
	CreatedAt         int64   `json:"createdAt"`

	CapturedBy       []string                  `json:"capturedBy,omitempty"`
	CapturedAt       int64                     `json:"capturedAt,omitempty"`
	IsBeingCaptured  bool                      `json:"isBeingCaptured"`
	CaptureStartedAt int64                     `json:"captureStartedAt,omitempty"`
	PlayersCapturing map[string]CaptureAttempt `json:"playersCapturing,omitempty"`
	CaptureAttempts  map[string]CaptureAttempt `json:"captureAttempts,omitempty"`
	CaptureComplete  *CaptureComplete          `json:"captureComplete,omitempty"`
}

// CaptureAttempt is one participant's intent to capture a ghost. Clients
// write it under captureAttempts; the coordinator mirrors it into
// playersCapturing with StartedAt stamped server side.
type CaptureAttempt struct {
	PlayerID    string    `json:"playerId"`
	DisplayName string    `json:"displayName,omitempty"`
	Position    *Position `json:"position,omitempty"`
	StartedAt   int64     `json:"startedAt,omitempty"`
	Timestamp   int64     `json:"timestamp,omitempty"`
}

// CaptureComplete is the marker a participant writes once local progress reaches 100%.
type CaptureComplete struct {
	PlayerID  string `json:"playerId"`
	Timestamp int64  `json:"timestamp"`
}

// Spawned reports whether the node holds a spawned ghost record. A node that
// exists only because of writes below it has no kind.
func (g *Ghost) Spawned() bool {
	return g.Kind == KindCommon || g.Kind == KindStrong
}

// Captured reports whether the ghost reached the terminal state.
func (g *Ghost) Captured() bool {
	return len(g.CapturedBy) > 0
}

// State derives the capture state from the stored fields.
func (g *Ghost) State() State {
	switch {
	case g.Captured():
		return StateCaptured
	case g.IsBeingCaptured:
		return StateInProgress
	case len(g.PlayersCapturing) > 0:
		return StateAttempting
	default:
		return StateIdle
	}
}

// ParticipantIDs returns the keys of playersCapturing in ascending order.
func (g *Ghost) ParticipantIDs() []string {
	ids := make([]string, 0, len(g.PlayersCapturing))
	for id := range g.PlayersCapturing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CaptureDuration returns the timed capture length.
func (g *Ghost) CaptureDuration() time.Duration {
	return time.Duration(g.CaptureDurationMs) * time.Millisecond
}

// Progress returns capture progress in percent at now, clamped to [0, 100].
// It is zero until the server has confirmed the capture is in progress.
func (g *Ghost) Progress(now time.Time) float64 {
	if !g.IsBeingCaptured || g.CaptureStartedAt == 0 || g.CaptureDurationMs <= 0 {
		return 0
	}
	elapsed := now.Sub(FromMillis(g.CaptureStartedAt))
	p := float64(elapsed) / float64(g.CaptureDuration()) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
