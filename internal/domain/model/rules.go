package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRules is returned by Rules.Validate.
var ErrInvalidRules = errors.New("invalid rules")

// Rules are the game constants shared by the coordinator and the clients.
type Rules struct {
	ProximityRadiusMeters      float64 `json:"proximityRadiusMeters"`
	CaptureRadiusMeters        float64 `json:"captureRadiusMeters"`
	StrongRequiredParticipants int     `json:"strongGhostRequiredParticipants"`
	CommonCaptureDurationMs    int64   `json:"commonCaptureDurationMs"`
	StrongCaptureDurationMs    int64   `json:"strongCaptureDurationMs"`
	CommonPoints               int     `json:"commonPoints"`
	StrongPoints               int     `json:"strongPoints"`
	MaxChatMessages            int     `json:"maxChatMessages"`
}

// DefaultRules returns the stock game constants.
func DefaultRules() Rules {
	return Rules{
		ProximityRadiusMeters:      50,
		CaptureRadiusMeters:        50,
		StrongRequiredParticipants: 2,
		CommonCaptureDurationMs:    5000,
		StrongCaptureDurationMs:    8000,
		CommonPoints:               10,
		StrongPoints:               25,
		MaxChatMessages:            50,
	}
}

// Required is the participant threshold for kind: 1 for common ghosts.
func (r Rules) Required(kind Kind) int {
	if kind == KindStrong {
		return r.StrongRequiredParticipants
	}
	return 1
}

// PointsFor returns the reward for capturing a ghost of kind.
func (r Rules) PointsFor(kind Kind) int {
	if kind == KindStrong {
		return r.StrongPoints
	}
	return r.CommonPoints
}

// DurationMsFor returns the timed capture length for kind.
func (r Rules) DurationMsFor(kind Kind) int64 {
	if kind == KindStrong {
		return r.StrongCaptureDurationMs
	}
	return r.CommonCaptureDurationMs
}

// Validate rejects non-positive values.
func (r Rules) Validate() error {
	switch {
	case r.ProximityRadiusMeters <= 0:
		return fmt.Errorf("%w: proximity radius must be positive", ErrInvalidRules)
	case r.CaptureRadiusMeters <= 0:
		return fmt.Errorf("%w: capture radius must be positive", ErrInvalidRules)
	case r.StrongRequiredParticipants < 1:
		return fmt.Errorf("%w: strong ghosts need at least one participant", ErrInvalidRules)
	case r.CommonCaptureDurationMs <= 0 || r.StrongCaptureDurationMs <= 0:
		return fmt.Errorf("%w: capture durations must be positive", ErrInvalidRules)
	case r.CommonPoints <= 0 || r.StrongPoints <= 0:
		return fmt.Errorf("%w: points must be positive", ErrInvalidRules)
	case r.MaxChatMessages <= 0:
		return fmt.Errorf("%w: chat history bound must be positive", ErrInvalidRules)
	}
	return nil
}

// NewGhost builds an idle ghost of kind with rule-derived reward fields.
func (r Rules) NewGhost(id, location string, lat, lon float64, kind Kind, now time.Time) Ghost {
	return Ghost{
		ID:                id,
		Location:          location,
		Lat:               lat,
		Lon:               lon,
		Kind:              kind,
		Points:            r.PointsFor(kind),
		CaptureDurationMs: r.DurationMsFor(kind),
		CreatedAt:         Millis(now),
	}
}

// Millis converts t to unix milliseconds, the store's timestamp format.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts unix milliseconds back to a time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
