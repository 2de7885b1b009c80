package model

import "time"

// CaptureRecord describes a finished capture for the history log.
type CaptureRecord struct {
	GhostID         string    `json:"ghostId"`
	Kind            Kind      `json:"type"`
	Location        string    `json:"location"`
	Players         []string  `json:"players"`
	PointsPerPlayer int       `json:"pointsPerPlayer"`
	CapturedAt      time.Time `json:"capturedAt"`
}
