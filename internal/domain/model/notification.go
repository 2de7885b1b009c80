package model

import "slices"

// NotificationType names a notification record.
type NotificationType string

// Notification types.
const (
	NotificationCaptureStarted NotificationType = "cooperative_capture_started"
	NotificationCaptureSuccess NotificationType = "cooperative_capture_success"
)

// Notification is an append-only record under notifications/.
type Notification struct {
	Type         NotificationType `json:"type"`
	GhostID      string           `json:"ghostId"`
	GhostKind    Kind             `json:"ghostType,omitempty"`
	Players      []string         `json:"players"`
	PointsEarned int              `json:"pointsEarned,omitempty"`
	Timestamp    int64            `json:"timestamp"`
}

// Includes reports whether playerID is a listed participant.
func (n *Notification) Includes(playerID string) bool {
	return slices.Contains(n.Players, playerID)
}

// ChatMessage is an append-only record under chat/{location}/.
type ChatMessage struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
	Text        string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
}
