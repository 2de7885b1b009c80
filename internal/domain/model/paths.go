package model

import "strings"

// Store roots.
const (
	GhostsRoot        = "ghosts"
	PlayersRoot       = "players"
	UsersRoot         = "users"
	NotificationsRoot = "notifications"
	ChatRoot          = "chat"
)

// Trigger templates. Segments in braces bind parameters.
const (
	CaptureAttemptTemplate  = "ghosts/{ghostId}/captureAttempts/{playerId}"
	CaptureCompleteTemplate = "ghosts/{ghostId}/captureComplete"
	ChatMessageTemplate     = "chat/{location}/{messageId}"
	PlayerPositionTemplate  = "players/{playerId}/position"
	UserStatsTemplate       = "users/{userId}"
)

// Ghost children clients may write. Everything else under a ghost belongs to
// the spawner or the coordinator; playersCapturing is mirrored from
// captureAttempts by the coordinator.
var ClientGhostFields = []string{"captureAttempts", "captureComplete"}

// JoinPath joins path segments with "/".
func JoinPath(segs ...string) string {
	return strings.Join(segs, "/")
}

// GhostPath returns ghosts/{id}.
func GhostPath(id string) string { return JoinPath(GhostsRoot, id) }

// CaptureAttemptPath returns ghosts/{ghostID}/captureAttempts/{playerID}.
func CaptureAttemptPath(ghostID, playerID string) string {
	return JoinPath(GhostsRoot, ghostID, "captureAttempts", playerID)
}

// CaptureCompletePath returns ghosts/{ghostID}/captureComplete.
func CaptureCompletePath(ghostID string) string {
	return JoinPath(GhostsRoot, ghostID, "captureComplete")
}

// PlayerPath returns players/{id}.
func PlayerPath(id string) string { return JoinPath(PlayersRoot, id) }

// UserPath returns users/{id}.
func UserPath(id string) string { return JoinPath(UsersRoot, id) }

// ChatPath returns chat/{location}.
func ChatPath(location string) string { return JoinPath(ChatRoot, location) }
