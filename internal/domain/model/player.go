package model

// Position is a geolocation sample.
type Position struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// Player is a live session stored at players/{id}.
type Player struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar"`
	Position    *Position `json:"position,omitempty"`
	LastSeen    int64     `json:"lastSeen,omitempty"`
	IsCapturing bool      `json:"isCapturing"`
	JoinedAt    int64     `json:"joinedAt,omitempty"`
}

// UserStats holds reward counters at users/{id}. Only the coordinator writes them.
type UserStats struct {
	Points   int `json:"points"`
	Captures int `json:"captures"`
}

var avatars = []string{"👻", "🎃", "🧙‍♂️", "🧙‍♀️", "🕵️‍♂️", "🕵️‍♀️", "👨‍🔬", "👩‍🔬", "🦸‍♂️", "🦸‍♀️"}

// AvatarFor derives a stable avatar from a player id using a 31-multiplier
// string hash over UTF-16 code units with 32-bit wraparound.
func AvatarFor(id string) string {
	var h int32
	for _, r := range id {
		if r >= 0x10000 {
			// surrogate pair
			r -= 0x10000
			h = (h << 5) - h + int32(0xD800+(r>>10))
			h = (h << 5) - h + int32(0xDC00+(r&0x3FF))
			continue
		}
		h = (h << 5) - h + int32(r)
	}
	idx := int64(h)
	if idx < 0 {
		idx = -idx
	}
	return avatars[idx%int64(len(avatars))]
}
