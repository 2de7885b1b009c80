package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
	"github.com/okian/ghostcoop/pkg/metrics"
)

// HandleChatMessage stamps a missing timestamp and trims the location's chat
// to the newest MaxChatMessages entries, ordered by (timestamp, key).
func (c *Coordinator) HandleChatMessage(ctx context.Context, e model.Event) error { //nolint:gocritic // hugeParam: handler signature
	location := e.Param("location")
	if e.After == nil {
		return nil
	}

	var msg model.ChatMessage
	if err := e.DecodeAfter(&msg); err == nil && msg.Timestamp == 0 {
		if err := c.store.Update(ctx, e.Path, map[string]any{"timestamp": model.Millis(c.now())}); err != nil {
			return fmt.Errorf("stamp chat message: %w", err)
		}
	}

	if c.rules.MaxChatMessages <= 0 {
		return nil
	}
	snap, err := c.store.Get(ctx, model.ChatPath(location))
	if err != nil {
		return fmt.Errorf("read chat %s: %w", location, err)
	}
	excess := snap.NumChildren() - c.rules.MaxChatMessages
	if excess <= 0 {
		return nil
	}

	type entry struct {
		key string
		ts  int64
	}
	entries := make([]entry, 0, snap.NumChildren())
	for _, child := range snap.Children() {
		var m model.ChatMessage
		_ = child.Decode(&m)
		entries = append(entries, entry{key: child.Key(), ts: m.Timestamp})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ts != entries[j].ts {
			return entries[i].ts < entries[j].ts
		}
		return entries[i].key < entries[j].key
	})

	removals := make(map[string]any, excess)
	for _, en := range entries[:excess] {
		removals[en.key] = nil
	}
	if err := c.store.Update(ctx, model.ChatPath(location), removals); err != nil {
		return fmt.Errorf("trim chat %s: %w", location, err)
	}
	c.chatTrims.Add(int64(excess))
	metrics.RecordChatTrimmed(excess)
	c.logger.Debug(ctx, "chat trimmed", logger.String("location", location), logger.Int("removed", excess))
	return nil
}

// HandlePlayerPosition stamps lastSeen for a player whose position changed.
// A player that already left is not recreated.
func (c *Coordinator) HandlePlayerPosition(ctx context.Context, e model.Event) error { //nolint:gocritic // hugeParam: handler signature
	playerID := e.Param("playerId")
	if e.After == nil {
		return nil
	}
	now := model.Millis(c.now())
	_, err := c.store.Transact(ctx, model.PlayerPath(playerID), func(cur store.Snapshot) (any, error) {
		raw, ok := cur.Value().(map[string]any)
		if !ok {
			return nil, store.ErrAborted
		}
		raw["lastSeen"] = now
		return raw, nil
	})
	if err != nil && !errors.Is(err, store.ErrAborted) {
		return fmt.Errorf("stamp lastSeen for %s: %w", playerID, err)
	}
	return nil
}
