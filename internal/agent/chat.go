package agent

import (
	"context"
	"fmt"

	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
)

// SetLocation selects the spawn zone whose chat and ghosts the player sees.
// The chat subscription moves with it.
func (a *Agent) SetLocation(ctx context.Context, name string) error {
	a.mu.Lock()
	if a.player == nil {
		a.mu.Unlock()
		return ErrNotJoined
	}
	if a.location == name {
		a.mu.Unlock()
		return nil
	}
	prev := a.chatUnsub
	a.chatUnsub = nil
	a.location = name
	a.chat = nil
	a.mu.Unlock()

	if prev != nil {
		prev()
	}
	if name == "" {
		return nil
	}
	unsub, err := a.store.Subscribe(model.ChatPath(name), store.ChildAdded, func(e store.Event) { //nolint:gocritic // hugeParam: Handler signature
		a.handleChat(ctx, name, e.Snapshot)
	})
	if err != nil {
		return fmt.Errorf("chat %s: %w", name, err)
	}
	a.mu.Lock()
	if a.location != name || a.player == nil {
		a.mu.Unlock()
		unsub()
		return nil
	}
	a.chatUnsub = unsub
	a.mu.Unlock()
	return nil
}

// Location returns the selected spawn zone.
func (a *Agent) Location() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.location
}

// SendChat appends a message to the current location's chat.
func (a *Agent) SendChat(ctx context.Context, text string) error {
	a.mu.Lock()
	if a.player == nil {
		a.mu.Unlock()
		return ErrNotJoined
	}
	me, loc := *a.player, a.location
	a.mu.Unlock()
	if loc == "" {
		return ErrNoLocation
	}
	msg := model.ChatMessage{
		PlayerID:    me.ID,
		DisplayName: me.DisplayName,
		Avatar:      me.Avatar,
		Text:        text,
		Timestamp:   model.Millis(a.now()),
	}
	if _, err := a.store.Push(ctx, model.ChatPath(loc), msg); err != nil {
		return fmt.Errorf("send chat: %w", err)
	}
	return nil
}

// ChatHistory returns the local chat history, oldest first.
func (a *Agent) ChatHistory() []model.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.ChatMessage, len(a.chat))
	copy(out, a.chat)
	return out
}

func (a *Agent) handleChat(ctx context.Context, location string, snap store.Snapshot) { //nolint:gocritic // hugeParam: snapshots are passed by value
	var msg model.ChatMessage
	if err := snap.Decode(&msg); err != nil {
		a.logger.Debug(ctx, "malformed chat message", logger.String("key", snap.Key()), logger.Error(err))
		return
	}
	a.mu.Lock()
	if a.location != location || a.player == nil {
		a.mu.Unlock()
		return
	}
	a.chat = append(a.chat, msg)
	if limit := a.rules.MaxChatMessages; limit > 0 && len(a.chat) > limit {
		a.chat = append([]model.ChatMessage(nil), a.chat[len(a.chat)-limit:]...)
	}
	own := msg.PlayerID == a.player.ID
	a.mu.Unlock()

	a.presenter.Chat(msg, own)
}
