// Package stream pushes store subscription events to websocket clients.
package stream

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/pkg/logger"
	"github.com/okian/ghostcoop/pkg/metrics"
)

// Connection timing and buffering defaults.
const (
	defaultPingInterval = 25 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultWriteWait    = 10 * time.Second
	defaultBuffer       = 256
	readLimitBytes      = 1 << 20
)

// Subscriber opens store subscriptions.
type Subscriber interface {
	Subscribe(path string, t store.EventType, h store.Handler) (func(), error)
}

// Message is one store event as sent on the wire.
type Message struct {
	Event    store.EventType `json:"event"`
	Seq      uint64          `json:"seq"`
	Path     string          `json:"path"`
	Key      string          `json:"key"`
	Value    any             `json:"value"`
	Previous any             `json:"previous,omitempty"`
}

func messageFrom(e store.Event) Message { //nolint:gocritic // hugeParam: converted once per event
	return Message{
		Event:    e.Type,
		Seq:      e.Seq,
		Path:     e.Snapshot.Path(),
		Key:      e.Snapshot.Key(),
		Value:    e.Snapshot.Value(),
		Previous: e.Previous.Value(),
	}
}

// Handler upgrades GET /stream?path=&event= and streams matching events.
// A client whose buffer stays full for the write deadline is disconnected
// rather than stalling the subscription.
type Handler struct {
	store    Subscriber
	upgrader websocket.Upgrader
	clients  atomic.Int64

	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
	buffer       int
	logger       logger.Logger
}

// NewHandler creates a stream handler over s.
func NewHandler(s Subscriber, opts ...Option) *Handler {
	h := &Handler{
		store: s,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pingInterval: defaultPingInterval,
		pongWait:     defaultPongWait,
		writeWait:    defaultWriteWait,
		buffer:       defaultBuffer,
		logger:       logger.Get().Named("stream"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Clients returns the number of open streams.
func (h *Handler) Clients() int64 { return h.clients.Load() }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	eventType, ok := store.ParseEventType(r.URL.Query().Get("event"))
	if !ok {
		http.Error(w, "unknown event type", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before upgrading so a bad path is a plain 400. The initial
	// replay of a large collection arrives as one burst; it waits for the
	// writer instead of counting as overflow.
	out := make(chan Message, h.buffer)
	var overflow sync.Once
	unsubscribe, err := h.store.Subscribe(path, eventType, func(e store.Event) { //nolint:gocritic // hugeParam: Handler signature
		msg := messageFrom(e)
		select {
		case out <- msg:
			return
		case <-ctx.Done():
			return
		default:
		}
		timer := time.NewTimer(h.writeWait)
		defer timer.Stop()
		select {
		case out <- msg:
		case <-ctx.Done():
		case <-timer.C:
			overflow.Do(func() {
				h.logger.Warn(ctx, "stream client too slow, disconnecting", logger.String("path", path))
				cancel()
			})
		}
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(ctx, "websocket upgrade failed", logger.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	metrics.UpdateStreamClients(int(h.clients.Add(1)))
	defer func() { metrics.UpdateStreamClients(int(h.clients.Add(-1))) }()

	conn.SetReadLimit(readLimitBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	// Reader: clients send nothing meaningful; a read error ends the stream.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.writeLoop(ctx, conn, out)
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan Message) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.writeWait))
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug(ctx, "stream write failed", logger.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
