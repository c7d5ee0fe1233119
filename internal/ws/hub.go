package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/events"
)

const writeWait = 10 * time.Second

var errClientGone = errors.New("websocket client gone")

// client is one WebSocket connection. It is the sink of the session it
// started and may also watch every other session through the Hub.
type client struct {
	conn *websocket.Conn
	wmu  sync.Mutex

	mu      sync.Mutex
	session string
	closed  bool
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn}
}

func (c *client) setSession(id string) {
	c.mu.Lock()
	c.session = id
	c.mu.Unlock()
}

func (c *client) owns(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return id != "" && c.session == id
}

func (c *client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writeJSON serialises writes; gorilla connections allow one writer at a time.
func (c *client) writeJSON(v any) error {
	if c.isClosed() {
		return errClientGone
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *client) Publish(_ context.Context, ev events.Event) error {
	return c.writeJSON(payload(ev))
}

// Hub fans session events out to watching connections. It is registered as
// a Manager sink so watchers see every session.
type Hub struct {
	mu       sync.RWMutex
	watchers map[*client]struct{}
	log      zerolog.Logger
}

func NewHub(l zerolog.Logger) *Hub {
	return &Hub{
		watchers: make(map[*client]struct{}),
		log:      l.With().Str("component", "ws_hub").Logger(),
	}
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	h.watchers[c] = struct{}{}
	h.mu.Unlock()
	h.broadcastCount()
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	_, ok := h.watchers[c]
	delete(h.watchers, c)
	h.mu.Unlock()
	if ok {
		h.broadcastCount()
	}
}

// Watchers returns the number of watching connections.
func (h *Hub) Watchers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

// Publish broadcasts ev to every watcher except the connection that owns the
// session, which already receives it as the session sink.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	p := payload(ev)
	for _, c := range h.snapshot() {
		if c.owns(ev.SessionID) {
			continue
		}
		if err := c.writeJSON(p); err != nil && !errors.Is(err, errClientGone) {
			h.log.Debug().Err(err).Msg("watcher write failed")
		}
	}
	return nil
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.watchers))
	for c := range h.watchers {
		out = append(out, c)
	}
	return out
}

func (h *Hub) broadcastCount() {
	clients := h.snapshot()
	msg := map[string]any{"type": "watchers", "count": len(clients)}
	for _, c := range clients {
		_ = c.writeJSON(msg)
	}
}

// payload flattens an event into the message shape sent to browsers.
func payload(ev events.Event) map[string]any {
	switch {
	case ev.Segment != nil:
		s := ev.Segment
		return map[string]any{
			"type":       "transcript",
			"sessionId":  s.SessionID,
			"segmentId":  s.SegmentID,
			"text":       s.Text,
			"isFinal":    s.IsFinal,
			"bestEffort": s.BestEffort,
			"discarded":  s.Discarded,
			"startMs":    s.Start.Milliseconds(),
			"endMs":      s.End.Milliseconds(),
			"confidence": s.Confidence,
			"language":   s.Language,
		}
	case ev.Status != nil:
		p := map[string]any{
			"type":      "status",
			"sessionId": ev.SessionID,
			"notice":    ev.Status.Notice,
		}
		if ev.Status.Detail != "" {
			p["detail"] = ev.Status.Detail
		}
		if ev.Status.Transcript != nil {
			p["segments"] = ev.Status.Transcript
		}
		return p
	default:
		return map[string]any{"type": string(ev.Type), "sessionId": ev.SessionID}
	}
}
