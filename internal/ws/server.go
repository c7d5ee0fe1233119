// Package ws serves the browser-facing WebSocket: audio in, control
// messages, and transcript events out.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/events"
	"github.com/obiente/translate/livescribe/internal/pipeline"
)

// Sessions is the part of the session manager a connection drives.
type Sessions interface {
	Start(ctx context.Context, sink events.Sink) (pipeline.SessionInfo, error)
	Stop(ctx context.Context) ([]events.Segment, error)
	Cancel() error
	FeedPCM(samples []int16) error
	Status() pipeline.Status
}

type Options struct {
	// ReadTimeout closes a connection that sends nothing, not even a ping.
	ReadTimeout time.Duration
	// StopTimeout bounds a stop request issued over the socket.
	StopTimeout time.Duration
	Logger      zerolog.Logger
}

type Server struct {
	sessions Sessions
	hub      *Hub
	upgrader websocket.Upgrader
	opts     Options
	log      zerolog.Logger
}

func NewServer(sessions Sessions, hub *Hub, opts Options) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}
	if hub == nil {
		hub = NewHub(opts.Logger)
	}
	return &Server{
		sessions: sessions,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024 * 16,
			WriteBufferSize: 1024 * 16,
		},
		opts: opts,
		log:  opts.Logger.With().Str("component", "ws").Logger(),
	}
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handle(w, r)
}

func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	c := newClient(conn)
	l := s.log.With().Str("remote", r.RemoteAddr).Logger()
	defer s.disconnect(c, l)

	bump := func() { _ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)) }
	bump()
	conn.SetPongHandler(func(string) error { bump(); return nil })

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				l.Warn().Err(err).Msg("ws read error")
			}
			return
		}
		bump()

		if mt == websocket.BinaryMessage {
			s.feedBinary(c, data)
			continue
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.writeJSON(errorMsg("invalid json"))
			continue
		}
		s.dispatch(r.Context(), c, msg, l)
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, msg map[string]any, l zerolog.Logger) {
	switch msg["type"] {
	case "ping":
		_ = c.writeJSON(map[string]any{"type": "pong", "ts": msg["ts"]})
	case "start":
		info, err := s.sessions.Start(ctx, c)
		if err != nil {
			l.Warn().Err(err).Msg("session start rejected")
			_ = c.writeJSON(errorMsg(err.Error()))
			return
		}
		c.setSession(info.ID)
		l.Info().Str("session", info.ID).Msg("session started over websocket")
		_ = c.writeJSON(map[string]any{
			"type":         "started",
			"sessionId":    info.ID,
			"capabilities": info.Capabilities,
		})
	case "chunk":
		s.feedChunk(c, msg, l)
	case "stop":
		stopCtx, cancel := context.WithTimeout(context.Background(), s.opts.StopTimeout)
		defer cancel()
		// The stopped status notice carrying the transcript reaches this
		// client through its session sink before Stop returns.
		if _, err := s.sessions.Stop(stopCtx); err != nil {
			_ = c.writeJSON(errorMsg(err.Error()))
			return
		}
		c.setSession("")
	case "cancel":
		if err := s.sessions.Cancel(); err != nil {
			_ = c.writeJSON(errorMsg(err.Error()))
			return
		}
		c.setSession("")
		_ = c.writeJSON(map[string]any{"type": "cancelled"})
	case "watch":
		s.hub.join(c)
		_ = c.writeJSON(map[string]any{"type": "watching"})
	case "unwatch":
		s.hub.leave(c)
		_ = c.writeJSON(map[string]any{"type": "unwatched"})
	default:
		_ = c.writeJSON(errorMsg("unknown message type"))
	}
}

// feedBinary takes a binary message as PCM16LE at 16 kHz.
func (s *Server) feedBinary(c *client, data []byte) {
	samples, err := audio.DecodePCM16LE(data)
	if err != nil {
		_ = c.writeJSON(errorMsg("invalid pcm frame"))
		return
	}
	s.feed(c, samples)
}

// feedChunk decodes a base64 PCM16 or WAV chunk and resamples it to 16 kHz.
func (s *Server) feedChunk(c *client, msg map[string]any, l zerolog.Logger) {
	b64, _ := msg["data"].(string)
	if b64 == "" {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		_ = c.writeJSON(errorMsg("invalid base64 audio"))
		return
	}

	var (
		pcm []float32
		sr  int
	)
	if mt, _ := msg["mime_type"].(string); mt == "audio/pcm" || mt == "audio/L16" || mt == "audio/pcm16" {
		var samples []int16
		samples, err = audio.DecodePCM16LE(raw)
		pcm = audio.ToFloat32(samples)
		sr = int(asFloat(msg["sample_rate"]))
		if sr <= 0 {
			sr = audio.SampleRate
		}
	} else {
		pcm, sr, err = audio.DecodeWAVBytes(raw)
	}
	if err != nil {
		l.Warn().Err(err).Msg("audio decode failed")
		_ = c.writeJSON(errorMsg("decode audio failed"))
		return
	}
	if len(pcm) == 0 {
		return
	}
	if sr != audio.SampleRate {
		l.Debug().Int("samples", len(pcm)).Int("sr", sr).Msg("resampling chunk")
	}
	s.feed(c, audio.Normalize(pcm, sr))
}

func (s *Server) feed(c *client, samples []int16) {
	if err := s.sessions.FeedPCM(samples); err != nil {
		detail := err.Error()
		if errors.Is(err, pipeline.ErrNotActive) {
			detail = "no active session"
		}
		_ = c.writeJSON(errorMsg(detail))
	}
}

// disconnect cancels the session a dropped connection started. Its finals
// would have no one to go to.
func (s *Server) disconnect(c *client, l zerolog.Logger) {
	c.markClosed()
	s.hub.leave(c)
	st := s.sessions.Status()
	if !c.owns(st.SessionID) || !st.AcceptsAudio() {
		return
	}
	l.Info().Str("session", st.SessionID).Msg("owner disconnected, cancelling session")
	if err := s.sessions.Cancel(); err != nil && !errors.Is(err, pipeline.ErrNotActive) {
		l.Warn().Err(err).Msg("cancel on disconnect failed")
	}
}

func errorMsg(detail string) map[string]any {
	return map[string]any{"type": "error", "detail": detail}
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f
	default:
		return 0
	}
}
