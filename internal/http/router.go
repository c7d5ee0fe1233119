package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/events"
	"github.com/obiente/translate/livescribe/internal/pipeline"
)

// maxAudioBody caps a single POST /v1/session/audio body (about 4 minutes of
// 16 kHz PCM16).
const maxAudioBody = 8 << 20

// Controller is the session surface the HTTP API drives. *pipeline.Manager
// implements it.
type Controller interface {
	Start(ctx context.Context, sink events.Sink) (pipeline.SessionInfo, error)
	Stop(ctx context.Context) ([]events.Segment, error)
	Cancel() error
	FeedPCM(samples []int16) error
	Status() pipeline.Status
	Transcript() []events.Segment
	Availability() pipeline.Capabilities
	Backlog() pipeline.Backlog
}

type Deps struct {
	Sessions Controller
	// WebSocket serves /ws/transcribe when set.
	WebSocket http.Handler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Watchers reports live WebSocket watchers for /v1/session/status.
	Watchers func() int
	Logger   zerolog.Logger
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(d.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		caps := d.Sessions.Availability()
		code := http.StatusOK
		if !caps.Partials.Available && !caps.Finals.Available {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, caps)
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.WebSocket != nil {
		r.Get("/ws/transcribe", d.WebSocket.ServeHTTP)
	}

	h := &handlers{sessions: d.Sessions, watchers: d.Watchers}
	r.Route("/v1/session", func(r chi.Router) {
		r.Post("/start", h.start)
		r.Post("/stop", h.stop)
		r.Post("/cancel", h.cancel)
		r.Post("/audio", h.audio)
		r.Get("/status", h.status)
		r.Get("/transcript", h.transcript)
	})
	return r
}

type handlers struct {
	sessions Controller
	watchers func() int
}

func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	info, err := h.sessions.Start(r.Context(), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	segs, err := h.sessions.Stop(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": nonNil(segs)})
}

func (h *handlers) cancel(w http.ResponseWriter, _ *http.Request) {
	if err := h.sessions.Cancel(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// audio accepts a raw PCM16LE body. A sample_rate query parameter other than
// 16000 resamples before framing.
func (h *handlers) audio(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "audio body too large", Detail: err.Error()})
		return
	}
	samples, err := audio.DecodePCM16LE(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid pcm", Detail: err.Error()})
		return
	}
	if v := r.URL.Query().Get("sample_rate"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid sample_rate", Detail: v})
			return
		}
		if rate != audio.SampleRate {
			samples = audio.Normalize(audio.ToFloat32(samples), rate)
		}
	}
	if err := h.sessions.FeedPCM(samples); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"samples":    len(samples),
		"durationMs": audio.SamplesToDuration(len(samples)).Milliseconds(),
	})
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":       h.sessions.Status(),
		"capabilities": h.sessions.Availability(),
		"backlog":      h.sessions.Backlog(),
	}
	if h.watchers != nil {
		resp["watchers"] = h.watchers()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) transcript(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"segments": nonNil(h.sessions.Transcript())})
}

func nonNil(segs []events.Segment) []events.Segment {
	if segs == nil {
		return []events.Segment{}
	}
	return segs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrConcurrentSession), errors.Is(err, pipeline.ErrNotActive):
		status = http.StatusConflict
	case errors.Is(err, pipeline.ErrNoCapability):
		status = http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrRouterClosed):
		status = http.StatusGone
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func accessLog(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		h := hlog.NewHandler(l)
		access := hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			ev := hlog.FromRequest(r).Debug()
			if status >= http.StatusInternalServerError {
				ev = hlog.FromRequest(r).Warn()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", middleware.GetReqID(r.Context())).
				Int("status", status).
				Int("size", size).
				Dur("duration_ms", dur).
				Msg("request")
		})
		return h(access(next))
	}
}
