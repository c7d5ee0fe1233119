// Package pipeline ties capture to transcription: the Router fans frames
// out, the Orchestrator reconciles the fast and accurate engines, and the
// Manager owns the session lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/engine"
	"github.com/obiente/translate/livescribe/internal/events"
	"github.com/obiente/translate/livescribe/internal/logging"
	"github.com/obiente/translate/livescribe/internal/metrics"
	"github.com/obiente/translate/livescribe/internal/vad"
)

var (
	ErrConcurrentSession = errors.New("a transcription session is already running")
	ErrNoCapability      = errors.New("no transcription capability: both engines unavailable")
	ErrNotActive         = errors.New("no active transcription session")
)

const (
	laneFast     = "fast"
	laneRecorder = "recorder"
)

type Options struct {
	Recognizer engine.Recognizer
	Final      *engine.FinalEngine
	Classifier vad.Classifier
	VAD        vad.Config

	FrameDuration  time.Duration
	BufferDuration time.Duration
	// RouterCapacity bounds drop-oldest lanes.
	RouterCapacity int
	// FastBacklogWarn is the fast lane backlog that triggers a warning.
	FastBacklogWarn int
	DrainTimeout    time.Duration
	// RecordingDir enables per-session WAV recording when set.
	RecordingDir string

	// Sinks receive the events of every session, in addition to the sink
	// passed to Start.
	Sinks   []events.Sink
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Capabilities reports which engines a session can use.
type Capabilities struct {
	Partials engine.Availability `json:"partials"`
	Finals   engine.Availability `json:"finals"`
}

type SessionInfo struct {
	ID           string       `json:"sessionId"`
	StartedAt    time.Time    `json:"startedAt"`
	Capabilities Capabilities `json:"capabilities"`
	Recording    string       `json:"recording,omitempty"`
}

// Manager runs at most one transcription session at a time.
type Manager struct {
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	status Status
	sess   *session
	last   []events.Segment
}

type session struct {
	info       SessionInfo
	framer     *audio.Framer
	router     *Router
	orch       *Orchestrator
	dispatcher *events.Dispatcher
	log        zerolog.Logger
}

func NewManager(opts Options) *Manager {
	if opts.Recognizer == nil {
		opts.Recognizer = engine.NewUnavailableRecognizer("no recognizer configured")
	}
	if opts.Final == nil {
		opts.Final = engine.NewUnavailableFinalEngine("no final engine configured", engine.FinalOptions{Logger: opts.Logger})
	}
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = audio.DefaultFrameDuration
	}
	if opts.BufferDuration <= 0 {
		opts.BufferDuration = time.Minute
	}
	if opts.RouterCapacity <= 0 {
		opts.RouterCapacity = 256
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	m := &Manager{
		opts:    opts,
		log:     opts.Logger.With().Str("component", "manager").Logger(),
		metrics: opts.Metrics,
	}
	m.setStatusLocked(Status{State: StateIdle})
	return m
}

func (m *Manager) Availability() Capabilities {
	return Capabilities{
		Partials: m.opts.Recognizer.Availability(),
		Finals:   m.opts.Final.Availability(),
	}
}

// Backlog reports work not yet delivered: accurate requests waiting for the
// worker and events waiting for the sinks.
type Backlog struct {
	FinalRequests int `json:"finalRequests"`
	Events        int `json:"events"`
}

func (m *Manager) Backlog() Backlog {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := Backlog{FinalRequests: m.opts.Final.Pending()}
	if m.sess != nil {
		b.Events = m.sess.dispatcher.Pending()
	}
	return b
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Transcript returns the running session's transcript, or the last one once
// the session has stopped.
func (m *Manager) Transcript() []events.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		return m.sess.orch.Transcript().Segments()
	}
	return append([]events.Segment(nil), m.last...)
}

// Start opens a session whose events go to sink and to every configured
// sink. It fails with ErrConcurrentSession while another session occupies
// the manager and with ErrNoCapability when neither engine is available.
func (m *Manager) Start(ctx context.Context, sink events.Sink) (SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Busy() {
		return SessionInfo{}, fmt.Errorf("%w (status %s)", ErrConcurrentSession, m.status)
	}

	id := uuid.NewString()
	m.setStatusLocked(Status{State: StateStarting, SessionID: id})
	caps := m.Availability()
	l := logging.WithSession(m.log, id)

	out := events.Multi(append([]events.Sink{sink}, m.opts.Sinks...))
	if !caps.Partials.Available && !caps.Finals.Available {
		reason := fmt.Sprintf("fast engine %s; final engine %s", caps.Partials, caps.Finals)
		m.setStatusLocked(Status{State: StateError, Reason: reason, SessionID: id})
		m.metrics.RecordSession("no_capability")
		_ = out.Publish(ctx, events.StatusEvent(id, events.NoticePreparing, ""))
		_ = out.Publish(ctx, events.StatusEvent(id, events.NoticeError, reason))
		l.Error().Str("reason", reason).Msg("cannot start session")
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrNoCapability, reason)
	}

	d := events.NewDispatcher(out, events.DispatcherOptions{
		Name:    "session",
		Logger:  l,
		Metrics: m.metrics,
	})
	_ = d.Publish(ctx, events.StatusEvent(id, events.NoticePreparing, ""))

	buf := audio.NewBuffer(m.opts.BufferDuration)
	orch := NewOrchestrator(OrchestratorOptions{
		SessionID:  id,
		Buffer:     buf,
		Classifier: m.opts.Classifier,
		VAD:        m.opts.VAD,
		Recognizer: m.opts.Recognizer,
		Final:      m.opts.Final,
		Sink:       d,
		Logger:     m.opts.Logger,
		Metrics:    m.metrics,
	})
	info := SessionInfo{ID: id, StartedAt: time.Now().UTC(), Capabilities: caps}

	lanes := []Lane{{
		Name:     laneFast,
		Policy:   Lossless,
		Consumer: orch,
		Capacity: m.opts.FastBacklogWarn,
	}}
	if m.opts.RecordingDir != "" {
		if rc, err := newRecorderConsumer(m.opts.RecordingDir, id, l); err != nil {
			l.Warn().Err(err).Msg("session recording disabled")
		} else {
			info.Recording = rc.rec.Path()
			lanes = append(lanes, Lane{
				Name:     laneRecorder,
				Policy:   DropOldest,
				Consumer: rc,
				Capacity: m.opts.RouterCapacity,
			})
		}
	}
	router := NewRouter(buf, RouterOptions{Logger: l, Metrics: m.metrics}, lanes...)

	m.sess = &session{
		info:       info,
		framer:     audio.NewFramer(m.opts.FrameDuration),
		router:     router,
		orch:       orch,
		dispatcher: d,
		log:        l,
	}
	m.last = nil

	notice, detail := events.NoticeReady, ""
	switch {
	case !caps.Finals.Available:
		notice, detail = events.NoticeDegradedPartialsOnly, caps.Finals.Reason
	case !caps.Partials.Available:
		notice, detail = events.NoticeDegradedFinalsOnly, caps.Partials.Reason
	}
	_ = d.Publish(ctx, events.StatusEvent(id, notice, detail))
	_ = d.Publish(ctx, events.StatusEvent(id, events.NoticeStarted, ""))

	m.setStatusLocked(Status{State: StateActive, SessionID: id})
	m.metrics.RecordSession("started")
	l.Info().
		Str("partials", caps.Partials.String()).
		Str("finals", caps.Finals.String()).
		Str("recording", info.Recording).
		Msg("transcription session started")
	return info, nil
}

// Feed routes a frame that the caller has already stamped.
func (m *Manager) Feed(f audio.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.status.AcceptsAudio() {
		return ErrNotActive
	}
	return m.sess.router.Route(f)
}

// FeedPCM cuts samples into frames on the session timeline and routes them.
func (m *Manager) FeedPCM(samples []int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.status.AcceptsAudio() {
		return ErrNotActive
	}
	for _, f := range m.sess.framer.Write(samples) {
		if err := m.sess.router.Route(f); err != nil {
			return err
		}
	}
	return nil
}

// Stop closes the open segment, waits up to the drain timeout for pending
// finals and returns the session transcript. The manager is Idle afterwards
// whether or not the drain completed.
func (m *Manager) Stop(ctx context.Context) ([]events.Segment, error) {
	s, err := m.beginStop()
	if err != nil {
		return nil, err
	}

	if f, ok := s.framer.Flush(); ok {
		_ = s.router.Route(f)
	}

	drainCtx, cancel := context.WithTimeout(ctx, m.opts.DrainTimeout)
	defer cancel()

	if err := s.router.Close(drainCtx); err != nil {
		s.log.Warn().Err(err).Msg("router did not drain")
	}
	s.orch.Flush()
	drainErr := s.orch.Drain(drainCtx)
	if drainErr != nil {
		s.log.Warn().Err(drainErr).Msg("final drain incomplete, best-effort text kept")
	}

	transcript := s.orch.Transcript().Segments()
	stopped := events.StatusEvent(s.info.ID, events.NoticeStopped, "")
	if drainErr != nil {
		stopped.Status.Detail = "drain timed out"
	}
	stopped.Status.Transcript = transcript
	_ = s.dispatcher.Publish(ctx, stopped)
	m.closeDispatcher(s)

	m.finish(transcript, "stopped")
	s.log.Info().
		Int("segments", len(transcript)).
		Dur("duration", time.Since(s.info.StartedAt)).
		Msg("transcription session stopped")
	return transcript, nil
}

// Cancel discards all in-flight work without waiting for finals.
func (m *Manager) Cancel() error {
	s, err := m.beginStop()
	if err != nil {
		return err
	}
	s.router.Abort()
	s.orch.Abort()

	_ = s.dispatcher.Publish(context.Background(), events.StatusEvent(s.info.ID, events.NoticeCancelled, ""))
	go m.closeDispatcher(s)

	m.finish(s.orch.Transcript().Segments(), "cancelled")
	s.log.Info().Msg("transcription session cancelled")
	return nil
}

// Shutdown stops a running session, if any.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.Status().AcceptsAudio() {
		return nil
	}
	_, err := m.Stop(ctx)
	if errors.Is(err, ErrNotActive) {
		return nil
	}
	return err
}

func (m *Manager) beginStop() (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State != StateActive || m.sess == nil {
		return nil, ErrNotActive
	}
	m.setStatusLocked(Status{State: StateStopping, SessionID: m.sess.info.ID})
	return m.sess, nil
}

func (m *Manager) finish(transcript []events.Segment, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = nil
	m.last = transcript
	m.setStatusLocked(Status{State: StateIdle})
	m.metrics.RecordSession(result)
}

func (m *Manager) closeDispatcher(s *session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.dispatcher.Close(ctx); err != nil {
		s.log.Warn().Err(err).Msg("session events not fully delivered")
	}
}

func (m *Manager) setStatusLocked(s Status) {
	m.status = s
	m.metrics.SetStatus(s.State.String())
}

// recorderConsumer writes the session audio to a WAV file.
type recorderConsumer struct {
	rec    *audio.Recorder
	log    zerolog.Logger
	failed bool
}

func newRecorderConsumer(dir, sessionID string, l zerolog.Logger) (*recorderConsumer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording dir: %w", err)
	}
	rec, err := audio.CreateRecorder(filepath.Join(dir, sessionID+".wav"))
	if err != nil {
		return nil, err
	}
	return &recorderConsumer{rec: rec, log: l.With().Str("component", "recorder").Logger()}, nil
}

func (r *recorderConsumer) Consume(f audio.Frame) {
	if r.failed {
		return
	}
	if err := r.rec.Write(f.Samples); err != nil {
		r.failed = true
		r.log.Error().Err(err).Str("path", r.rec.Path()).Msg("recording write failed, recording stopped")
	}
}

func (r *recorderConsumer) Close() error {
	err := r.rec.Close()
	r.log.Info().
		Str("path", r.rec.Path()).
		Dur("duration", audio.SamplesToDuration(int(r.rec.Samples()))).
		Msg("session recording saved")
	return err
}
