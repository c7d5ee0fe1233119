package events

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Sink receives events in emission order. Publish may block; callers that
// cannot afford to wait go through a Dispatcher.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Multi publishes to every sink in order and joins their errors. A failing
// sink does not stop delivery to the others.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to a zerolog logger. Partials are logged at debug.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(l zerolog.Logger) *LogSink {
	return &LogSink{log: l.With().Str("component", "transcript").Logger()}
}

func (s *LogSink) Publish(_ context.Context, ev Event) error {
	switch {
	case ev.Segment != nil:
		seg := ev.Segment
		lvl := zerolog.InfoLevel
		if !seg.IsFinal {
			lvl = zerolog.DebugLevel
		}
		s.log.WithLevel(lvl).
			Str("session", ev.SessionID).
			Uint64("segment", seg.SegmentID).
			Bool("is_final", seg.IsFinal).
			Bool("best_effort", seg.BestEffort).
			Dur("start", seg.Start).
			Dur("end", seg.End).
			Str("text", seg.Text).
			Msg("transcript")
	case ev.Status != nil:
		s.log.Info().
			Str("session", ev.SessionID).
			Str("notice", string(ev.Status.Notice)).
			Str("detail", ev.Status.Detail).
			Int("transcript_segments", len(ev.Status.Transcript)).
			Msg("session status")
	}
	return nil
}
