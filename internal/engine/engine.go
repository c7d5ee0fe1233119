// Package engine defines the two speech engines the pipeline composes.
//
// A Recognizer is the fast streaming engine that produces provisional text as
// audio arrives. A Transcriber is the slow, accurate engine run once per
// closed speech segment; it is only ever driven through a FinalEngine, which
// owns it on a single worker goroutine.
//
// Both may be unavailable. Callers hold the interface and branch on
// Availability, never on the concrete backend.
package engine

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUnavailable = errors.New("engine unavailable")
	ErrDropped     = errors.New("final request dropped on queue overflow")
	ErrClosed      = errors.New("final engine closed")
)

// Availability is computed once when an engine is constructed and never
// changes afterwards.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

func Ready() Availability { return Availability{Available: true} }

func Unavailable(reason string) Availability {
	if reason == "" {
		reason = "unavailable"
	}
	return Availability{Reason: reason}
}

func (a Availability) String() string {
	if a.Available {
		return "available"
	}
	return "unavailable: " + a.Reason
}

// Recognizer is a streaming speech-to-text engine fed with every frame.
type Recognizer interface {
	// Accept consumes samples and reports whether the engine reached an
	// internal endpoint (end of an utterance).
	Accept(samples []int16) bool
	// Partial returns the provisional text of the current utterance.
	Partial() (string, bool)
	// Final returns and commits the text of the current utterance.
	Final() (string, bool)
	Availability() Availability
	Close() error
}

// Result is the output of one accurate transcription.
type Result struct {
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
}

// Transcriber runs accurate transcription over a window of 16 kHz mono
// samples in [-1, 1]. Implementations need not be safe for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, window []float32) (Result, error)
	Close() error
}

type unavailableRecognizer struct {
	avail Availability
}

// NewUnavailableRecognizer returns a Recognizer that ignores all input.
func NewUnavailableRecognizer(reason string) Recognizer {
	return unavailableRecognizer{avail: Unavailable(reason)}
}

func (u unavailableRecognizer) Accept([]int16) bool        { return false }
func (u unavailableRecognizer) Partial() (string, bool)    { return "", false }
func (u unavailableRecognizer) Final() (string, bool)      { return "", false }
func (u unavailableRecognizer) Availability() Availability { return u.avail }
func (u unavailableRecognizer) Close() error               { return nil }

// OpenRecognizer attempts construction and degrades to an unavailable stub
// carrying the failure reason. A panicking constructor is treated as a
// failure.
func OpenRecognizer(open func() (Recognizer, error)) (r Recognizer) {
	defer func() {
		if p := recover(); p != nil {
			r = NewUnavailableRecognizer(panicReason(p))
		}
	}()
	rec, err := open()
	if err != nil {
		return NewUnavailableRecognizer(err.Error())
	}
	if rec == nil {
		return NewUnavailableRecognizer("no recognizer returned")
	}
	return rec
}

// JoinText joins non-empty fragments with single spaces.
func JoinText(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}
