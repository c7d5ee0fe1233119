// Package events carries transcription output out of the pipeline.
//
// Everything a session produces, text segments and status notices alike, is
// an Event delivered through a Sink. Sinks are fed by a Dispatcher so that a
// slow consumer never holds up audio processing.
package events

import (
	"encoding/json"
	"time"
)

// Segment is one externally visible piece of transcript text covering
// [Start, End) of the session audio.
//
// A final segment supersedes every partial previously emitted for an
// overlapping range. BestEffort marks a final that carries the fast engine's
// text because the accurate pass failed. Discarded marks an empty final that
// retracts the partials of a segment too short to transcribe.
type Segment struct {
	SessionID  string
	SegmentID  uint64
	Text       string
	IsFinal    bool
	BestEffort bool
	Discarded  bool
	Start      time.Duration
	End        time.Duration
	// Confidence is zero when unknown.
	Confidence float32
	Language   string
}

// Overlaps reports whether the two segments share any audio.
func (s Segment) Overlaps(o Segment) bool {
	return s.Start < o.End && o.Start < s.End
}

func (s Segment) Duration() time.Duration { return s.End - s.Start }

type segmentJSON struct {
	SessionID  string  `json:"sessionId,omitempty"`
	SegmentID  uint64  `json:"segmentId"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	BestEffort bool    `json:"bestEffort,omitempty"`
	Discarded  bool    `json:"discarded,omitempty"`
	StartMs    int64   `json:"startMs"`
	EndMs      int64   `json:"endMs"`
	Confidence float32 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
}

func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(segmentJSON{
		SessionID:  s.SessionID,
		SegmentID:  s.SegmentID,
		Text:       s.Text,
		IsFinal:    s.IsFinal,
		BestEffort: s.BestEffort,
		Discarded:  s.Discarded,
		StartMs:    s.Start.Milliseconds(),
		EndMs:      s.End.Milliseconds(),
		Confidence: s.Confidence,
		Language:   s.Language,
	})
}

func (s *Segment) UnmarshalJSON(b []byte) error {
	var j segmentJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*s = Segment{
		SessionID:  j.SessionID,
		SegmentID:  j.SegmentID,
		Text:       j.Text,
		IsFinal:    j.IsFinal,
		BestEffort: j.BestEffort,
		Discarded:  j.Discarded,
		Start:      time.Duration(j.StartMs) * time.Millisecond,
		End:        time.Duration(j.EndMs) * time.Millisecond,
		Confidence: j.Confidence,
		Language:   j.Language,
	}
	return nil
}
