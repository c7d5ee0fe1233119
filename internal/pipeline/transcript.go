package pipeline

import (
	"sort"
	"sync"

	"github.com/obiente/translate/livescribe/internal/engine"
	"github.com/obiente/translate/livescribe/internal/events"
)

// Transcript accumulates the latest text of every segment of a session.
// A final replaces the partials of its own segment and any other partial
// covering overlapping audio; a partial never replaces a final.
type Transcript struct {
	mu   sync.Mutex
	segs map[uint64]events.Segment
}

func NewTranscript() *Transcript {
	return &Transcript{segs: make(map[uint64]events.Segment)}
}

func (t *Transcript) Add(seg events.Segment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.segs[seg.SegmentID]; ok && cur.IsFinal && !seg.IsFinal {
		return
	}
	if seg.IsFinal {
		for id, cur := range t.segs {
			if id != seg.SegmentID && !cur.IsFinal && cur.Overlaps(seg) {
				delete(t.segs, id)
			}
		}
	}
	t.segs[seg.SegmentID] = seg
}

func (t *Transcript) Remove(id uint64) {
	t.mu.Lock()
	delete(t.segs, id)
	t.mu.Unlock()
}

// Segments returns the transcript ordered by start time.
func (t *Transcript) Segments() []events.Segment {
	t.mu.Lock()
	out := make([]events.Segment, 0, len(t.segs))
	for _, s := range t.segs {
		if s.Text != "" {
			out = append(out, s)
		}
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].SegmentID < out[j].SegmentID
	})
	return out
}

func (t *Transcript) Text() string {
	segs := t.Segments()
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.Text
	}
	return engine.JoinText(parts...)
}
