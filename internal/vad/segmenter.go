package vad

import (
	"fmt"
	"time"

	"github.com/obiente/translate/livescribe/internal/audio"
)

// State is the segmenter's position in the hysteresis cycle.
type State int

const (
	Silence State = iota
	SpeechStarting
	Speech
	SpeechEnding
)

func (s State) String() string {
	switch s {
	case Silence:
		return "silence"
	case SpeechStarting:
		return "speech_starting"
	case Speech:
		return "speech"
	case SpeechEnding:
		return "speech_ending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the segmentation policy.
type Config struct {
	// FramesToOpen consecutive active frames open a segment.
	FramesToOpen int
	// FramesToClose consecutive inactive frames close it.
	FramesToClose int
	// MaxSegment force-closes a segment that has been open this long.
	MaxSegment time.Duration
	// MinSegment discards closed segments shorter than this.
	MinSegment time.Duration
}

func DefaultConfig() Config {
	return Config{
		FramesToOpen:  5,
		FramesToClose: 8,
		MaxSegment:    15 * time.Second,
		MinSegment:    250 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FramesToOpen <= 0 {
		c.FramesToOpen = d.FramesToOpen
	}
	if c.FramesToClose <= 0 {
		c.FramesToClose = d.FramesToClose
	}
	if c.MaxSegment <= 0 {
		c.MaxSegment = d.MaxSegment
	}
	if c.MinSegment < 0 {
		c.MinSegment = 0
	}
	return c
}

// Segment is a contiguous span of detected speech. End is zero while the
// segment is open.
type Segment struct {
	ID       uint64
	Start    time.Duration
	End      time.Duration
	FirstSeq uint64
	LastSeq  uint64
}

func (s Segment) Duration() time.Duration { return s.End - s.Start }

type EventKind int

const (
	Opened EventKind = iota + 1
	Closed
)

func (k EventKind) String() string {
	switch k {
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event reports a segment boundary. At is the stream position at which the
// boundary was decided; Segment.Start and Segment.End are backdated to the
// first and last active frame.
type Event struct {
	Kind      EventKind
	Segment   Segment
	At        time.Duration
	Forced    bool
	Discarded bool
}

// Segmenter applies hysteresis to a classification stream. It is not safe
// for concurrent use.
type Segmenter struct {
	cfg   Config
	state State
	run   int

	pendingStart time.Duration
	pendingSeq   uint64

	lastActiveEnd time.Duration
	lastActiveSeq uint64
	lastFrameEnd  time.Duration
	lastSeq       uint64

	current *Segment
	nextID  uint64
}

func NewSegmenter(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg.withDefaults(), nextID: 1}
}

func (s *Segmenter) Config() Config { return s.cfg }

func (s *Segmenter) State() State { return s.state }

// Current returns the open segment, if any.
func (s *Segmenter) Current() (Segment, bool) {
	if s.current == nil {
		return Segment{}, false
	}
	return *s.current, true
}

// Process advances the state machine by one frame.
func (s *Segmenter) Process(f audio.Frame, c Classification) []Event {
	end := f.End()
	s.lastFrameEnd = end
	s.lastSeq = f.Seq

	var events []Event
	switch s.state {
	case Silence:
		if c.Active {
			s.state = SpeechStarting
			s.run = 1
			s.pendingStart = f.Offset
			s.pendingSeq = f.Seq
			if s.run >= s.cfg.FramesToOpen {
				events = append(events, s.open(f))
			}
		}
	case SpeechStarting:
		if c.Active {
			s.run++
			if s.run >= s.cfg.FramesToOpen {
				events = append(events, s.open(f))
			}
		} else {
			s.state = Silence
			s.run = 0
		}
	case Speech:
		if c.Active {
			s.markActive(f)
		} else {
			s.state = SpeechEnding
			s.run = 1
			if s.run >= s.cfg.FramesToClose {
				events = append(events, s.close(end, false))
			}
		}
	case SpeechEnding:
		if c.Active {
			s.state = Speech
			s.run = 0
			s.markActive(f)
		} else {
			s.run++
			if s.run >= s.cfg.FramesToClose {
				events = append(events, s.close(end, false))
			}
		}
	}

	if s.current != nil && end-s.current.Start >= s.cfg.MaxSegment {
		s.lastActiveEnd = end
		s.lastActiveSeq = f.Seq
		s.state = SpeechEnding
		events = append(events, s.close(end, true))
	}
	return events
}

// Flush force-closes an open segment, for example when the session stops.
// A run that had not yet opened a segment is abandoned.
func (s *Segmenter) Flush() []Event {
	switch s.state {
	case SpeechStarting:
		s.state = Silence
		s.run = 0
		return nil
	case Speech, SpeechEnding:
		s.state = SpeechEnding
		return []Event{s.close(s.lastFrameEnd, true)}
	default:
		return nil
	}
}

func (s *Segmenter) open(f audio.Frame) Event {
	s.state = Speech
	s.run = 0
	s.current = &Segment{
		ID:       s.nextID,
		Start:    s.pendingStart,
		FirstSeq: s.pendingSeq,
	}
	s.nextID++
	s.markActive(f)
	return Event{Kind: Opened, Segment: *s.current, At: f.End()}
}

func (s *Segmenter) markActive(f audio.Frame) {
	s.lastActiveEnd = f.End()
	s.lastActiveSeq = f.Seq
}

// close moves SpeechEnding to Silence and reports the finished segment.
func (s *Segmenter) close(at time.Duration, forced bool) Event {
	seg := *s.current
	seg.End = s.lastActiveEnd
	seg.LastSeq = s.lastActiveSeq
	s.current = nil
	s.state = Silence
	s.run = 0
	return Event{
		Kind:      Closed,
		Segment:   seg,
		At:        at,
		Forced:    forced,
		Discarded: seg.Duration() < s.cfg.MinSegment,
	}
}
