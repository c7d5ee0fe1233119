package pipeline

import (
	"errors"
	"fmt"
	"sync"
)

// Phase is the reconciliation state of one speech segment.
type Phase int

const (
	// PhaseAwaitingPartials: the segment is open and partials may be emitted.
	PhaseAwaitingPartials Phase = iota
	// PhaseAwaitingFinal: the segment is closed and waits for the accurate
	// pass. The last partial stands for its range.
	PhaseAwaitingFinal
	// PhaseResolved is terminal.
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingPartials:
		return "AWAITING_PARTIALS"
	case PhaseAwaitingFinal:
		return "AWAITING_FINAL"
	case PhaseResolved:
		return "RESOLVED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", p)
	}
}

var (
	ErrSegmentResolved      = errors.New("segment already resolved")
	ErrPartialAfterClose    = errors.New("cannot emit partial after segment close")
	ErrSegmentAlreadyClosed = errors.New("segment already closed")
)

// lifecycle guards the phase transitions of a single segment:
//
//	AWAITING_PARTIALS ──Close()──→ AWAITING_FINAL ──Resolve()──→ RESOLVED
//	        │                                                      ↑
//	        └──────────────────── Resolve() ───────────────────────┘
//
// Resolve succeeds exactly once.
type lifecycle struct {
	mu    sync.Mutex
	id    uint64
	phase Phase
}

func newLifecycle(id uint64) *lifecycle {
	return &lifecycle{id: id}
}

func (l *lifecycle) ID() uint64 { return l.id }

func (l *lifecycle) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// EmitPartial reports whether a partial may be emitted now.
func (l *lifecycle) EmitPartial() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.phase {
	case PhaseAwaitingPartials:
		return nil
	case PhaseAwaitingFinal:
		return ErrPartialAfterClose
	default:
		return ErrSegmentResolved
	}
}

// Close moves an open segment to AWAITING_FINAL.
func (l *lifecycle) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.phase {
	case PhaseAwaitingPartials:
		l.phase = PhaseAwaitingFinal
		return nil
	case PhaseAwaitingFinal:
		return ErrSegmentAlreadyClosed
	default:
		return ErrSegmentResolved
	}
}

// Resolve moves the segment to RESOLVED and reports whether this call did
// it. The caller that gets true owns the segment's final emission.
func (l *lifecycle) Resolve() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase == PhaseResolved {
		return false
	}
	l.phase = PhaseResolved
	return true
}
