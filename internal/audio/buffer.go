package audio

import (
	"sync"
	"time"
)

// Buffer is a fixed-capacity ring of the most recent session audio. Samples
// are addressed by their session offset, so windows taken by time line up
// with frame offsets. One writer, many readers.
type Buffer struct {
	mu      sync.RWMutex
	data    []int16
	written int64 // absolute index of the next sample
}

// Window is a copy of buffered audio. Truncated is set when part of the
// requested range was already evicted or not yet written.
type Window struct {
	Start     time.Duration
	End       time.Duration
	Samples   []int16
	Truncated bool
}

func (w Window) Float32() []float32 { return ToFloat32(w.Samples) }

func (w Window) Empty() bool { return len(w.Samples) == 0 }

func NewBuffer(capacity time.Duration) *Buffer {
	n := DurationToSamples(capacity)
	if n <= 0 {
		n = SampleRate
	}
	return &Buffer{data: make([]int16, n)}
}

// Capacity returns how much audio the buffer retains.
func (b *Buffer) Capacity() time.Duration {
	return SamplesToDuration(len(b.data))
}

// Push stores the frame at its offset. A gap since the previous frame is
// filled with silence and any overlap with already written audio is skipped.
func (b *Buffer) Push(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := DurationToSamples(f.Offset)
	samples := f.Samples
	if pos < b.written {
		skip := b.written - pos
		if skip >= int64(len(samples)) {
			return
		}
		samples = samples[skip:]
		pos = b.written
	}
	if gap := pos - b.written; gap > 0 {
		b.fillSilence(gap)
	}
	b.write(samples)
}

// Window returns the samples between start and end, clamped to what the
// buffer still holds.
func (b *Buffer) Window(start, end time.Duration) Window {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := DurationToSamples(start)
	e := DurationToSamples(end)
	oldest := b.oldestLocked()
	w := Window{}
	if s < oldest {
		s = oldest
		w.Truncated = true
	}
	if e > b.written {
		e = b.written
		w.Truncated = true
	}
	if e <= s {
		w.Start, w.End = start, start
		w.Truncated = true
		return w
	}

	w.Samples = make([]int16, e-s)
	n := int64(len(b.data))
	for i := range w.Samples {
		w.Samples[i] = b.data[(s+int64(i))%n]
	}
	w.Start = SamplesToDuration(int(s))
	w.End = SamplesToDuration(int(e))
	return w
}

// Oldest returns the offset of the oldest retained sample.
func (b *Buffer) Oldest() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return SamplesToDuration(int(b.oldestLocked()))
}

// Newest returns the offset just past the most recent sample.
func (b *Buffer) Newest() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return SamplesToDuration(int(b.written))
}

func (b *Buffer) oldestLocked() int64 {
	if oldest := b.written - int64(len(b.data)); oldest > 0 {
		return oldest
	}
	return 0
}

func (b *Buffer) write(samples []int16) {
	n := int64(len(b.data))
	if int64(len(samples)) > n {
		b.written += int64(len(samples)) - n
		samples = samples[int64(len(samples))-n:]
	}
	for _, s := range samples {
		b.data[b.written%n] = s
		b.written++
	}
}

func (b *Buffer) fillSilence(count int64) {
	n := int64(len(b.data))
	if count > n {
		b.written += count - n
		count = n
	}
	for i := int64(0); i < count; i++ {
		b.data[b.written%n] = 0
		b.written++
	}
}
