package audio

import "time"

const (
	// SampleRate is the only rate the pipeline runs at. Input at other rates
	// is resampled before framing.
	SampleRate = 16000

	DefaultFrameDuration = 20 * time.Millisecond
)

// Frame is a fixed-size run of mono PCM16 samples. Offset is the position of
// the first sample relative to the start of the session.
type Frame struct {
	Seq     uint64
	Offset  time.Duration
	Samples []int16
}

func (f Frame) Duration() time.Duration {
	return SamplesToDuration(len(f.Samples))
}

func (f Frame) End() time.Duration {
	return f.Offset + f.Duration()
}

func SamplesToDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

func DurationToSamples(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d * SampleRate / time.Second)
}

// Framer cuts arbitrarily sized sample runs into frames of a fixed size and
// stamps them with sequence numbers and session offsets. It is not safe for
// concurrent use.
type Framer struct {
	size    int
	pending []int16
	seq     uint64
	written int64
}

func NewFramer(frame time.Duration) *Framer {
	if frame <= 0 {
		frame = DefaultFrameDuration
	}
	size := int(DurationToSamples(frame))
	if size <= 0 {
		size = 1
	}
	return &Framer{size: size, pending: make([]int16, 0, size)}
}

// FrameSize returns the number of samples per frame.
func (f *Framer) FrameSize() int { return f.size }

// Write buffers samples and returns every complete frame they produce.
func (f *Framer) Write(samples []int16) []Frame {
	var out []Frame
	for len(samples) > 0 {
		n := f.size - len(f.pending)
		if n > len(samples) {
			n = len(samples)
		}
		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]
		if len(f.pending) == f.size {
			out = append(out, f.emit())
		}
	}
	return out
}

// Flush returns the trailing short frame, if any.
func (f *Framer) Flush() (Frame, bool) {
	if len(f.pending) == 0 {
		return Frame{}, false
	}
	return f.emit(), true
}

func (f *Framer) emit() Frame {
	samples := make([]int16, len(f.pending))
	copy(samples, f.pending)
	fr := Frame{
		Seq:     f.seq,
		Offset:  SamplesToDuration(int(f.written)),
		Samples: samples,
	}
	f.seq++
	f.written += int64(len(samples))
	f.pending = f.pending[:0]
	return fr
}
