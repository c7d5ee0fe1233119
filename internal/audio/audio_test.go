package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func ramp(n int, start int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = start + int16(i)
	}
	return out
}

func TestFramerCutsFixedFrames(t *testing.T) {
	f := NewFramer(20 * time.Millisecond)
	if f.FrameSize() != 320 {
		t.Fatalf("FrameSize() = %d, want 320", f.FrameSize())
	}

	frames := f.Write(make([]int16, 500))
	if len(frames) != 1 {
		t.Fatalf("first write produced %d frames, want 1", len(frames))
	}
	frames = append(frames, f.Write(make([]int16, 500))...)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, fr := range frames {
		if fr.Seq != uint64(i) {
			t.Errorf("frame %d Seq = %d", i, fr.Seq)
		}
		if want := time.Duration(i) * 20 * time.Millisecond; fr.Offset != want {
			t.Errorf("frame %d Offset = %v, want %v", i, fr.Offset, want)
		}
		if fr.Duration() != 20*time.Millisecond {
			t.Errorf("frame %d Duration = %v", i, fr.Duration())
		}
	}

	tail, ok := f.Flush()
	if !ok || len(tail.Samples) != 40 {
		t.Errorf("Flush() = %d samples ok=%v, want 40 true", len(tail.Samples), ok)
	}
	if tail.Offset != 60*time.Millisecond {
		t.Errorf("tail Offset = %v, want 60ms", tail.Offset)
	}
	if _, ok := f.Flush(); ok {
		t.Error("second Flush returned a frame")
	}
}

func TestPCMRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	out, err := DecodePCM16LE(EncodePCM16LE(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], in[i])
		}
	}
	if _, err := DecodePCM16LE([]byte{1, 2, 3}); err == nil {
		t.Error("odd-length input accepted")
	}
}

func TestToInt16Clamps(t *testing.T) {
	got := ToInt16([]float32{2, -2, 0.5})
	if got[0] != 32767 || got[1] != -32768 {
		t.Errorf("clamped = %v, want [32767 -32768 ...]", got[:2])
	}
	if got[2] != 16384 {
		t.Errorf("0.5 -> %d, want 16384", got[2])
	}
	if f := ToFloat32([]int16{-32768})[0]; f != -1 {
		t.Errorf("ToFloat32(-32768) = %v, want -1", f)
	}
}

func TestResampleLinear(t *testing.T) {
	in := make([]float32, 48000)
	out := ResampleLinear(in, 48000, 16000)
	if len(out) != 16000 {
		t.Errorf("len = %d, want 16000", len(out))
	}
	same := ResampleLinear([]float32{1, 2}, 16000, 16000)
	same[0] = 9
	if len(same) != 2 {
		t.Errorf("equal-rate resample changed length")
	}
}

func TestBufferWindowWithinCapacity(t *testing.T) {
	b := NewBuffer(time.Second)
	fr := NewFramer(20 * time.Millisecond)
	for _, f := range fr.Write(ramp(3200, 0)) {
		b.Push(f)
	}
	w := b.Window(50*time.Millisecond, 100*time.Millisecond)
	if w.Truncated {
		t.Error("window inside retained range marked truncated")
	}
	if len(w.Samples) != 800 {
		t.Fatalf("len = %d, want 800", len(w.Samples))
	}
	if w.Samples[0] != 800 {
		t.Errorf("first sample = %d, want 800", w.Samples[0])
	}
	if b.Newest() != 200*time.Millisecond {
		t.Errorf("Newest() = %v, want 200ms", b.Newest())
	}
}

func TestBufferEvictsOldest(t *testing.T) {
	b := NewBuffer(100 * time.Millisecond) // 1600 samples
	fr := NewFramer(20 * time.Millisecond)
	for _, f := range fr.Write(ramp(4800, 0)) {
		b.Push(f)
	}
	if b.Oldest() != 200*time.Millisecond {
		t.Errorf("Oldest() = %v, want 200ms", b.Oldest())
	}

	w := b.Window(0, 300*time.Millisecond)
	if !w.Truncated {
		t.Error("window over evicted audio not marked truncated")
	}
	if w.Start != 200*time.Millisecond || w.End != 300*time.Millisecond {
		t.Errorf("window = [%v, %v], want [200ms, 300ms]", w.Start, w.End)
	}
	if len(w.Samples) != 1600 || w.Samples[0] != 3200 {
		t.Errorf("window len=%d first=%d, want 1600 3200", len(w.Samples), w.Samples[0])
	}

	gone := b.Window(0, 50*time.Millisecond)
	if !gone.Empty() || !gone.Truncated {
		t.Errorf("fully evicted window = %d samples truncated=%v", len(gone.Samples), gone.Truncated)
	}
}

func TestBufferFillsGaps(t *testing.T) {
	b := NewBuffer(time.Second)
	b.Push(Frame{Offset: 0, Samples: ramp(160, 1)})
	b.Push(Frame{Offset: 20 * time.Millisecond, Samples: ramp(160, 1)})
	w := b.Window(0, 30*time.Millisecond)
	if len(w.Samples) != 480 {
		t.Fatalf("len = %d, want 480", len(w.Samples))
	}
	if w.Samples[200] != 0 {
		t.Errorf("gap sample = %d, want 0", w.Samples[200])
	}
	if w.Samples[320] != 1 {
		t.Errorf("second frame first sample = %d, want 1", w.Samples[320])
	}
}

func testTone() []int16 {
	tone := make([]int16, SampleRate/2)
	for i := range tone {
		tone[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	return tone
}

func assertSameTone(t *testing.T, samples []float32, rate int, tone []int16) {
	t.Helper()
	if rate != SampleRate {
		t.Errorf("rate = %d, want %d", rate, SampleRate)
	}
	if len(samples) != len(tone) {
		t.Fatalf("len = %d, want %d", len(samples), len(tone))
	}
	back := ToInt16(samples)
	for _, i := range []int{10, 1000, 5000} {
		if d := int(back[i]) - int(tone[i]); d > 1 || d < -1 {
			t.Errorf("sample %d = %d, want %d", i, back[i], tone[i])
		}
	}
}

func TestRecorderWritesReadableWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.wav")
	tone := testTone()
	rec, err := CreateRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	half := len(tone) / 2
	if err := rec.Write(tone[:half]); err != nil {
		t.Fatal(err)
	}
	if err := rec.Write(tone[half:]); err != nil {
		t.Fatal(err)
	}
	if rec.Samples() != int64(len(tone)) {
		t.Errorf("Samples() = %d, want %d", rec.Samples(), len(tone))
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	samples, rate, err := DecodeWAV(f)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	assertSameTone(t, samples, rate, tone)
}

func TestEncodeWAVInMemory(t *testing.T) {
	tone := testTone()
	blob, err := EncodeWAV(tone)
	if err != nil {
		t.Fatal(err)
	}
	if want := 44 + 2*len(tone); len(blob) != want {
		t.Errorf("blob is %d bytes, want %d", len(blob), want)
	}
	samples, rate, err := DecodeWAVBytes(blob)
	if err != nil {
		t.Fatalf("DecodeWAVBytes: %v", err)
	}
	assertSameTone(t, samples, rate, tone)
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAVBytes([]byte("not a wav file at all")); err == nil {
		t.Error("garbage accepted as wav")
	}
}
