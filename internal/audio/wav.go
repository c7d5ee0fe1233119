package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeWAV reads a WAV stream into mono float32 samples in [-1, 1] and
// returns them with the stream's sample rate. Multi-channel input is
// averaged down to one channel.
func DecodeWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, errors.New("empty wav buffer")
	}

	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = int(dec.BitDepth)
	}
	if depth <= 0 {
		depth = 16
	}
	scale := float32(int64(1) << (depth - 1))

	channels := int(dec.NumChans)
	if channels <= 0 && buf.Format != nil {
		channels = buf.Format.NumChannels
	}
	if channels <= 0 {
		channels = 1
	}

	out := make([]float32, len(buf.Data)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		out[i] = sum / float32(channels)
	}

	rate := int(dec.SampleRate)
	if rate == 0 && buf.Format != nil {
		rate = buf.Format.SampleRate
	}
	if rate == 0 {
		rate = SampleRate
	}
	return out, rate, nil
}

// DecodeWAVBytes is DecodeWAV over an in-memory blob.
func DecodeWAVBytes(b []byte) ([]float32, int, error) {
	return DecodeWAV(bytes.NewReader(b))
}

// Recorder streams PCM16 samples into a 16 kHz mono WAV file.
type Recorder struct {
	path    string
	f       *os.File
	enc     *wav.Encoder
	samples int64
}

func CreateRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &Recorder{
		path: path,
		f:    f,
		enc:  wav.NewEncoder(f, SampleRate, 16, 1, 1),
	}, nil
}

func (r *Recorder) Path() string { return r.path }

// Samples returns how many samples have been written so far.
func (r *Recorder) Samples() int64 { return r.samples }

func (r *Recorder) Write(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	if err := r.enc.Write(intBuffer(samples)); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	r.samples += int64(len(samples))
	return nil
}

// Close finalises the WAV header and closes the file.
func (r *Recorder) Close() error {
	encErr := r.enc.Close()
	fileErr := r.f.Close()
	if encErr != nil {
		return encErr
	}
	return fileErr
}

// EncodeWAV returns samples as a complete 16 kHz mono WAV blob.
func EncodeWAV(samples []int16) ([]byte, error) {
	var m memFile
	enc := wav.NewEncoder(&m, SampleRate, 16, 1, 1)
	if len(samples) > 0 {
		if err := enc.Write(intBuffer(samples)); err != nil {
			return nil, fmt.Errorf("encode wav: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	return m.buf, nil
}

func intBuffer(samples []int16) *goaudio.IntBuffer {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
}

// memFile is an in-memory io.WriteSeeker. The WAV encoder seeks back to
// patch chunk sizes once the data length is known.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("seek: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seek: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}
