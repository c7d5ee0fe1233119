//go:build vosk

package vosk

import (
	"fmt"
	"os"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/engine"
)

// Recognizer streams frames into a Vosk recognizer. It is driven from a
// single goroutine.
type Recognizer struct {
	model    *vosk.VoskModel
	rec      *vosk.VoskRecognizer
	endpoint bool
}

func New(cfg Config) (engine.Recognizer, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("vosk model: %w", err)
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = audio.SampleRate
	}

	vosk.SetLogLevel(-1)
	model, err := vosk.NewModel(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	rec, err := vosk.NewRecognizer(model, rate)
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("create recognizer: %w", err)
	}

	log.Info().Str("model", cfg.ModelPath).Float64("sample_rate", rate).Msg("vosk: model loaded")
	return &Recognizer{model: model, rec: rec}, nil
}

func (r *Recognizer) Accept(samples []int16) bool {
	if len(samples) == 0 {
		return false
	}
	r.endpoint = r.rec.AcceptWaveform(audio.EncodePCM16LE(samples)) == 1
	return r.endpoint
}

func (r *Recognizer) Partial() (string, bool) {
	text := parsePartial(r.rec.PartialResult())
	return text, text != ""
}

// Final returns the utterance that ended at the last endpoint, or forces the
// current one to finish when no endpoint was reached.
func (r *Recognizer) Final() (string, bool) {
	var raw string
	if r.endpoint {
		raw = r.rec.Result()
		r.endpoint = false
	} else {
		raw = r.rec.FinalResult()
	}
	text := parseText(raw)
	return text, text != ""
}

func (r *Recognizer) Availability() engine.Availability { return engine.Ready() }

func (r *Recognizer) Close() error {
	r.rec.Free()
	r.model.Free()
	return nil
}
