// Package backend maps configuration onto concrete speech engines. Every
// construction failure degrades to an unavailable engine; nothing here
// returns an error.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/config"
	"github.com/obiente/translate/livescribe/internal/engine"
	"github.com/obiente/translate/livescribe/internal/engine/gcloud"
	"github.com/obiente/translate/livescribe/internal/engine/openai"
	"github.com/obiente/translate/livescribe/internal/engine/vosk"
	"github.com/obiente/translate/livescribe/internal/engine/whisper"
)

const disabled = "disabled by configuration"

// NewRecognizer opens the fast streaming engine named by cfg.Backend.
func NewRecognizer(cfg config.FastConfig) engine.Recognizer {
	return engine.OpenRecognizer(func() (engine.Recognizer, error) {
		switch cfg.Backend {
		case "vosk":
			return vosk.New(vosk.Config{ModelPath: cfg.ModelPath, SampleRate: audio.SampleRate})
		case "none", "":
			return nil, errors.New(disabled)
		default:
			return nil, fmt.Errorf("unknown fast backend %q", cfg.Backend)
		}
	})
}

// NewFinalEngine opens the accurate engine named by cfg.Backend and starts
// its worker.
func NewFinalEngine(ctx context.Context, cfg config.FinalConfig, opts engine.FinalOptions) *engine.FinalEngine {
	if opts.QueueCapacity == 0 {
		opts.QueueCapacity = cfg.QueueCapacity
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = cfg.RequestTimeout
	}
	return engine.OpenFinalEngine(func() (engine.Transcriber, error) {
		switch cfg.Backend {
		case "whisper":
			return whisper.New(whisper.Config{
				ModelPath:   cfg.ModelPath,
				Threads:     cfg.Threads,
				Language:    cfg.Language,
				CarryPrompt: cfg.CarryPrompt,
			})
		case "openai":
			return openai.New(openai.Config{
				URL:         cfg.OpenAI.URL,
				Model:       cfg.OpenAI.Model,
				APIKey:      cfg.OpenAI.APIKey,
				Language:    cfg.Language,
				Timeout:     cfg.OpenAI.Timeout,
				CarryPrompt: cfg.CarryPrompt,
			})
		case "gcloud":
			return gcloud.New(ctx, gcloud.Config{
				LanguageCode: cfg.GCloud.LanguageCode,
				Model:        cfg.GCloud.Model,
			})
		case "none", "":
			return nil, errors.New(disabled)
		default:
			return nil, fmt.Errorf("unknown final backend %q", cfg.Backend)
		}
	}, opts)
}
