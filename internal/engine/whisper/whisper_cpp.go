//go:build whisper_cpp

package whisper

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/livescribe/internal/engine"
)

// Transcriber runs whisper.cpp over closed speech segments. The model is not
// reentrant; it is only ever called from the final engine's worker.
type Transcriber struct {
	model       whisperpkg.Model
	threads     uint
	language    string
	carryPrompt bool
	prompt      string
}

// New loads the model. A missing or unreadable model file is returned as an
// error so the caller can degrade.
func New(cfg Config) (engine.Transcriber, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("whisper model: %w", err)
	}

	threads := uint(runtime.NumCPU())
	if cfg.Threads > 0 {
		threads = uint(cfg.Threads)
	}
	lang := cfg.Language
	if lang == "" {
		lang = "auto"
	}

	m, err := whisperpkg.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	log.Info().
		Str("model", cfg.ModelPath).
		Uint("threads", threads).
		Str("language", lang).
		Msg("whisper: model loaded")
	return &Transcriber{
		model:       m,
		threads:     threads,
		language:    lang,
		carryPrompt: cfg.CarryPrompt,
	}, nil
}

func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe runs a full-context pass over window and returns the joined
// segment text with the mean token probability as confidence.
func (t *Transcriber) Transcribe(ctx context.Context, window []float32) (engine.Result, error) {
	if len(window) < minSamples {
		log.Debug().Int("samples", len(window)).Msg("whisper: skipping too-short window")
		return engine.Result{}, nil
	}
	if len(window) > maxSamples {
		log.Warn().Int("samples", len(window)).Int("max", maxSamples).Msg("whisper: truncating long window")
		window = window[len(window)-maxSamples:]
	}
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return engine.Result{}, fmt.Errorf("create context: %w", err)
	}
	wctx.SetThreads(t.threads)
	if err := wctx.SetLanguage(t.language); err != nil {
		return engine.Result{}, fmt.Errorf("set language %q: %w", t.language, err)
	}
	wctx.SetSplitOnWord(true)
	wctx.SetTokenTimestamps(true)
	wctx.SetMaxSegmentLength(0)
	wctx.SetMaxTokensPerSegment(0)
	wctx.SetAudioCtx(0)
	if t.carryPrompt && t.prompt != "" {
		wctx.SetInitialPrompt(t.prompt)
	}

	if err := wctx.Process(window, nil, nil, nil); err != nil {
		return engine.Result{}, fmt.Errorf("process audio: %w", err)
	}

	var (
		texts  []string
		pSum   float32
		tokens int
	)
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return engine.Result{}, fmt.Errorf("read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			texts = append(texts, text)
		}
		for _, tok := range seg.Tokens {
			pSum += tok.P
			tokens++
		}
	}

	res := engine.Result{Text: engine.JoinText(texts...)}
	if tokens > 0 {
		res.Confidence = pSum / float32(tokens)
	}
	res.Language = wctx.Language()
	if res.Language == "" || res.Language == "auto" {
		res.Language = wctx.DetectedLanguage()
	}
	if t.carryPrompt && res.Text != "" {
		t.prompt = tailPrompt(res.Text)
	}

	log.Debug().
		Str("text", res.Text).
		Str("lang", res.Language).
		Int("segments", len(texts)).
		Int("samples", len(window)).
		Msg("whisper: transcription complete")
	return res, nil
}
