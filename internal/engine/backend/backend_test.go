package backend

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/config"
	"github.com/obiente/translate/livescribe/internal/engine"
)

func TestNewRecognizerDegrades(t *testing.T) {
	tests := []struct {
		backend string
		reason  string
	}{
		{"none", disabled},
		{"", disabled},
		{"kaldi", "unknown fast backend"},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			r := NewRecognizer(config.FastConfig{Backend: tt.backend})
			a := r.Availability()
			if a.Available {
				t.Fatal("recognizer reported available")
			}
			if !strings.Contains(a.Reason, tt.reason) {
				t.Errorf("Reason = %q, want it to contain %q", a.Reason, tt.reason)
			}
		})
	}
}

func TestNewFinalEngineSelection(t *testing.T) {
	ctx := context.Background()
	opts := engine.FinalOptions{Logger: zerolog.Nop()}

	off := NewFinalEngine(ctx, config.FinalConfig{Backend: "none"}, opts)
	if off.Availability().Available || off.Availability().Reason != disabled {
		t.Errorf("none backend: %v", off.Availability())
	}

	bad := NewFinalEngine(ctx, config.FinalConfig{Backend: "openai"}, opts)
	if bad.Availability().Available {
		t.Error("openai without url reported available")
	}

	cfg := config.Default().Final
	cfg.Backend = "openai"
	cfg.OpenAI.URL = "http://127.0.0.1:1/v1/audio/transcriptions"
	ok := NewFinalEngine(ctx, cfg, opts)
	defer ok.Close(ctx)
	if !ok.Availability().Available {
		t.Errorf("openai backend: %v", ok.Availability())
	}
}
