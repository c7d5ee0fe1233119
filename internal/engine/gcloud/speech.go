// Package gcloud is a final-pass transcriber backed by Google Cloud
// Speech-to-Text synchronous recognition.
package gcloud

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/engine"
)

type Config struct {
	LanguageCode string
	Model        string
}

// recognizer is the subset of the Speech client used here.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

type clientAdapter struct {
	c *speech.Client
}

func (a clientAdapter) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return a.c.Recognize(ctx, req)
}

func (a clientAdapter) Close() error { return a.c.Close() }

type Transcriber struct {
	cfg    Config
	client recognizer
}

// New dials the Speech API using application default credentials.
func New(ctx context.Context, cfg Config) (*Transcriber, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return newTranscriber(clientAdapter{c: c}, cfg), nil
}

func newTranscriber(r recognizer, cfg Config) *Transcriber {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	return &Transcriber{cfg: cfg, client: r}
}

func (t *Transcriber) Close() error { return t.client.Close() }

func (t *Transcriber) Transcribe(ctx context.Context, window []float32) (engine.Result, error) {
	if len(window) == 0 {
		return engine.Result{}, nil
	}
	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            audio.SampleRate,
			LanguageCode:               t.cfg.LanguageCode,
			Model:                      t.cfg.Model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{
				Content: audio.EncodePCM16LE(audio.ToInt16(window)),
			},
		},
	}
	resp, err := t.client.Recognize(ctx, req)
	if err != nil {
		return engine.Result{}, fmt.Errorf("recognize: %w", err)
	}

	var (
		texts []string
		conf  float32
		n     int
		lang  string
	)
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		texts = append(texts, strings.TrimSpace(alts[0].GetTranscript()))
		conf += alts[0].GetConfidence()
		n++
		if lang == "" {
			lang = r.GetLanguageCode()
		}
	}
	res := engine.Result{Text: engine.JoinText(texts...), Language: lang}
	if n > 0 {
		res.Confidence = conf / float32(n)
	}
	return res, nil
}
