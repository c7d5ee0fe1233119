// Package openai is a final-pass transcriber that calls an OpenAI-compatible
// /v1/audio/transcriptions endpoint (OpenAI, speaches, whisper-server).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/engine"
)

type Config struct {
	URL      string
	Model    string
	APIKey   string
	Language string
	Timeout  time.Duration
	// CarryPrompt sends the previous final text as the prompt.
	CarryPrompt bool
}

// Client implements engine.Transcriber over HTTP.
type Client struct {
	cfg    Config
	client *http.Client
	prompt string
}

type response struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []segment `json:"segments"`
}

type segment struct {
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("openai transcriber: url not configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// Transcribe uploads window as a 16 kHz WAV file.
func (c *Client) Transcribe(ctx context.Context, window []float32) (engine.Result, error) {
	if len(window) == 0 {
		return engine.Result{}, nil
	}
	wav, err := audio.EncodeWAV(audio.ToInt16(window))
	if err != nil {
		return engine.Result{}, err
	}
	resp, err := c.post(ctx, wav)
	if err != nil {
		return engine.Result{}, err
	}

	res := engine.Result{
		Text:       strings.TrimSpace(resp.Text),
		Language:   resp.Language,
		Confidence: confidence(resp.Segments),
	}
	if c.cfg.CarryPrompt && res.Text != "" {
		c.prompt = res.Text
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, wav []byte) (*response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "segment.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	if c.cfg.Model != "" {
		w.WriteField("model", c.cfg.Model)
	}
	if c.cfg.Language != "" && c.cfg.Language != "auto" {
		w.WriteField("language", c.cfg.Language)
	}
	w.WriteField("temperature", "0")
	w.WriteField("response_format", "verbose_json")
	if c.prompt != "" {
		w.WriteField("prompt", c.prompt)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription API error (status %d): %s", resp.StatusCode, string(body))
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// confidence maps the mean segment log probability to [0, 1].
func confidence(segs []segment) float32 {
	if len(segs) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segs {
		sum += s.AvgLogprob
	}
	return float32(math.Exp(sum / float64(len(segs))))
}
