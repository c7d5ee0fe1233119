// Package vosk provides the fast streaming recognizer backed by Vosk. Build
// with -tags vosk to link libvosk; without it New always fails and the
// pipeline runs finals only.
package vosk

import (
	"encoding/json"
	"errors"
	"strings"
)

type Config struct {
	ModelPath  string
	SampleRate float64
}

var errNotBuilt = errors.New("built without vosk support")

type partialResult struct {
	Partial string `json:"partial"`
}

type textResult struct {
	Text string `json:"text"`
}

func parsePartial(raw string) string {
	var r partialResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return ""
	}
	return strings.TrimSpace(r.Partial)
}

func parseText(raw string) string {
	var r textResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return ""
	}
	return strings.TrimSpace(r.Text)
}
