// Package whisper provides the accurate final-pass transcriber backed by
// whisper.cpp. Build with -tags whisper_cpp to link the native library;
// without it New always fails and the final engine degrades.
package whisper

import "errors"

// Config configures the whisper.cpp transcriber.
type Config struct {
	ModelPath string
	// Threads defaults to the number of CPUs.
	Threads int
	// Language is a whisper language code or "auto".
	Language string
	// CarryPrompt feeds the previous final text back as the initial prompt.
	CarryPrompt bool
}

var errNotBuilt = errors.New("built without whisper_cpp support")

const (
	// minSamples skips windows shorter than 100ms.
	minSamples = 1600
	// maxSamples is whisper's 30s context limit at 16kHz.
	maxSamples = 30 * 16000
	// maxPromptChars keeps the carried prompt well inside the token budget.
	maxPromptChars = 200
)

// tailPrompt trims text to its last maxPromptChars characters on a word
// boundary.
func tailPrompt(text string) string {
	if len(text) <= maxPromptChars {
		return text
	}
	cut := text[len(text)-maxPromptChars:]
	for i := 0; i < len(cut); i++ {
		if cut[i] == ' ' {
			return cut[i+1:]
		}
	}
	return cut
}
