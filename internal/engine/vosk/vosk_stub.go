//go:build !vosk

package vosk

import "github.com/obiente/translate/livescribe/internal/engine"

// New reports that libvosk is not linked into this binary.
func New(cfg Config) (engine.Recognizer, error) { return nil, errNotBuilt }
