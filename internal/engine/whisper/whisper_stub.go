//go:build !whisper_cpp

package whisper

import "github.com/obiente/translate/livescribe/internal/engine"

// New reports that the native backend is not linked into this binary.
func New(cfg Config) (engine.Transcriber, error) { return nil, errNotBuilt }
