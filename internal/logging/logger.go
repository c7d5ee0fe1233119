// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// Init installs the global logger. Unknown levels fall back to info.
func Init(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}

	log.Logger = zerolog.New(out).
		With().
		Timestamp().
		Str("service", "livescribe").
		Logger()
	return log.Logger
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithSession returns a logger tagged with a session id.
func WithSession(l zerolog.Logger, sessionID string) zerolog.Logger {
	return l.With().Str("session", sessionID).Logger()
}
