// Package logger builds the single zerolog.Logger every component of this
// service derives its own sub-logger from via .With().Str("component", ...).
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls the process-wide logger built by New.
type Config struct {
	Level   string // any zerolog level name (debug, info, warn, error, ...); empty or unknown falls back to info
	Pretty  bool   // human-readable console writer instead of JSON lines
	Service string // attached to every line as "service"; optional
}

// New builds the process logger: JSON lines to stdout by default, or a
// colorized console writer when Pretty is set (local development only —
// production runs ship structured JSON for log aggregation).
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).With().Timestamp().Caller()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	return ctx.Logger()
}

// SetGlobalLogger installs l as the package-level logger zerolog/log.* uses.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
