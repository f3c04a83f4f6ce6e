// Package logging builds the zerolog loggers shared by every component.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls level, encoding and destination.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Writer io.Writer
}

// New returns a root logger. Unknown levels fall back to info.
func New(cfg Config) zerolog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Component derives a sub-logger tagged with the component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// Nop is a disabled logger for tests and optional dependencies.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
