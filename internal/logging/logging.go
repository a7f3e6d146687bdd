// Package logging builds the zerolog loggers injected into each
// component. There is no global logger state; every component receives
// a child of the root logger at construction time.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging settings.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// New builds the root logger for the process.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Format, "console") {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name.
func Component(root zerolog.Logger, name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}

// Session returns a child logger tagged with a session id.
func Session(root zerolog.Logger, sessionID string) zerolog.Logger {
	return root.With().Str("sessionId", sessionID).Logger()
}

// Nop returns a discard-everything logger for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
