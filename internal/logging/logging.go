// Package logging builds zerolog.Logger instances for injection at
// construction (RemoteStore's Config.Logger takes one), adapted from the
// teacher's pkg/log/log.go (Config/Init, WithComponent child-logger pattern),
// de-globalized: this module has no process-wide Logger variable. The other
// store layers take no zerolog.Logger; cachestore, lrustore and
// recoverablestore take error-callback functions instead.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Level mirrors the teacher's string-keyed level config.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls a constructed logger's level and output shape.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// New builds a zerolog.Logger per cfg. A nil Output writes to os.Stdout and
// an unrecognized Level means info; use Nop for a logger that discards
// everything.
func New(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		return zerolog.New(output).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, the default for layers
// constructed without an explicit logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// WithComponent returns a child logger tagged with component, the same
// pattern as the teacher's WithComponent/WithServiceID helpers.
func WithComponent(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// NewRequestID mints a correlation ID for a RemoteStore request, the same
// UUID-based token the teacher's middleware/logging.go generates per HTTP
// request, rehomed here since this module has no inbound HTTP server of its
// own to attach middleware to.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID returns a child logger tagged with the correlation ID for a
// single RemoteStore request lifecycle.
func WithRequestID(base zerolog.Logger, requestID string) zerolog.Logger {
	return base.With().Str("request_id", requestID).Logger()
}
