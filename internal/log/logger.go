package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog logger with the given level string (debug, info, warn, error).
// When json is true the logger writes raw JSON lines instead of the console format.
func New(level string, json bool) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer = os.Stdout
	if !json {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(output).Level(parseLevel(level)).With().Timestamp().Logger()
	return &logger
}

// Component returns a child logger tagged with a component name.
func Component(logger *zerolog.Logger, name string) *zerolog.Logger {
	child := logger.With().Str("component", name).Logger()
	return &child
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
