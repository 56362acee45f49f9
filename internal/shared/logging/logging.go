package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New creates the process logger. In development it writes human-readable
// console output; everywhere else, JSON lines. Log events carry opaque
// identifiers only — free-text patient data never reaches a log field.
func New(service, env string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Str("service", service).Logger()
	}
	return logger
}
