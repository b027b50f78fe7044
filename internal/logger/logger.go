// Package logger builds the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var setGlobals sync.Once

// New returns a logger for env and level. Development environments get a
// human readable console writer on stderr; every other environment gets JSON
// lines. When writers are given, JSON is written to all of them instead.
func New(env, level string, writers ...io.Writer) (*zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	setGlobals.Do(func() {
		zerolog.DurationFieldUnit = time.Millisecond
	})

	var output io.Writer
	switch {
	case len(writers) > 0:
		output = io.MultiWriter(writers...)
	case IsDevelopment(env):
		output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	default:
		output = os.Stderr
	}

	logger := zerolog.New(output).With().Timestamp().Str("service", "coderelay").Logger().Level(lvl)
	return &logger, nil
}

// ParseLevel accepts zerolog level names in any case; empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

func IsDevelopment(env string) bool {
	return strings.EqualFold(env, "development") || strings.EqualFold(env, "dev")
}
