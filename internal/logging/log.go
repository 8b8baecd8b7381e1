// Package logging builds the process logger: a timestamped, append-only text
// log file mirrored to stdout.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// TimeFormat is the timestamp prefix of every log line.
const TimeFormat = "2006-01-02 15:04:05"

// ParseLevel maps a level name to a zerolog level, falling back to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// NewWriter returns a logger writing human-readable lines to w.
func NewWriter(w io.Writer, level string) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: TimeFormat}
	return zerolog.New(out).With().Timestamp().Logger().Level(ParseLevel(level))
}

// New opens path for appending and returns a logger that writes to it and to
// stdout. The returned closer releases the file.
func New(path, level string) (zerolog.Logger, io.Closer, error) {
	if path == "" {
		return NewWriter(os.Stdout, level), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	return NewWriter(io.MultiWriter(f, os.Stdout), level), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
