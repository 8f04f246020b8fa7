// Package logging turns the log_level and log_format settings into a
// *slog.Logger for the chat binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options mirror the logging keys of the server config. Empty Level means
// info, empty Format means text and a nil Output writes to stdout.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseLevel maps a level name to its slog.Level, falling back to info.
func ParseLevel(level string) slog.Level {
	if l, ok := levels[normalize(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

// LevelNames is the list shown in flag help and error messages.
func LevelNames() string {
	return "debug, info, warn, error"
}

// Validate accepts the names in LevelNames, "warning" and "".
func Validate(level string) error {
	n := normalize(level)
	if _, ok := levels[n]; ok || n == "" {
		return nil
	}
	return fmt.Errorf("unknown log level %q (valid: %s)", level, LevelNames())
}

// New builds a logger for opts. The process default is left alone. At debug
// level records carry their source location.
func New(opts Options) (*slog.Logger, error) {
	if err := Validate(opts.Level); err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	level := ParseLevel(opts.Level)
	ho := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	switch normalize(opts.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(out, ho)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(out, ho)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (valid: text, json)", opts.Format)
	}
}

// Setup is New followed by slog.SetDefault.
func Setup(opts Options) (*slog.Logger, error) {
	logger, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}
