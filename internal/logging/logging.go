package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Setup.
type Options struct {
	Level string
	// File, when set, receives log output through a rotating writer in
	// addition to stderr.
	File string
	// JSON forces the JSON handler. Otherwise JSON is used only when
	// stderr is not a terminal.
	JSON bool
}

// ParseLevel accepts "debug", "info", "warn", "error" (case-insensitive).
// Defaults to info if the level string is unrecognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup creates a configured *slog.Logger, sets it as the default, and returns it.
// The returned closer flushes and closes the log file, if any.
func Setup(opts Options) (*slog.Logger, io.Closer) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	jsonOut := opts.JSON || !isatty.IsTerminal(os.Stderr.Fd())

	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj
		jsonOut = true
	}

	logger := New(w, ParseLevel(opts.Level), jsonOut)
	slog.SetDefault(logger)
	return logger, closer
}

// New builds a logger writing to w.
func New(w io.Writer, level slog.Level, jsonOut bool) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: level}
	if jsonOut {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
