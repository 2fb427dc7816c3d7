// Package logger builds the process zerolog logger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger
type Options struct {
	Level string
	// File enables a rotating JSON log file next to the console output
	File string
	// Out overrides stdout, mostly for tests
	Out io.Writer
}

// New returns a console logger, teeing into a rotating file when one is configured
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), errors.Wrapf(err, "invalid log level %q", opts.Level)
		}
		level = l
	}

	out := opts.Out
	isTerminal := false
	if out == nil {
		out = os.Stdout
		isTerminal = term.IsTerminal(int(os.Stdout.Fd()))
	}

	var w io.Writer = zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    !isTerminal,
		TimeFormat: time.RFC3339,
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return zerolog.Nop(), errors.Wrap(err, "failed to create log directory")
		}
		w = zerolog.MultiLevelWriter(w, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Component returns a child logger tagged with a component name
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
