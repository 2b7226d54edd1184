package observe

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileConfig configures the optional rotating log file.
type LogFileConfig struct {
	// Path of the active log file. Empty disables file logging.
	Path string

	// MaxSizeMB is the size at which the file is rotated. Default: 10.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. Default: 3.
	MaxBackups int

	// MaxAgeDays removes rotated files older than this. 0 keeps them.
	MaxAgeDays int

	// Compress gzips rotated files.
	Compress bool
}

// NewLogger builds the process logger. Records go to stderr and, when
// cfg.Path is set, to a size-rotated file. The returned closer flushes and
// closes the file; it is a no-op without one.
func NewLogger(level slog.Leveler, cfg LogFileConfig) (*slog.Logger, io.Closer) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.Path != "" {
		if cfg.MaxSizeMB <= 0 {
			cfg.MaxSizeMB = 10
		}
		if cfg.MaxBackups <= 0 {
			cfg.MaxBackups = 3
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
