// Package logging configures the global zerolog logger from LoggingSettings.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"mt5-bot/internal/cfg"
)

const mib = 1 << 20

var levels = map[string]zerolog.Level{
	"DEBUG":    zerolog.DebugLevel,
	"INFO":     zerolog.InfoLevel,
	"WARNING":  zerolog.WarnLevel,
	"ERROR":    zerolog.ErrorLevel,
	"CRITICAL": zerolog.FatalLevel,
}

// ParseLevel maps a configured level name to a zerolog level.
func ParseLevel(name string) (zerolog.Level, error) {
	lvl, ok := levels[name]
	if !ok {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return lvl, nil
}

// Setup points the global logger at the console and, when FilePath is set,
// at a log file rotated at MaxFileSize that keeps BackupCount old copies. The returned Closer releases the file.
func Setup(s cfg.LoggingSettings) (io.Closer, error) {
	return setup(s, os.Stderr)
}

func setup(s cfg.LoggingSettings, console io.Writer) (io.Closer, error) {
	lvl, err := ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	out := zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	if s.FilePath == "" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return nopCloser{}, nil
	}

	if dir := filepath.Dir(s.FilePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	file, err := openFile(s)
	if err != nil {
		return nil, err
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(out, file)).With().Timestamp().Logger()
	return file, nil
}

// openFile rotates only when at least one backup is kept. lumberjack reads
// MaxBackups 0 as "keep every backup", so a zero backup count appends to a
// single file that is never rolled over.
func openFile(s cfg.LoggingSettings) (io.WriteCloser, error) {
	if s.BackupCount == 0 {
		f, err := os.OpenFile(s.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return f, nil
	}
	return &lumberjack.Logger{
		Filename:   s.FilePath,
		MaxSize:    maxSizeMB(s.MaxFileSize),
		MaxBackups: s.BackupCount,
	}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// maxSizeMB converts a size in bytes to whole megabytes, rounding up.
func maxSizeMB(bytes int64) int {
	if bytes <= 0 {
		return 0
	}
	return int((bytes + mib - 1) / mib)
}
