package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogMaxSizeMB  = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAgeDays = 28
)

// BackgroundLogger writes daemon output to a size-rotated file.
// A zero-value or disabled logger silently drops everything.
type BackgroundLogger struct {
	logger  *log.Logger
	rotator *lumberjack.Logger
}

// NewBackgroundLogger opens a rotating log at path. An empty path returns a
// disabled logger, not an error.
func NewBackgroundLogger(path string, maxSizeMB, maxBackups int) (*BackgroundLogger, error) {
	if path == "" {
		return &BackgroundLogger{}, nil
	}
	if maxSizeMB <= 0 {
		maxSizeMB = defaultLogMaxSizeMB
	}
	if maxBackups <= 0 {
		maxBackups = defaultLogMaxBackups
	}

	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return &BackgroundLogger{}, fmt.Errorf("failed to create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     defaultLogMaxAgeDays,
		Compress:   true,
	}

	return &BackgroundLogger{
		logger:  log.New(rotator, fmt.Sprintf("[projectsync %d] ", os.Getpid()), log.LstdFlags),
		rotator: rotator,
	}, nil
}

// IsEnabled reports whether output reaches a file
func (b *BackgroundLogger) IsEnabled() bool {
	return b != nil && b.logger != nil
}

// GetLogPath returns the log file path, or "" when disabled
func (b *BackgroundLogger) GetLogPath() string {
	if !b.IsEnabled() {
		return ""
	}
	return b.rotator.Filename
}

// Writer returns the rotating file, or io.Discard when disabled
func (b *BackgroundLogger) Writer() io.Writer {
	if !b.IsEnabled() {
		return io.Discard
	}
	return b.rotator
}

func (b *BackgroundLogger) Printf(format string, args ...any) {
	if b.IsEnabled() {
		b.logger.Printf(format, args...)
	}
}

func (b *BackgroundLogger) Println(args ...any) {
	if b.IsEnabled() {
		b.logger.Println(args...)
	}
}

// Close flushes and closes the log file
func (b *BackgroundLogger) Close() error {
	if !b.IsEnabled() {
		return nil
	}
	return b.rotator.Close()
}
