package logging

import (
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes the rotating text log.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewRotatingFile returns a size-rotated log file writer. The directory is created lazily by lumberjack.
func NewRotatingFile(cfg FileConfig) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   filepath.Clean(cfg.Path),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
}

// Outputs returns the writer for the logger: the rotating file (when a path is set) plus stdout.
// The returned closer releases the file.
func Outputs(cfg FileConfig, stdout bool) (io.Writer, func() error) {
	var writers []io.Writer
	closeFn := func() error { return nil }

	if cfg.Path != "" {
		f := NewRotatingFile(cfg)
		writers = append(writers, f)
		closeFn = f.Close
	}
	if stdout || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	return io.MultiWriter(writers...), closeFn
}
