package logger

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogPath   = "psp-relay.log"
	defaultMaxSizeMB = 100
	defaultMaxFiles  = 5
)

// FileConfig holds configuration for file-based log output with rotation.
type FileConfig struct {
	Path      string
	MaxSizeMB int
	MaxFiles  int
}

// NewFileWriter returns a rotating log file writer. Zero values fall back to
// psp-relay.log, 100 MB and five retained files. Rotated files are gzipped.
func NewFileWriter(cfg FileConfig) io.Writer {
	if cfg.Path == "" {
		cfg.Path = defaultLogPath
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = defaultMaxSizeMB
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = defaultMaxFiles
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		LocalTime:  true,
		Compress:   true,
	}
}
