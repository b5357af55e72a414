package log

import (
	"fmt"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/trapd/internal/config"
)

// NewRotatingFile returns a lumberjack writer for path. It is shared by the
// log file output and the file sink.
func NewRotatingFile(path string, rotation config.RotationConfig) (*lumberjack.Logger, error) {
	if path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSizeMB,  // megabytes
		MaxBackups: rotation.MaxBackups, // number of backups
		MaxAge:     rotation.MaxAgeDays, // days
		Compress:   rotation.Compress,   // compress the backups
	}, nil
}

func newFileAppender(fc config.FileOutputConfig) (*lumberjack.Logger, error) {
	return NewRotatingFile(fc.Path, fc.Rotation)
}
