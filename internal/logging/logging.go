package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/config"
)

const logFlags = log.Ldate | log.Ltime | log.Lmicroseconds

// Logger is the application logger plus the sinks behind it
type Logger struct {
	*log.Logger
	file  *lumberjack.Logger
	Lines *ChannelWriter
}

// New builds a logger writing to the rotating log file and to a ChannelWriter for on-screen display.
// The terminal belongs to the dashboard, so nothing is written to stdout.
func New(cfg config.LogConfig) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, err
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	lines := NewChannelWriter(lineBufferSize)
	return &Logger{
		Logger: log.New(io.MultiWriter(file, lines), "", logFlags),
		file:   file,
		Lines:  lines,
	}, nil
}

// Close flushes and closes the log file
func (l *Logger) Close() error {
	l.Lines.Close()
	return l.file.Close()
}
