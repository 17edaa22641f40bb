package config

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures log output.
type LogConfig struct {
	// File receives a copy of all log output, rotated by size. Empty logs
	// to stderr only.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Verbose    bool   `mapstructure:"verbose"`
}

// Logs builds component loggers that share one output.
type Logs struct {
	out     io.Writer
	rotator *lumberjack.Logger
	verbose bool
}

// OpenLogs creates the log output for c. stderr may be nil to log only to
// the file.
func OpenLogs(c LogConfig, stderr io.Writer) (*Logs, error) {
	l := &Logs{out: stderr, verbose: c.Verbose}
	if l.out == nil {
		l.out = io.Discard
	}
	if c.File == "" {
		return l, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.File), 0o755); err != nil {
		return nil, err
	}
	l.rotator = &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
	}
	if stderr == nil {
		l.out = l.rotator
	} else {
		l.out = io.MultiWriter(stderr, l.rotator)
	}
	return l, nil
}

// Logger returns a logger prefixed with [component].
func (l *Logs) Logger(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Debug returns Logger(component) when verbose logging is on and a
// discarding logger otherwise.
func (l *Logs) Debug(component string) *log.Logger {
	if !l.verbose {
		return log.New(io.Discard, "", 0)
	}
	return l.Logger(component)
}

// Rotate starts a new log file.
func (l *Logs) Rotate() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Rotate()
}

// Close closes the log file.
func (l *Logs) Close() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}
