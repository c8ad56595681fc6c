package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelPrefix = map[Level]string{
	LevelDebug: "[DEBUG] ",
	LevelInfo:  "[INFO] ",
	LevelWarn:  "[WARN] ",
	LevelError: "[ERROR] ",
}

// writerLogger prints one line per message, dropping messages below min.
type writerLogger struct {
	min   Level
	mu    sync.Mutex
	print func(msg string)
}

var _ Logger = &writerLogger{}

// NewStdOut logs every level to standard output.
func NewStdOut() Logger {
	return NewWriter(os.Stdout, LevelDebug)
}

// NewWriter logs messages at min or above to w. Writes are serialized,
// so w needs no locking of its own.
func NewWriter(w io.Writer, min Level) Logger {
	return &writerLogger{
		min: min,
		print: func(msg string) {
			_, _ = fmt.Fprintln(w, msg)
		},
	}
}

func (p *writerLogger) logf(level Level, format string, args ...any) {
	if level < p.min {
		return
	}
	msg := fmt.Sprintf(levelPrefix[level]+format, args...)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.print(msg)
}

func (p *writerLogger) Debugf(format string, args ...any) {
	p.logf(LevelDebug, format, args...)
}

func (p *writerLogger) Infof(format string, args ...any) {
	p.logf(LevelInfo, format, args...)
}

func (p *writerLogger) Warnf(format string, args ...any) {
	p.logf(LevelWarn, format, args...)
}

func (p *writerLogger) Errorf(format string, args ...any) {
	p.logf(LevelError, format, args...)
}
