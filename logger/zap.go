package logger

import "go.uber.org/zap"

type zapLogger struct {
	s *zap.SugaredLogger
}

var _ Logger = &zapLogger{}

// NewZap logs through l. A nil l logs nothing.
func NewZap(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapLogger{
		s: l.WithOptions(zap.AddCallerSkip(1)).Sugar(),
	}
}

func (z *zapLogger) Debugf(format string, args ...any) {
	z.s.Debugf(format, args...)
}

func (z *zapLogger) Infof(format string, args ...any) {
	z.s.Infof(format, args...)
}

func (z *zapLogger) Warnf(format string, args ...any) {
	z.s.Warnf(format, args...)
}

func (z *zapLogger) Errorf(format string, args ...any) {
	z.s.Errorf(format, args...)
}
