package logger

// Noop drops every message. It is the default logger of every
// throttle-go component.
type Noop struct{}

var _ Logger = Noop{}

func (Noop) Debugf(string, ...any) {}

func (Noop) Infof(string, ...any) {}

func (Noop) Warnf(string, ...any) {}

func (Noop) Errorf(string, ...any) {}
