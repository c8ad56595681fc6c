package logger

// Logger provides a standardized logging interface for the throttle-go client.
// It defines methods for different log levels (Debug, Info, Warn, Error) to enable
// consistent logging throughout the client library. This interface allows users
// to plug in their preferred logging implementation (e.g., zap via NewZap, logrus,
// standard log) or use the provided Noop logger to disable logging entirely.
//
// The logger is used throughout the client for:
// - Rate gate suspensions (waiting for a quota reset or a cooldown)
// - Retry attempt tracking and exhaustion
// - Quota snapshots that are close to their limit
// - Transport failures
//
// Usage Example:
//
//	// Using zap
//	client := throttle_go.NewClient(transport, throttle_go.WithLogger(logger.NewZap(zapLogger)))
//
//	// Using with a custom logger implementation
//	client := throttle_go.NewClient(transport, throttle_go.WithLogger(myLogger))
//
//	// Disable logging entirely
//	client := throttle_go.NewClient(transport, throttle_go.WithLogger(&logger.Noop{}))
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
