package ports

import "context"

// Fields carries structured key/value context for a log entry.
type Fields = map[string]interface{}

// Logger is the logging port used by the ledger, the pricing gateway and the
// trade executor. The production implementation is backed by zap.
type Logger interface {
	// Debug logs a message at Debug level.
	Debug(ctx context.Context, msg string, fields ...Fields)
	// Info logs a message at Info level.
	Info(ctx context.Context, msg string, fields ...Fields)
	// Warn logs a message at Warning level.
	Warn(ctx context.Context, msg string, fields ...Fields)
	// Error logs err at Error level.
	Error(ctx context.Context, err error, msg string, fields ...Fields)
}

// NopLogger discards everything. Useful for tests and tooling.
type NopLogger struct{}

func (NopLogger) Debug(context.Context, string, ...Fields)        {}
func (NopLogger) Info(context.Context, string, ...Fields)         {}
func (NopLogger) Warn(context.Context, string, ...Fields)         {}
func (NopLogger) Error(context.Context, error, string, ...Fields) {}
