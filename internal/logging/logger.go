// Package logging defines the structured-logging contract the rest of the
// project codes against. The slog adapter here is the only implementation;
// swapping the backend means writing another adapter, not touching call sites.
package logging

import "context"

// Logger is a context-aware structured logger. The variadic args are
// alternating key-value pairs:
//
//	log.Info(ctx, "listening", "addr", addr)
type Logger interface {
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that carries the given key-value pairs
	// on every record.
	With(args ...any) Logger
}
