package context

import "context"

// Mode tells the pipelines how to surface blocking errors.
type Mode string

const (
	// ModeScheduled runs are started by the worker or a cron-driven CLI call.
	// Blocking errors are logged and reported, never returned.
	ModeScheduled Mode = "scheduled"

	// ModeInteractive runs are started by an operator and fail fast.
	ModeInteractive Mode = "interactive"
)

type modeKey struct{}

// WithMode stores the invocation mode in context.
func WithMode(ctx context.Context, mode Mode) context.Context {
	return context.WithValue(ctx, modeKey{}, mode)
}

// GetMode returns the invocation mode, defaulting to ModeScheduled.
func GetMode(ctx context.Context) Mode {
	if m, ok := ctx.Value(modeKey{}).(Mode); ok && m != "" {
		return m
	}
	return ModeScheduled
}

// IsInteractive reports whether blocking errors must be returned to the caller.
func IsInteractive(ctx context.Context) bool {
	return GetMode(ctx) == ModeInteractive
}
