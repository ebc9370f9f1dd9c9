// Package notify delivers human-readable alerts about trades, terminal
// errors, and emergency stops. Delivery is fire-and-forget from the engine's
// perspective: a failed send is logged and never blocks trading logic.
package notify

import (
	"context"
	"log/slog"
)

// Notifier is the outbound message sink consumed by the engine.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// Compile-time interface check.
var _ Notifier = (*LogNotifier)(nil)

// LogNotifier writes notifications to the structured log. It is the default
// sink in paper mode and the fallback when Telegram is not configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a LogNotifier backed by the given logger.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Send logs the message at info level.
func (n *LogNotifier) Send(_ context.Context, message string) error {
	n.log.Info("notification", "message", message)
	return nil
}
