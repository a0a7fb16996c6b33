package notify

import (
	"context"
	"log/slog"
)

// LogNotifier records that a message would have been sent. Links are not
// logged.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, msg Message) error {
	slog.Info("notification suppressed", "kind", msg.Kind, "to", msg.To)
	return nil
}
