package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"livestock-track/internal/event"
)

// AsyncNotifier hands messages to a Worker through the in-process bus so the
// request path never waits on SMTP.
type AsyncNotifier struct {
	bus event.Bus
}

func NewAsyncNotifier(bus event.Bus) *AsyncNotifier {
	return &AsyncNotifier{bus: bus}
}

func (n *AsyncNotifier) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.bus.Publish(event.Event{Type: event.TypeMailRequested, Payload: msg}) == 0 {
		return ErrQueueFull
	}
	return nil
}

type Worker struct {
	deliverer   *Deliverer
	timeout     time.Duration
	events      <-chan event.Event
	unsubscribe func()
}

// NewWorker subscribes immediately so messages published before Run starts
// are buffered rather than dropped.
func NewWorker(bus event.Bus, deliverer *Deliverer, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	events, unsubscribe := bus.Subscribe()
	return &Worker{deliverer: deliverer, timeout: timeout, events: events, unsubscribe: unsubscribe}
}

func (w *Worker) Run(ctx context.Context) {
	defer w.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-w.events:
			if !ok {
				return
			}
			if e.Type != event.TypeMailRequested {
				continue
			}
			msg, ok := e.Payload.(Message)
			if !ok {
				slog.Error("mail worker received unexpected payload", "type", fmt.Sprintf("%T", e.Payload))
				continue
			}
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg Message) {
	sendCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.deliverer.Deliver(sendCtx, msg); err != nil {
		slog.Error("mail delivery failed", "kind", msg.Kind, "to", msg.To, "error", err)
		return
	}
	slog.Info("mail delivered", "kind", msg.Kind, "to", msg.To)
}
