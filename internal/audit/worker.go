package audit

import (
	"context"
	"log/slog"
)

// Sink receives audit events asynchronously, after they are durably stored.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Worker drains the publisher's sink channel into an external sink. Delivery
// is at-most-once from the channel's perspective; the durable store remains
// the source of truth, so a failed publish is logged, not retried here.
type Worker struct {
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Publish(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "audit sink publish failed",
					"action", string(event.Action),
					"event_id", event.ID.String(),
					"error", err,
				)
			}
		}
	}
}
