package audit

import (
	"context"

	"github.com/google/uuid"

	id "consentry/pkg/domain"
	"consentry/pkg/requestcontext"
)

// Publisher is the single write path for audit events. Emit appends to the
// durable store synchronously, in the caller's transaction when one is in
// flight, so table writes and their audit entries commit atomically. A
// configured sink additionally receives a copy for asynchronous fan-out;
// the sink channel never blocks a mutation.
type Publisher struct {
	store Store
	sink  chan<- Event
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

// NewPublisherWithSink also forwards emitted events to the given channel.
// The Worker drains the channel into an external sink such as Kafka.
func NewPublisherWithSink(store Store, sink chan<- Event) *Publisher {
	return &Publisher{store: store, sink: sink}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		return err
	}

	if p.sink != nil {
		select {
		case p.sink <- event:
		default:
			// Sink is best-effort fan-out; the store already has the event.
		}
	}
	return nil
}

// ListByRecord exposes the record-scoped audit trail.
func (p *Publisher) ListByRecord(ctx context.Context, recordID id.RecordID) ([]Event, error) {
	return p.store.ListByRecord(ctx, recordID)
}

// ListByIdentity exposes the identity-scoped audit trail.
func (p *Publisher) ListByIdentity(ctx context.Context, identity id.Identity) ([]Event, error) {
	return p.store.ListByIdentity(ctx, identity)
}
