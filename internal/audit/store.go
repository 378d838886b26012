package audit

import (
	"context"

	id "consentry/pkg/domain"
)

// Store is the durable, append-only audit log. Implementations must preserve
// append order; entries are never updated or deleted. The compliance surface
// queries by record id and by identity.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByRecord(ctx context.Context, recordID id.RecordID) ([]Event, error)
	ListByIdentity(ctx context.Context, identity id.Identity) ([]Event, error)
	// ListRecent returns the last limit events in append order. It serves
	// operational inspection; the HTTP surface exposes only the record- and
	// identity-scoped queries.
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
