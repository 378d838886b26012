package audit

import (
	"time"

	"github.com/google/uuid"

	id "consentry/pkg/domain"
)

// Action names a registry state transition. One constant per notification the
// registry emits; the audit trail carries nothing else.
type Action string

const (
	ActionRecordCreated    Action = "record_created"
	ActionRecordUpdated    Action = "record_updated"
	ActionRecordRemoved    Action = "record_removed"
	ActionAccessGranted    Action = "access_granted"
	ActionAccessRevoked    Action = "access_revoked"
	ActionAccessRequested  Action = "access_requested"
	ActionOperatorApproved Action = "operator_approved"
)

// Event is an immutable, ordered audit entry. It is emitted from the service
// layer together with the state transition it describes and is kept
// transport-agnostic so stores and sinks can fan out.
//
// Identity semantics per action:
//   - Actor is always the caller that performed the operation.
//   - Owner is the record owner (the patient namespace for operator events).
//   - Party is the counterparty when one exists: the provider for grant,
//     revoke, and request events, the operator for approval events.
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Action    Action      `json:"action"`
	RecordID  id.RecordID `json:"record_id,omitempty"`
	Actor     id.Identity `json:"actor"`
	Owner     id.Identity `json:"owner,omitzero"`
	Party     id.Identity `json:"party,omitzero"`
	URI       string      `json:"uri,omitempty"`
	ExpiresAt time.Time   `json:"expires_at,omitzero"`
	Approved  *bool       `json:"approved,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// Touches reports whether the event involves the given identity in any role.
// Used by identity-scoped audit queries.
func (e Event) Touches(identity id.Identity) bool {
	return e.Actor == identity || e.Owner == identity || e.Party == identity
}
