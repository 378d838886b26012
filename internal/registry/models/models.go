package models

import (
	"time"

	id "consentry/pkg/domain"
)

// Record is an owner-scoped pointer to an off-chain encrypted payload. The
// registry never stores the payload, only the pointer and who may resolve it.
type Record struct {
	ID    id.RecordID
	Owner id.Identity
	URI   string
	// Exists is the liveness flag. A removed record keeps its row as a
	// tombstone (owner and URI dropped) so its id is never reused, but it is
	// unreachable by every operation.
	Exists bool
}

// Grant is a time-bounded authorization for one provider to resolve one
// record's pointer. The zero ExpiresAt is the sentinel for "no access":
// revocation resets the grant to {zero, false} rather than toggling a flag,
// so an expired-then-regranted-then-revoked grant is unambiguous.
type Grant struct {
	RecordID  id.RecordID
	Provider  id.Identity
	ExpiresAt time.Time
	Allowed   bool
}

// Active reports whether the grant authorizes access at the given instant.
// Expiry is evaluated lazily at read time; there is no background sweep, and
// a stale grant simply becomes inert once now reaches ExpiresAt.
func (g Grant) Active(now time.Time) bool {
	return g.Allowed && !g.ExpiresAt.IsZero() && now.Before(g.ExpiresAt)
}

// OperatorApproval records a patient's delegation of grant/update/revoke
// rights to an operator. Approvals have no expiry and are flipped unilaterally
// by the patient; the operator never has to accept.
type OperatorApproval struct {
	Patient  id.Identity
	Operator id.Identity
	Approved bool
}
