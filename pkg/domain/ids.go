// Package domain holds the shared value objects of the consent registry.
//
// Identities are opaque, uuid-backed, and typed so callers cannot mix them up
// with other string-ish values. Construct them via ParseIdentity at trust
// boundaries to enforce validity; direct casting bypasses validation.
package domain

import (
	"strconv"

	"github.com/google/uuid"

	dErrors "consentry/pkg/domain-errors"
)

// Identity names a participant: a patient, a provider, or an operator. The
// registry treats it as authenticated and unforgeable; the transport boundary
// is responsible for establishing it.
type Identity uuid.UUID

// ParseIdentity constructs an Identity from external input.
//
// Errors: CodeInvalidInput when the value is empty, malformed, or the nil
// UUID; no other errors are expected.
func ParseIdentity(s string) (Identity, error) {
	if s == "" {
		return Identity{}, dErrors.New(dErrors.CodeInvalidInput, "identity cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return Identity{}, dErrors.New(dErrors.CodeInvalidInput, "identity must be a valid UUID")
	}
	if u == uuid.Nil {
		return Identity{}, dErrors.New(dErrors.CodeInvalidInput, "identity cannot be the nil UUID")
	}
	return Identity(u), nil
}

// NewIdentity mints a random identity. Mainly for tests and tooling; real
// identities arrive through ParseIdentity.
func NewIdentity() Identity {
	return Identity(uuid.New())
}

// IsNil reports whether the identity is the zero value.
func (i Identity) IsNil() bool {
	return uuid.UUID(i) == uuid.Nil
}

func (i Identity) String() string {
	return uuid.UUID(i).String()
}

// RecordID identifies a record. IDs are allocated by the registry as a
// monotonically increasing sequence starting at 1 and are never reused, even
// after removal.
type RecordID int64

// ParseRecordID constructs a RecordID from external input (route params).
func ParseRecordID(s string) (RecordID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "record id must be a positive integer")
	}
	return RecordID(n), nil
}

func (r RecordID) Int64() int64 { return int64(r) }

func (r RecordID) String() string {
	return strconv.FormatInt(int64(r), 10)
}

// IsZero lets encoding/json's omitzero treat the nil identity as absent.
func (i Identity) IsZero() bool { return i.IsNil() }

// MarshalText renders the identity in canonical UUID form.
func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText parses the canonical UUID form.
func (i *Identity) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*i = Identity(u)
	return nil
}
