package store

import (
	"context"

	"consentry/internal/registry/models"
	id "consentry/pkg/domain"
)

// Store persists the registry's three tables: records, grants, and operator
// approvals. Implementations return sentinel.ErrNotFound for absent or
// tombstoned rows; authorization decisions belong to the service layer.
//
// Grants are deliberately not purged when a record is removed. The grant
// table is not iterable by record in every backend, so the registry's
// invariant is instead that every access path checks record liveness before
// consulting grants; orphaned rows stay in place and are inert.
type Store interface {
	// AllocateRecordID returns the next id in the registry's monotonic
	// sequence. IDs are never reused, including after removal.
	AllocateRecordID(ctx context.Context) (id.RecordID, error)
	SaveRecord(ctx context.Context, record *models.Record) error
	// FindRecord returns only live records; tombstones report ErrNotFound.
	FindRecord(ctx context.Context, recordID id.RecordID) (*models.Record, error)
	// RemoveRecord tombstones a live record, dropping owner and URI.
	RemoveRecord(ctx context.Context, recordID id.RecordID) error
	// RecordCounter reports how many ids have been allocated so far.
	RecordCounter(ctx context.Context) (int64, error)

	SaveGrant(ctx context.Context, grant *models.Grant) error
	FindGrant(ctx context.Context, recordID id.RecordID, provider id.Identity) (*models.Grant, error)

	SetOperatorApproval(ctx context.Context, approval *models.OperatorApproval) error
	IsApprovedOperator(ctx context.Context, patient, operator id.Identity) (bool, error)
}
