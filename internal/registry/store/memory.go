package store

import (
	"context"
	"maps"
	"sync"

	"consentry/internal/registry/models"
	id "consentry/pkg/domain"
	"consentry/pkg/platform/sentinel"
)

type grantKey struct {
	recordID id.RecordID
	provider id.Identity
}

type operatorKey struct {
	patient  id.Identity
	operator id.Identity
}

// InMemory holds all three tables behind one lock. Mutation serialization
// comes from the service's transaction runner; the internal lock only keeps
// individual method calls safe for concurrent readers.
type InMemory struct {
	mu        sync.RWMutex
	counter   int64
	records   map[id.RecordID]*models.Record
	grants    map[grantKey]*models.Grant
	operators map[operatorKey]bool
}

func NewInMemory() *InMemory {
	return &InMemory{
		records:   make(map[id.RecordID]*models.Record),
		grants:    make(map[grantKey]*models.Grant),
		operators: make(map[operatorKey]bool),
	}
}

func (s *InMemory) AllocateRecordID(_ context.Context) (id.RecordID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return id.RecordID(s.counter), nil
}

func (s *InMemory) SaveRecord(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

func (s *InMemory) FindRecord(_ context.Context, recordID id.RecordID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordID]
	if !ok || !record.Exists {
		return nil, sentinel.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *InMemory) RemoveRecord(_ context.Context, recordID id.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordID]
	if !ok || !record.Exists {
		return sentinel.ErrNotFound
	}
	// Tombstone: the id stays burned, the contents are gone.
	s.records[recordID] = &models.Record{ID: recordID, Exists: false}
	return nil
}

func (s *InMemory) RecordCounter(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counter, nil
}

func (s *InMemory) SaveGrant(_ context.Context, grant *models.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *grant
	s.grants[grantKey{grant.RecordID, grant.Provider}] = &clone
	return nil
}

func (s *InMemory) FindGrant(_ context.Context, recordID id.RecordID, provider id.Identity) (*models.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grant, ok := s.grants[grantKey{recordID, provider}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *grant
	return &clone, nil
}

func (s *InMemory) SetOperatorApproval(_ context.Context, approval *models.OperatorApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators[operatorKey{approval.Patient, approval.Operator}] = approval.Approved
	return nil
}

func (s *InMemory) IsApprovedOperator(_ context.Context, patient, operator id.Identity) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operators[operatorKey{patient, operator}], nil
}

// Snapshot captures all three tables plus the id counter for the
// transaction runner. Stored values are cloned on every write and read, so
// a shallow map copy is a complete snapshot.
type Snapshot struct {
	counter   int64
	records   map[id.RecordID]*models.Record
	grants    map[grantKey]*models.Grant
	operators map[operatorKey]bool
}

func (s *InMemory) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{
		counter:   s.counter,
		records:   maps.Clone(s.records),
		grants:    maps.Clone(s.grants),
		operators: maps.Clone(s.operators),
	}
}

// Restore rewinds the store to a snapshot. The transaction runner calls this
// when a mutation fails partway, standing in for a sql.Tx rollback.
func (s *InMemory) Restore(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter = snap.counter
	s.records = maps.Clone(snap.records)
	s.grants = maps.Clone(snap.grants)
	s.operators = maps.Clone(snap.operators)
}

// GrantRowCount reports physical grant rows, including orphaned ones. Test
// helper for the no-purge-on-removal invariant.
func (s *InMemory) GrantRowCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.grants)
}
