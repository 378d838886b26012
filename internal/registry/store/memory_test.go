package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentry/internal/registry/models"
	id "consentry/pkg/domain"
	"consentry/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) saveRecord(owner id.Identity, uri string) id.RecordID {
	recordID, err := s.store.AllocateRecordID(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(s.store.SaveRecord(s.ctx, &models.Record{ID: recordID, Owner: owner, URI: uri, Exists: true}))
	return recordID
}

func (s *InMemoryStoreSuite) TestAllocateRecordID() {
	s.Run("allocation is monotonic from one", func() {
		for want := int64(1); want <= 5; want++ {
			got, err := s.store.AllocateRecordID(s.ctx)
			s.NoError(err)
			s.Equal(want, got.Int64())
		}

		count, err := s.store.RecordCounter(s.ctx)
		s.NoError(err)
		s.Equal(int64(5), count)
	})

	s.Run("allocation alone does not create a record", func() {
		recordID, err := s.store.AllocateRecordID(s.ctx)
		s.Require().NoError(err)
		_, err = s.store.FindRecord(s.ctx, recordID)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestRecords() {
	owner := id.NewIdentity()

	s.Run("save and find round-trips", func() {
		recordID := s.saveRecord(owner, "ipfs://round-trip")
		record, err := s.store.FindRecord(s.ctx, recordID)
		s.Require().NoError(err)
		s.Equal(owner, record.Owner)
		s.Equal("ipfs://round-trip", record.URI)
		s.True(record.Exists)
	})

	s.Run("find clones so callers cannot mutate the table", func() {
		recordID := s.saveRecord(owner, "ipfs://immutable")
		record, err := s.store.FindRecord(s.ctx, recordID)
		s.Require().NoError(err)
		record.URI = "ipfs://tampered"

		fresh, err := s.store.FindRecord(s.ctx, recordID)
		s.Require().NoError(err)
		s.Equal("ipfs://immutable", fresh.URI)
	})

	s.Run("remove tombstones and hides the record", func() {
		recordID := s.saveRecord(owner, "ipfs://gone")
		s.Require().NoError(s.store.RemoveRecord(s.ctx, recordID))

		_, err := s.store.FindRecord(s.ctx, recordID)
		s.ErrorIs(err, sentinel.ErrNotFound)

		s.ErrorIs(s.store.RemoveRecord(s.ctx, recordID), sentinel.ErrNotFound)
	})

	s.Run("remove of unknown record reports not found", func() {
		s.ErrorIs(s.store.RemoveRecord(s.ctx, id.RecordID(42)), sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestGrants() {
	provider := id.NewIdentity()
	recordID := id.RecordID(1)

	s.Run("missing grant reports not found", func() {
		_, err := s.store.FindGrant(s.ctx, recordID, provider)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("save is an upsert per record and provider", func() {
		first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		s.Require().NoError(s.store.SaveGrant(s.ctx, &models.Grant{RecordID: recordID, Provider: provider, ExpiresAt: first, Allowed: true}))
		s.Require().NoError(s.store.SaveGrant(s.ctx, &models.Grant{RecordID: recordID, Provider: provider, ExpiresAt: first.Add(time.Hour), Allowed: true}))

		grant, err := s.store.FindGrant(s.ctx, recordID, provider)
		s.Require().NoError(err)
		s.Equal(first.Add(time.Hour), grant.ExpiresAt)
		s.Equal(1, s.store.GrantRowCount())
	})

	s.Run("grants survive record removal", func() {
		owner := id.NewIdentity()
		liveID := s.saveRecord(owner, "ipfs://doomed")
		s.Require().NoError(s.store.SaveGrant(s.ctx, &models.Grant{RecordID: liveID, Provider: provider, Allowed: true}))

		rows := s.store.GrantRowCount()
		s.Require().NoError(s.store.RemoveRecord(s.ctx, liveID))
		s.Equal(rows, s.store.GrantRowCount())
	})
}

func (s *InMemoryStoreSuite) TestOperatorApprovals() {
	patient := id.NewIdentity()
	operator := id.NewIdentity()

	s.Run("default is not approved", func() {
		approved, err := s.store.IsApprovedOperator(s.ctx, patient, operator)
		s.NoError(err)
		s.False(approved)
	})

	s.Run("set and flip", func() {
		s.Require().NoError(s.store.SetOperatorApproval(s.ctx, &models.OperatorApproval{Patient: patient, Operator: operator, Approved: true}))
		approved, err := s.store.IsApprovedOperator(s.ctx, patient, operator)
		s.NoError(err)
		s.True(approved)

		s.Require().NoError(s.store.SetOperatorApproval(s.ctx, &models.OperatorApproval{Patient: patient, Operator: operator, Approved: false}))
		approved, err = s.store.IsApprovedOperator(s.ctx, patient, operator)
		s.NoError(err)
		s.False(approved)
	})

	s.Run("approval is directional", func() {
		s.Require().NoError(s.store.SetOperatorApproval(s.ctx, &models.OperatorApproval{Patient: patient, Operator: operator, Approved: true}))
		approved, err := s.store.IsApprovedOperator(s.ctx, operator, patient)
		s.NoError(err)
		s.False(approved)
	})
}
