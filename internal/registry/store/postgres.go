package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"consentry/internal/registry/models"
	id "consentry/pkg/domain"
	"consentry/pkg/platform/sentinel"
	txcontext "consentry/pkg/platform/tx"
)

// Postgres persists the registry tables. Calls made inside a registry
// transaction (pkg/platform/tx in context) run on that transaction, which is
// how a mutation's reads, writes, and audit append stay atomic. Lookups made
// in a transaction take row locks so check-then-mutate sequences serialize.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) AllocateRecordID(ctx context.Context) (id.RecordID, error) {
	var value int64
	err := s.conn(ctx).QueryRowContext(ctx,
		`UPDATE registry_counter SET value = value + 1 RETURNING value`,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("allocate record id: %w", err)
	}
	return id.RecordID(value), nil
}

func (s *Postgres) SaveRecord(ctx context.Context, record *models.Record) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO records (id, owner, uri, is_live)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET owner = $2, uri = $3, is_live = $4
	`, record.ID.Int64(), uuid.UUID(record.Owner), record.URI, record.Exists)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func (s *Postgres) FindRecord(ctx context.Context, recordID id.RecordID) (*models.Record, error) {
	query := `SELECT id, owner, uri FROM records WHERE id = $1 AND is_live`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR UPDATE`
	}

	var (
		record models.Record
		rawID  int64
		owner  uuid.UUID
	)
	err := s.conn(ctx).QueryRowContext(ctx, query, recordID.Int64()).
		Scan(&rawID, &owner, &record.URI)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find record: %w", err)
	}
	record.ID = id.RecordID(rawID)
	record.Owner = id.Identity(owner)
	record.Exists = true
	return &record, nil
}

func (s *Postgres) RemoveRecord(ctx context.Context, recordID id.RecordID) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE records SET owner = NULL, uri = '', is_live = FALSE
		WHERE id = $1 AND is_live
	`, recordID.Int64())
	if err != nil {
		return fmt.Errorf("remove record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) RecordCounter(ctx context.Context) (int64, error) {
	var value int64
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT value FROM registry_counter`,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("read record counter: %w", err)
	}
	return value, nil
}

func (s *Postgres) SaveGrant(ctx context.Context, grant *models.Grant) error {
	var expiresAt any
	if !grant.ExpiresAt.IsZero() {
		expiresAt = grant.ExpiresAt
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO access_grants (record_id, provider, expires_at, allowed)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (record_id, provider) DO UPDATE SET expires_at = $3, allowed = $4
	`, grant.RecordID.Int64(), uuid.UUID(grant.Provider), expiresAt, grant.Allowed)
	if err != nil {
		return fmt.Errorf("save grant: %w", err)
	}
	return nil
}

func (s *Postgres) FindGrant(ctx context.Context, recordID id.RecordID, provider id.Identity) (*models.Grant, error) {
	var (
		grant     models.Grant
		expiresAt sql.NullTime
	)
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT expires_at, allowed FROM access_grants
		WHERE record_id = $1 AND provider = $2
	`, recordID.Int64(), uuid.UUID(provider)).Scan(&expiresAt, &grant.Allowed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find grant: %w", err)
	}
	grant.RecordID = recordID
	grant.Provider = provider
	if expiresAt.Valid {
		grant.ExpiresAt = expiresAt.Time
	}
	return &grant, nil
}

func (s *Postgres) SetOperatorApproval(ctx context.Context, approval *models.OperatorApproval) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO operator_approvals (patient, operator, approved)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient, operator) DO UPDATE SET approved = $3
	`, uuid.UUID(approval.Patient), uuid.UUID(approval.Operator), approval.Approved)
	if err != nil {
		return fmt.Errorf("set operator approval: %w", err)
	}
	return nil
}

func (s *Postgres) IsApprovedOperator(ctx context.Context, patient, operator id.Identity) (bool, error) {
	var approved bool
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT approved FROM operator_approvals
		WHERE patient = $1 AND operator = $2
	`, uuid.UUID(patient), uuid.UUID(operator)).Scan(&approved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check operator approval: %w", err)
	}
	return approved, nil
}
