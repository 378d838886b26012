package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "consentry/pkg/domain"
	txcontext "consentry/pkg/platform/tx"
)

// PostgresStore persists audit events in the audit_events table. Appends made
// inside a registry transaction share that transaction, so a state mutation
// and its audit entry commit together or not at all.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const appendEventQuery = `
	INSERT INTO audit_events (
		id, timestamp, action, record_id, actor, owner, party,
		uri, expires_at, approved, request_id
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	var recordID *int64
	if event.RecordID != 0 {
		v := event.RecordID.Int64()
		recordID = &v
	}
	var expiresAt *time.Time
	if !event.ExpiresAt.IsZero() {
		expiresAt = &event.ExpiresAt
	}

	_, err := s.execer(ctx).ExecContext(ctx, appendEventQuery,
		event.ID,
		event.Timestamp,
		string(event.Action),
		recordID,
		uuid.UUID(event.Actor),
		nullableIdentity(event.Owner),
		nullableIdentity(event.Party),
		event.URI,
		expiresAt,
		event.Approved,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const selectEventColumns = `
	SELECT id, timestamp, action, record_id, actor, owner, party,
	       uri, expires_at, approved, request_id
	FROM audit_events
`

func (s *PostgresStore) ListByRecord(ctx context.Context, recordID id.RecordID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		selectEventColumns+` WHERE record_id = $1 ORDER BY timestamp, id`,
		recordID.Int64(),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events by record: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) ListByIdentity(ctx context.Context, identity id.Identity) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		selectEventColumns+` WHERE actor = $1 OR owner = $1 OR party = $1 ORDER BY timestamp, id`,
		uuid.UUID(identity),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events by identity: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		selectEventColumns+` ORDER BY timestamp DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent audit events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	// Restore append order for the caller.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			event     Event
			action    string
			recordID  *int64
			actor     uuid.UUID
			owner     *uuid.UUID
			party     *uuid.UUID
			expiresAt *time.Time
		)
		err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&action,
			&recordID,
			&actor,
			&owner,
			&party,
			&event.URI,
			&expiresAt,
			&event.Approved,
			&event.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.Action = Action(action)
		event.Actor = id.Identity(actor)
		if recordID != nil {
			event.RecordID = id.RecordID(*recordID)
		}
		if owner != nil {
			event.Owner = id.Identity(*owner)
		}
		if party != nil {
			event.Party = id.Identity(*party)
		}
		if expiresAt != nil {
			event.ExpiresAt = *expiresAt
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func nullableIdentity(identity id.Identity) *uuid.UUID {
	if identity.IsNil() {
		return nil
	}
	u := uuid.UUID(identity)
	return &u
}
