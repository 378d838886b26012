package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"consentry/internal/audit"
	registrymetrics "consentry/internal/registry/metrics"
	"consentry/internal/registry/models"
	"consentry/internal/registry/store"
	id "consentry/pkg/domain"
	dErrors "consentry/pkg/domain-errors"
	"consentry/pkg/platform/sentinel"
	"consentry/pkg/requestcontext"
)

// AuditPublisher receives one event per state transition. Emission happens
// inside the mutation's transaction so the table write and its audit entry
// commit together or not at all.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the consent registry's state machine: record lifecycle,
// time-bounded grants, operator delegation, and the single authorization
// decision all mutations flow through.
//
// Caller identity is an explicit parameter on every operation; the transport
// boundary authenticates it and the core treats it as unforgeable. The
// current time comes from the request-scoped logical clock
// (requestcontext.Now), never from the wall clock, so expiry decisions are
// deterministic and replayable.
type Service struct {
	store   store.Store
	tx      StoreTx
	auditor AuditPublisher
	logger  *slog.Logger
	metrics *registrymetrics.Metrics
	tracer  trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *registrymetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs a Service. The audit publisher is required: a registry
// without an audit trail is not this registry.
func New(st store.Store, tx StoreTx, auditor AuditPublisher, opts ...Option) *Service {
	s := &Service{
		store:   st,
		tx:      tx,
		auditor: auditor,
		tracer:  otel.Tracer("consentry/registry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRecord registers a new pointer under the caller's ownership and
// returns its id. Ids come from the registry's monotonic sequence and are
// never reused.
func (s *Service) CreateRecord(ctx context.Context, caller id.Identity, uri string) (id.RecordID, error) {
	ctx, span := s.tracer.Start(ctx, "registry.CreateRecord")
	defer span.End()

	if caller.IsNil() {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "caller identity is required")
	}

	var recordID id.RecordID
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		allocated, err := s.store.AllocateRecordID(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate record id")
		}
		record := &models.Record{ID: allocated, Owner: caller, URI: uri, Exists: true}
		if err := s.store.SaveRecord(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save record")
		}
		if err := s.emit(ctx, audit.Event{
			Action:   audit.ActionRecordCreated,
			RecordID: allocated,
			Actor:    caller,
			Owner:    caller,
			URI:      uri,
		}); err != nil {
			return err
		}
		recordID = allocated
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.IncrementRecordsCreated()
	s.log(ctx, "record created", "record_id", recordID.Int64(), "owner", caller.String())
	return recordID, nil
}

// UpdateRecord overwrites the pointer of a live record. Allowed for the owner
// and for the owner's approved operators.
func (s *Service) UpdateRecord(ctx context.Context, caller id.Identity, recordID id.RecordID, newURI string) error {
	ctx, span := s.tracer.Start(ctx, "registry.UpdateRecord")
	defer span.End()

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		record, err := s.findLive(ctx, recordID)
		if err != nil {
			return err
		}
		if err := s.authorizeManage(ctx, caller, record); err != nil {
			return err
		}
		record.URI = newURI
		if err := s.store.SaveRecord(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save record")
		}
		return s.emit(ctx, audit.Event{
			Action:   audit.ActionRecordUpdated,
			RecordID: recordID,
			Actor:    caller,
			Owner:    record.Owner,
			URI:      newURI,
		})
	})
}

// RemoveRecord tombstones a record. Owner only: delegation never extends to
// removal. Grant rows keyed to the record stay in place, orphaned and inert,
// because every access path re-checks record liveness first.
func (s *Service) RemoveRecord(ctx context.Context, caller id.Identity, recordID id.RecordID) error {
	ctx, span := s.tracer.Start(ctx, "registry.RemoveRecord")
	defer span.End()

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		record, err := s.findLive(ctx, recordID)
		if err != nil {
			return err
		}
		if record.Owner != caller {
			return dErrors.New(dErrors.CodeForbidden, "only the record owner may remove it")
		}
		if err := s.store.RemoveRecord(ctx, recordID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove record")
		}
		return s.emit(ctx, audit.Event{
			Action:   audit.ActionRecordRemoved,
			RecordID: recordID,
			Actor:    caller,
			Owner:    record.Owner,
		})
	})
}

// SetOperatorApproval flips delegation for an operator in the caller's own
// namespace. Unconditional: any identity may be named and no counter-approval
// exists. Re-asserting the current value still produces an audit entry so the
// trail reflects every decision the patient made, not just effective ones.
func (s *Service) SetOperatorApproval(ctx context.Context, caller, operator id.Identity, approved bool) error {
	ctx, span := s.tracer.Start(ctx, "registry.SetOperatorApproval")
	defer span.End()

	if operator.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "operator identity is required")
	}

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		approval := &models.OperatorApproval{Patient: caller, Operator: operator, Approved: approved}
		if err := s.store.SetOperatorApproval(ctx, approval); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to set operator approval")
		}
		return s.emit(ctx, audit.Event{
			Action:   audit.ActionOperatorApproved,
			Actor:    caller,
			Owner:    caller,
			Party:    operator,
			Approved: &approved,
		})
	})
}

// GrantAccess writes or overwrites a provider's grant on a live record.
// Requires a non-nil provider and an expiry strictly after the operation's
// logical now.
func (s *Service) GrantAccess(ctx context.Context, caller id.Identity, recordID id.RecordID, provider id.Identity, expiresAt time.Time) error {
	ctx, span := s.tracer.Start(ctx, "registry.GrantAccess")
	defer span.End()

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		record, err := s.findLive(ctx, recordID)
		if err != nil {
			return err
		}
		if err := s.authorizeManage(ctx, caller, record); err != nil {
			return err
		}
		if provider.IsNil() {
			return dErrors.New(dErrors.CodeInvalidInput, "provider identity is required")
		}
		now := requestcontext.Now(ctx)
		if !expiresAt.After(now) {
			return dErrors.New(dErrors.CodeInvalidInput, "expiry must be in the future")
		}
		grant := &models.Grant{RecordID: recordID, Provider: provider, ExpiresAt: expiresAt, Allowed: true}
		if err := s.store.SaveGrant(ctx, grant); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save grant")
		}
		return s.emit(ctx, audit.Event{
			Action:    audit.ActionAccessGranted,
			RecordID:  recordID,
			Actor:     caller,
			Owner:     record.Owner,
			Party:     provider,
			ExpiresAt: expiresAt,
		})
	})
	if err != nil {
		return err
	}
	s.metrics.IncrementGrantsIssued()
	return nil
}

// RevokeAccess resets a provider's grant to the "no access" sentinel
// {zero expiry, not allowed}. A full reset rather than a toggle, so the state
// after revoke does not depend on the grant's history.
func (s *Service) RevokeAccess(ctx context.Context, caller id.Identity, recordID id.RecordID, provider id.Identity) error {
	ctx, span := s.tracer.Start(ctx, "registry.RevokeAccess")
	defer span.End()

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		record, err := s.findLive(ctx, recordID)
		if err != nil {
			return err
		}
		if err := s.authorizeManage(ctx, caller, record); err != nil {
			return err
		}
		if provider.IsNil() {
			return dErrors.New(dErrors.CodeInvalidInput, "provider identity is required")
		}
		grant := &models.Grant{RecordID: recordID, Provider: provider, ExpiresAt: time.Time{}, Allowed: false}
		if err := s.store.SaveGrant(ctx, grant); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save grant")
		}
		return s.emit(ctx, audit.Event{
			Action:   audit.ActionAccessRevoked,
			RecordID: recordID,
			Actor:    caller,
			Owner:    record.Owner,
			Party:    provider,
		})
	})
	if err != nil {
		return err
	}
	s.metrics.IncrementGrantsRevoked()
	return nil
}

// RequestAccess lets any identity signal interest in a live record. Pure
// notification: the tables are untouched, only the audit trail grows, and the
// owner or an operator reacts out of band.
func (s *Service) RequestAccess(ctx context.Context, caller id.Identity, recordID id.RecordID) error {
	ctx, span := s.tracer.Start(ctx, "registry.RequestAccess")
	defer span.End()

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		record, err := s.findLive(ctx, recordID)
		if err != nil {
			return err
		}
		return s.emit(ctx, audit.Event{
			Action:   audit.ActionAccessRequested,
			RecordID: recordID,
			Actor:    caller,
			Owner:    record.Owner,
		})
	})
}

// HasAccess reports whether the provider holds an active grant on a live
// record. A safe check: it never errors and never returns the pointer, so
// callers can narrow an authorization decision without a disclosure channel.
// Dead or unknown records degrade to false.
func (s *Service) HasAccess(ctx context.Context, recordID id.RecordID, provider id.Identity) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "registry.HasAccess")
	defer span.End()

	if _, err := s.store.FindRecord(ctx, recordID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load record")
	}

	grant, err := s.store.FindGrant(ctx, recordID, provider)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load grant")
	}
	return grant.Active(requestcontext.Now(ctx)), nil
}

// RecordURI resolves the pointer. This is the only read path that returns the
// URI. The resolution order is fixed and must not be reordered: existence
// check, then owner fast-path, then grant fallback. Owner access is
// unconditional and never consults the grant table.
func (s *Service) RecordURI(ctx context.Context, caller id.Identity, recordID id.RecordID) (string, error) {
	ctx, span := s.tracer.Start(ctx, "registry.RecordURI")
	defer span.End()
	start := time.Now()
	defer s.metrics.ObserveResolve(start)

	record, err := s.findLive(ctx, recordID)
	if err != nil {
		return "", err
	}
	if record.Owner == caller {
		return record.URI, nil
	}

	grant, err := s.store.FindGrant(ctx, recordID, caller)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load grant")
	}
	if err != nil || !grant.Active(requestcontext.Now(ctx)) {
		s.metrics.IncrementAccessDenied()
		return "", dErrors.New(dErrors.CodeForbidden, "no access to record")
	}
	return record.URI, nil
}

// RecordCounter reports how many record ids have been allocated.
func (s *Service) RecordCounter(ctx context.Context) (int64, error) {
	return s.store.RecordCounter(ctx)
}

// findLive translates the store's not-found fact into the domain error every
// operation on a dead or absent record must surface.
func (s *Service) findLive(ctx context.Context, recordID id.RecordID) (*models.Record, error) {
	record, err := s.store.FindRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "record not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load record")
	}
	return record, nil
}

// authorizeManage is the shared authorization decision for update, grant,
// and revoke: the owner, or an operator the owner has approved. Checked
// owner-first so the common case never touches the approvals table.
func (s *Service) authorizeManage(ctx context.Context, caller id.Identity, record *models.Record) error {
	if record.Owner == caller {
		return nil
	}
	approved, err := s.store.IsApprovedOperator(ctx, record.Owner, caller)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check operator approval")
	}
	if !approved {
		return dErrors.New(dErrors.CodeForbidden, "caller is not the owner or an approved operator")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	event.Timestamp = requestcontext.Now(ctx)
	if err := s.auditor.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit event")
	}
	return nil
}

func (s *Service) log(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, msg, args...)
}
