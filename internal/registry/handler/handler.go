package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"consentry/internal/audit"
	"consentry/internal/platform/middleware"
	"consentry/internal/registry/models"
	id "consentry/pkg/domain"
	dErrors "consentry/pkg/domain-errors"
	"consentry/pkg/platform/httputil"
	"consentry/pkg/platform/middleware/requesttime"
	"consentry/pkg/requestcontext"
)

// Service defines the registry operations the handlers expose.
type Service interface {
	CreateRecord(ctx context.Context, caller id.Identity, uri string) (id.RecordID, error)
	UpdateRecord(ctx context.Context, caller id.Identity, recordID id.RecordID, newURI string) error
	RemoveRecord(ctx context.Context, caller id.Identity, recordID id.RecordID) error
	GrantAccess(ctx context.Context, caller id.Identity, recordID id.RecordID, provider id.Identity, expiresAt time.Time) error
	RevokeAccess(ctx context.Context, caller id.Identity, recordID id.RecordID, provider id.Identity) error
	RequestAccess(ctx context.Context, caller id.Identity, recordID id.RecordID) error
	SetOperatorApproval(ctx context.Context, caller, operator id.Identity, approved bool) error
	HasAccess(ctx context.Context, recordID id.RecordID, provider id.Identity) (bool, error)
	RecordURI(ctx context.Context, caller id.Identity, recordID id.RecordID) (string, error)
	RecordCounter(ctx context.Context) (int64, error)
}

// AuditReader exposes the read side of the audit trail.
type AuditReader interface {
	ListByRecord(ctx context.Context, recordID id.RecordID) ([]audit.Event, error)
	ListByIdentity(ctx context.Context, identity id.Identity) ([]audit.Event, error)
}

// Handler wires the registry service and audit trail to HTTP.
type Handler struct {
	logger       *slog.Logger
	registry     Service
	auditTrail   AuditReader
	tokenChecker middleware.TokenValidator
}

func New(registry Service, auditTrail AuditReader, tokenChecker middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{
		logger:       logger,
		registry:     registry,
		auditTrail:   auditTrail,
		tokenChecker: tokenChecker,
	}
}

// Register mounts the registry routes. Every route runs behind the full
// middleware chain; the request clock is pinned before any handler runs so
// all expiry decisions within one request agree on "now".
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(requesttime.Middleware)
	router.Use(middleware.RequireAuth(h.tokenChecker, h.logger))

	router.Post("/records", h.handleCreateRecord)
	router.Get("/records/counter", h.handleRecordCounter)
	router.Put("/records/{recordID}", h.handleUpdateRecord)
	router.Delete("/records/{recordID}", h.handleRemoveRecord)
	router.Get("/records/{recordID}/uri", h.handleRecordURI)
	router.Post("/records/{recordID}/grants", h.handleGrantAccess)
	router.Delete("/records/{recordID}/grants/{provider}", h.handleRevokeAccess)
	router.Post("/records/{recordID}/access-requests", h.handleRequestAccess)
	router.Get("/records/{recordID}/access", h.handleHasAccess)
	router.Put("/operators/{operator}", h.handleSetOperatorApproval)
	router.Get("/audit/records/{recordID}", h.handleAuditByRecord)
	router.Get("/audit/identities/{identity}", h.handleAuditByIdentity)

	r.Mount("/", router)
}

func (h *Handler) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.CallerID(ctx)

	var req models.CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	recordID, err := h.registry.CreateRecord(ctx, caller, req.URI)
	if err != nil {
		h.writeServiceError(ctx, w, "create record", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, models.CreateRecordResponse{RecordID: recordID.Int64()})
}

func (h *Handler) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.CallerID(ctx)

	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req models.UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.registry.UpdateRecord(ctx, caller, recordID, req.URI); err != nil {
		h.writeServiceError(ctx, w, "update record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.CallerID(ctx)

	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.registry.RemoveRecord(ctx, caller, recordID); err != nil {
		h.writeServiceError(ctx, w, "remove record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRecordURI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.CallerID(ctx)

	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	uri, err := h.registry.RecordURI(ctx, caller, recordID)
	if err != nil {
		h.writeServiceError(ctx, w, "resolve record uri", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.RecordURIResponse{URI: uri})
}

func (h *Handler) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.CallerID(ctx)

	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req models.GrantAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	provider, err := id.ParseIdentity(req.Provider)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.registry.GrantAccess(ctx, caller, recordID, provider, req.ExpiresAt); err != nil {
		h.writeServiceError(ctx, w, "grant access", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevokeAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.CallerID(ctx)

	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	provider, err := id.ParseIdentity(chi.URLParam(r, "provider"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.registry.RevokeAccess(ctx, caller, recordID, provider); err != nil {
		h.writeServiceError(ctx, w, "revoke access", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.CallerID(ctx)

	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.registry.RequestAccess(ctx, caller, recordID); err != nil {
		h.writeServiceError(ctx, w, "request access", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleHasAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	provider, err := id.ParseIdentity(r.URL.Query().Get("provider"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	allowed, err := h.registry.HasAccess(ctx, recordID, provider)
	if err != nil {
		h.writeServiceError(ctx, w, "check access", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.AccessResponse{Allowed: allowed})
}

func (h *Handler) handleSetOperatorApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.CallerID(ctx)

	operator, err := id.ParseIdentity(chi.URLParam(r, "operator"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req models.SetOperatorApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.registry.SetOperatorApproval(ctx, caller, operator, req.Approved); err != nil {
		h.writeServiceError(ctx, w, "set operator approval", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRecordCounter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := h.registry.RecordCounter(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "read record counter", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.CounterResponse{Count: count})
}

func (h *Handler) handleAuditByRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.auditTrail.ListByRecord(ctx, recordID)
	if err != nil {
		h.writeServiceError(ctx, w, "list audit by record", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) handleAuditByIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := id.ParseIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.auditTrail.ListByIdentity(ctx, identity)
	if err != nil {
		h.writeServiceError(ctx, w, "list audit by identity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

// writeServiceError logs internal failures and renders the coded error.
// Client-caused codes pass through without noise in the logs.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal || code == dErrors.CodeTimeout {
		h.logger.ErrorContext(ctx, "registry operation failed",
			"operation", op,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
