package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentry/internal/audit"
	"consentry/internal/platform/middleware"
	"consentry/internal/registry/models"
	registryservice "consentry/internal/registry/service"
	"consentry/internal/registry/store"
	id "consentry/pkg/domain"
	"consentry/pkg/testutil"
)

// stubValidator maps bearer tokens to caller identities, standing in for the
// JWT service.
type stubValidator struct {
	tokens map[string]id.Identity
}

func (v *stubValidator) ValidateToken(token string) (*middleware.TokenClaims, error) {
	caller, ok := v.tokens[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &middleware.TokenClaims{CallerID: caller.String()}, nil
}

type handlerFixture struct {
	router   chi.Router
	patient  id.Identity
	provider id.Identity
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	patient := id.NewIdentity()
	provider := id.NewIdentity()

	auditStore := audit.NewInMemoryStore()
	publisher := audit.NewPublisher(auditStore)
	st := store.NewInMemory()
	svc := registryservice.New(st, registryservice.NewInMemoryStoreTx(st), publisher)

	validator := &stubValidator{tokens: map[string]id.Identity{
		"patient-token":  patient,
		"provider-token": provider,
	}}

	logger := slog.New(slog.DiscardHandler)
	h := New(svc, publisher, validator, logger)

	router := chi.NewRouter()
	h.Register(router)

	return &handlerFixture{router: router, patient: patient, provider: provider}
}

func (f *handlerFixture) do(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return testutil.DoRequest(f.router, req)
}

func (f *handlerFixture) createRecord(t *testing.T, uri string) int64 {
	t.Helper()
	rr := f.do(t, "patient-token", http.MethodPost, "/records", models.CreateRecordRequest{URI: uri})
	require.Equal(t, http.StatusCreated, rr.Code)
	resp := testutil.UnmarshalResponse[models.CreateRecordResponse](t, rr)
	return resp.RecordID
}

func TestHandlerAuth(t *testing.T) {
	f := newHandlerFixture(t)

	t.Run("missing token is rejected", func(t *testing.T) {
		rr := f.do(t, "", http.MethodPost, "/records", models.CreateRecordRequest{URI: "ipfs://x"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unknown token is rejected", func(t *testing.T) {
		rr := f.do(t, "bogus", http.MethodGet, "/records/counter", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestHandlerRecords(t *testing.T) {
	t.Run("create returns the allocated id", func(t *testing.T) {
		f := newHandlerFixture(t)
		assert.Equal(t, int64(1), f.createRecord(t, "ipfs://first"))
		assert.Equal(t, int64(2), f.createRecord(t, "ipfs://second"))
	})

	t.Run("counter reflects allocations", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.createRecord(t, "ipfs://one")

		rr := f.do(t, "patient-token", http.MethodGet, "/records/counter", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := testutil.UnmarshalResponse[models.CounterResponse](t, rr)
		assert.Equal(t, int64(1), resp.Count)
	})

	t.Run("owner reads the uri", func(t *testing.T) {
		f := newHandlerFixture(t)
		recordID := f.createRecord(t, "ipfs://mine")

		rr := f.do(t, "patient-token", http.MethodGet, fmt.Sprintf("/records/%d/uri", recordID), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := testutil.UnmarshalResponse[models.RecordURIResponse](t, rr)
		assert.Equal(t, "ipfs://mine", resp.URI)
	})

	t.Run("non-owner without grant gets 403", func(t *testing.T) {
		f := newHandlerFixture(t)
		recordID := f.createRecord(t, "ipfs://mine")

		rr := f.do(t, "provider-token", http.MethodGet, fmt.Sprintf("/records/%d/uri", recordID), nil)
		require.Equal(t, http.StatusForbidden, rr.Code)
		body := testutil.UnmarshalErrorResponse(t, rr)
		assert.Equal(t, "forbidden", body["error"])
	})

	t.Run("malformed record id gets 400", func(t *testing.T) {
		f := newHandlerFixture(t)
		rr := f.do(t, "patient-token", http.MethodGet, "/records/not-a-number/uri", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("update then read round-trips", func(t *testing.T) {
		f := newHandlerFixture(t)
		recordID := f.createRecord(t, "ipfs://v1")

		rr := f.do(t, "patient-token", http.MethodPut, fmt.Sprintf("/records/%d", recordID), models.UpdateRecordRequest{URI: "ipfs://v2"})
		require.Equal(t, http.StatusNoContent, rr.Code)

		rr = f.do(t, "patient-token", http.MethodGet, fmt.Sprintf("/records/%d/uri", recordID), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := testutil.UnmarshalResponse[models.RecordURIResponse](t, rr)
		assert.Equal(t, "ipfs://v2", resp.URI)
	})

	t.Run("remove then read gets 404", func(t *testing.T) {
		f := newHandlerFixture(t)
		recordID := f.createRecord(t, "ipfs://doomed")

		rr := f.do(t, "patient-token", http.MethodDelete, fmt.Sprintf("/records/%d", recordID), nil)
		require.Equal(t, http.StatusNoContent, rr.Code)

		rr = f.do(t, "patient-token", http.MethodGet, fmt.Sprintf("/records/%d/uri", recordID), nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestHandlerGrants(t *testing.T) {
	t.Run("grant then provider reads", func(t *testing.T) {
		f := newHandlerFixture(t)
		recordID := f.createRecord(t, "ipfs://shared")

		rr := f.do(t, "patient-token", http.MethodPost, fmt.Sprintf("/records/%d/grants", recordID),
			models.GrantAccessRequest{Provider: f.provider.String(), ExpiresAt: time.Now().Add(time.Hour)})
		require.Equal(t, http.StatusNoContent, rr.Code)

		rr = f.do(t, "provider-token", http.MethodGet, fmt.Sprintf("/records/%d/uri", recordID), nil)
		require.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("past expiry gets 400", func(t *testing.T) {
		f := newHandlerFixture(t)
		recordID := f.createRecord(t, "ipfs://shared")

		rr := f.do(t, "patient-token", http.MethodPost, fmt.Sprintf("/records/%d/grants", recordID),
			models.GrantAccessRequest{Provider: f.provider.String(), ExpiresAt: time.Now().Add(-time.Hour)})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		body := testutil.UnmarshalErrorResponse(t, rr)
		assert.Equal(t, "invalid_input", body["error"])
	})

	t.Run("revoke closes access", func(t *testing.T) {
		f := newHandlerFixture(t)
		recordID := f.createRecord(t, "ipfs://shared")

		rr := f.do(t, "patient-token", http.MethodPost, fmt.Sprintf("/records/%d/grants", recordID),
			models.GrantAccessRequest{Provider: f.provider.String(), ExpiresAt: time.Now().Add(time.Hour)})
		require.Equal(t, http.StatusNoContent, rr.Code)

		rr = f.do(t, "patient-token", http.MethodDelete, fmt.Sprintf("/records/%d/grants/%s", recordID, f.provider), nil)
		require.Equal(t, http.StatusNoContent, rr.Code)

		rr = f.do(t, "provider-token", http.MethodGet, fmt.Sprintf("/records/%d/uri", recordID), nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("access check reports both ways", func(t *testing.T) {
		f := newHandlerFixture(t)
		recordID := f.createRecord(t, "ipfs://shared")

		path := fmt.Sprintf("/records/%d/access?provider=%s", recordID, f.provider)
		rr := f.do(t, "provider-token", http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.False(t, testutil.UnmarshalResponse[models.AccessResponse](t, rr).Allowed)

		grant := f.do(t, "patient-token", http.MethodPost, fmt.Sprintf("/records/%d/grants", recordID),
			models.GrantAccessRequest{Provider: f.provider.String(), ExpiresAt: time.Now().Add(time.Hour)})
		require.Equal(t, http.StatusNoContent, grant.Code)

		rr = f.do(t, "provider-token", http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, testutil.UnmarshalResponse[models.AccessResponse](t, rr).Allowed)
	})

	t.Run("access request is accepted without opening access", func(t *testing.T) {
		f := newHandlerFixture(t)
		recordID := f.createRecord(t, "ipfs://wanted")

		rr := f.do(t, "provider-token", http.MethodPost, fmt.Sprintf("/records/%d/access-requests", recordID), nil)
		require.Equal(t, http.StatusAccepted, rr.Code)

		rr = f.do(t, "provider-token", http.MethodGet, fmt.Sprintf("/records/%d/uri", recordID), nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestHandlerOperatorsAndAudit(t *testing.T) {
	f := newHandlerFixture(t)
	recordID := f.createRecord(t, "ipfs://watched")

	rr := f.do(t, "patient-token", http.MethodPut, "/operators/"+f.provider.String(),
		models.SetOperatorApprovalRequest{Approved: true})
	require.Equal(t, http.StatusNoContent, rr.Code)

	t.Run("record trail lists creation", func(t *testing.T) {
		rr := f.do(t, "patient-token", http.MethodGet, fmt.Sprintf("/audit/records/%d", recordID), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		events := testutil.UnmarshalResponse[[]audit.Event](t, rr)
		require.Len(t, *events, 1)
		assert.Equal(t, audit.ActionRecordCreated, (*events)[0].Action)
	})

	t.Run("identity trail sees the approval", func(t *testing.T) {
		rr := f.do(t, "patient-token", http.MethodGet, "/audit/identities/"+f.provider.String(), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		events := testutil.UnmarshalResponse[[]audit.Event](t, rr)
		require.Len(t, *events, 1)
		assert.Equal(t, audit.ActionOperatorApproved, (*events)[0].Action)
	})
}
