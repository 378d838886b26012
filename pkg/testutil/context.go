package testutil

import (
	"net/http"
	"testing"
	"time"

	id "consentry/pkg/domain"
	"consentry/pkg/requestcontext"
)

// WithCaller stamps an authenticated caller onto the request context, the
// same way the auth middleware would. Fails the test on a malformed identity
// so a typo in a fixture surfaces at the right line.
func WithCaller(t *testing.T, req *http.Request, caller string) *http.Request {
	t.Helper()
	parsed, err := id.ParseIdentity(caller)
	if err != nil {
		t.Fatalf("invalid caller identity %q: %v", caller, err)
	}
	return req.WithContext(requestcontext.WithCallerID(req.Context(), parsed))
}

// WithClock pins the request-scoped time, mirroring the requesttime
// middleware with a deterministic value.
func WithClock(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
