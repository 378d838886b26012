// Package requesttime captures a single "now" per HTTP request. Every
// operation inside the request observes the same timestamp, so audit entries
// and grant-expiry decisions within one request cannot disagree.
package requesttime

import (
	"net/http"
	"time"

	"consentry/pkg/requestcontext"
)

// Middleware stores the current time in the request context. The registry
// core never reads the wall clock directly; it always goes through
// requestcontext.Now.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
