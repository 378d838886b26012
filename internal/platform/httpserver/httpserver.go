// Package httpserver configures the registry's HTTP listener.
package httpserver

import (
	"net/http"
	"time"
)

// New builds the server for the registry API. Registry payloads are small
// JSON bodies, so read limits are tight; the write timeout must outlast the
// 30s per-request timeout applied in the router middleware so it never cuts
// off a response the handler was still allowed to produce.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
