// Package httpserver wraps the standard http.Server with the timeouts the
// gateway runs with in production.
package httpserver

import (
	"context"
	"net/http"
	"time"
)

// Server is a thin wrapper so main owns only lifecycle, not tuning.
type Server struct {
	inner *http.Server
}

// New builds a server for the given address and handler. The write timeout
// leaves room for the callback route, which waits on external verification.
func New(addr string, handler http.Handler) *Server {
	return &Server{
		inner: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// ListenAndServe starts accepting connections.
func (s *Server) ListenAndServe() error {
	return s.inner.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
