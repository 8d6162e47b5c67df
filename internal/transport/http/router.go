// Package httptransport is the thin HTTP layer. Handlers delegate to domain
// services without embedding business logic so transport concerns remain
// isolated.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proofgate/internal/platform/health"
	"proofgate/internal/platform/middleware"
)

// Handler carries the domain services behind the HTTP surface.
type Handler struct {
	verification VerificationService
	claims       ClaimService
	sessions     SessionLister
	pollInterval time.Duration
	logger       *slog.Logger
}

// Option configures optional handler behavior.
type Option func(*Handler)

// WithPollInterval advertises a status polling cadence in the create-request
// response so wallet clients do not hardcode one.
func WithPollInterval(interval time.Duration) Option {
	return func(h *Handler) { h.pollInterval = interval }
}

// Config tunes the HTTP surface.
type Config struct {
	// CallbackAllowedOrigin pins the callback route to one origin; empty is
	// permissive.
	CallbackAllowedOrigin string

	// OperatorValidator gates the claim and session-listing endpoints; nil
	// disables the check.
	OperatorValidator middleware.TokenValidator

	// CallbackTimeout bounds callback processing, which suspends on the
	// external verifier and kernel gateway. Zero falls back to 2 minutes.
	CallbackTimeout time.Duration
}

// NewHandler constructs the HTTP handler over the domain services.
func NewHandler(verification VerificationService, claims ClaimService, sessions SessionLister, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		verification: verification,
		claims:       claims,
		sessions:     sessions,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter wires all public endpoints with middleware.
func NewRouter(h *Handler, healthHandler *health.Handler, cfg Config, logger *slog.Logger) http.Handler {
	callbackTimeout := cfg.CallbackTimeout
	if callbackTimeout <= 0 {
		callbackTimeout = 2 * time.Minute
	}

	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))

	healthHandler.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	// The CORS middleware answers preflights, but chi only routes methods
	// with a registered handler, so OPTIONS needs explicit no-op routes.
	preflight := func(http.ResponseWriter, *http.Request) {}

	// Session creation and status are open to wallets from any origin.
	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(""))
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post("/requests", h.handleCreateRequest)
		r.Options("/requests", preflight)
		r.Get("/status", h.handleStatus)
		r.Options("/status", preflight)
	})

	// The callback route gets a longer budget and its own origin policy.
	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(cfg.CallbackAllowedOrigin))
		r.Use(middleware.Timeout(callbackTimeout))
		r.Post("/callbacks", h.handleCallback)
		r.Options("/callbacks", preflight)
	})

	// Claim submission spends gas, so it sits behind operator auth when a
	// validator is configured.
	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(""))
		r.Use(middleware.Timeout(5 * time.Minute))
		r.Use(middleware.OperatorAuth(cfg.OperatorValidator, logger))
		r.Post("/claims", h.handleClaim)
		r.Options("/claims", preflight)
		r.Get("/sessions", h.handleListSessions)
	})

	return r
}
