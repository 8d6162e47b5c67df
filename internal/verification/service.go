// Package verification drives the session lifecycle: minting authorization
// requests, processing wallet callbacks, and exposing session status.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"proofgate/internal/request"
	"proofgate/internal/sentinel"
	"proofgate/internal/session/metrics"
	"proofgate/internal/session/models"
	"proofgate/internal/session/store"
	"proofgate/internal/verification/kernel"
	"proofgate/internal/verification/ports"
	"proofgate/internal/verification/tracer"
	dErrors "proofgate/pkg/domain-errors"
)

// Outcome messages recorded on sessions. Clients display these verbatim.
const (
	msgVerificationSuccess = "Proof verification successful"
	msgVerificationFailed  = "Verification failed"
	msgKernelRejected      = "Kernel policy checks failed"
)

// Status labels reported for a session.
const (
	StatusUnattempted = "unattempted"
	StatusSuccess     = "success"
	StatusFailure     = "failure"
)

// StatusView is the externally visible state of a session. Verified is nil
// until a terminal outcome lands, so polling clients see the tri-state
// directly.
type StatusView struct {
	SessionID          string                  `json:"sessionId"`
	Status             string                  `json:"status"`
	Verified           *bool                   `json:"verified"`
	Timestamp          *time.Time              `json:"timestamp,omitempty"`
	Message            string                  `json:"message,omitempty"`
	ProcessedResponses []models.KernelResponse `json:"processedResponses,omitempty"`
	Claim              *models.Claim           `json:"claim,omitempty"`
}

// Service coordinates proof verification and kernel execution for sessions.
type Service struct {
	store     store.Store
	generator *request.Generator
	verifier  ports.ProofVerifier
	executor  ports.KernelExecutor
	decoder   *kernel.Decoder
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    tracer.Tracer

	// group collapses concurrent kernel executions for the same session so
	// retransmitted callbacks cannot double-execute side effects.
	group singleflight.Group
	now   func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithMetrics sets the metrics instance for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the tracer for the service.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithClock overrides the service's time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs the verification service.
func NewService(
	sessions store.Store,
	generator *request.Generator,
	verifier ports.ProofVerifier,
	executor ports.KernelExecutor,
	decoder *kernel.Decoder,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	svc := &Service{
		store:     sessions,
		generator: generator,
		verifier:  verifier,
		executor:  executor,
		decoder:   decoder,
		logger:    logger,
		tracer:    tracer.NewNoop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// CreateSession mints a session and its authorization request. The returned
// session's Request field is what the wallet renders as a QR code or deep link.
func (s *Service) CreateSession(ctx context.Context, params request.Params) (*models.Session, error) {
	session, err := s.generator.NewSession(params)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, session); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "session id already in use")
		}
		s.metrics.IncrementStoreErrors("create")
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to persist session")
	}
	s.metrics.IncrementSessionsCreated()
	s.logger.InfoContext(ctx, "session created",
		slog.String("session_id", session.ID),
		slog.Time("expires_at", session.ExpiresAt),
	)
	return session, nil
}

// HandleCallback processes one wallet callback: verify the proof, execute the
// kernels, and record the terminal outcome. The first terminal write wins;
// retransmissions observe the stored outcome without re-running side effects.
func (s *Service) HandleCallback(ctx context.Context, sessionID string, body []byte) (*models.Outcome, error) {
	if sessionID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "sessionId query parameter is required")
	}

	ctx, span := s.tracer.Start(ctx, tracer.SpanCallback, tracer.String(tracer.AttrSessionID, sessionID))
	var spanErr error
	defer func() { span.End(spanErr) }()

	// The session resolves first so an unknown or expired id reads as
	// not-found regardless of what the body carries.
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		spanErr = err
		return nil, err
	}
	if session.Terminal() {
		span.AddEvent(tracer.EventDuplicateWrite)
		s.metrics.IncrementCallbacksProcessed("replayed")
		return session.Outcome, nil
	}

	token, err := normalizeToken(body)
	if err != nil {
		spanErr = err
		return nil, err
	}
	if err := request.ValidateShape(session.Request); err != nil {
		spanErr = err
		return nil, err
	}

	outcome, execution, verifyErr := s.verifyAndExecute(ctx, session, token)
	if outcome == nil {
		// Transient failure: nothing terminal happened, the wallet may retry.
		spanErr = verifyErr
		s.metrics.IncrementCallbacksProcessed("error")
		return nil, verifyErr
	}
	recorded, err := s.recordOutcome(ctx, sessionID, *outcome, execution)
	if err != nil {
		spanErr = err
		return nil, err
	}

	span.SetAttributes(tracer.Bool(tracer.AttrOutcome, recorded.Success))
	span.AddEvent(tracer.EventOutcomeRecorded)
	if recorded.Success {
		s.metrics.IncrementCallbacksProcessed("success")
		return recorded, nil
	}
	s.metrics.IncrementCallbacksProcessed("failure")
	if verifyErr != nil {
		spanErr = verifyErr
		return recorded, verifyErr
	}
	return recorded, dErrors.New(dErrors.CodeVerificationFailed, recorded.Message)
}

// verifyAndExecute runs the proof check and, on success, the kernel round
// trip. A nil outcome marks a transient failure that must not be recorded as
// terminal; otherwise the returned error carries the domain error behind a
// failure outcome.
func (s *Service) verifyAndExecute(ctx context.Context, session *models.Session, token string) (*models.Outcome, *models.ExecutionResult, error) {
	verifyStart := s.now()
	vctx, vspan := s.tracer.Start(ctx, tracer.SpanProofVerify)
	_, verifyErr := s.verifier.FullVerify(vctx, token, session.Request)
	vspan.End(verifyErr)
	s.metrics.ObserveVerifierLatency(s.now().Sub(verifyStart).Seconds())

	if verifyErr != nil {
		s.logger.WarnContext(ctx, "proof verification failed",
			slog.String("session_id", session.ID),
			slog.String("error", verifyErr.Error()),
		)
		return s.failureOutcome(msgVerificationFailed, nil), nil,
			dErrors.Wrap(verifyErr, dErrors.CodeVerificationFailed, msgVerificationFailed)
	}

	// Without a kernel gateway the proof alone decides the outcome. Claims
	// stay blocked because no execution payload exists.
	if s.executor == nil {
		return &models.Outcome{
			Success:   true,
			Message:   msgVerificationSuccess,
			Timestamp: s.now(),
		}, nil, nil
	}

	execution, responses, kernelErr := s.executeKernels(ctx, session, token)
	if kernelErr != nil {
		// A decode error is terminal: the kernel answered, but with garbage.
		// Anything else is treated as transient.
		if dErrors.HasCode(kernelErr, dErrors.CodeKernelDecodeError) {
			return s.failureOutcome(messageForKernelError(kernelErr), responses), nil, kernelErr
		}
		return nil, nil, kernelErr
	}

	if !s.decoder.Aggregate(responses) {
		return s.failureOutcome(msgKernelRejected, responses), nil, nil
	}

	return &models.Outcome{
		Success:   true,
		Message:   msgVerificationSuccess,
		Timestamp: s.now(),
		Responses: responses,
	}, execution, nil
}

// executeKernels runs the kernel call behind singleflight and decodes the
// per-policy verdicts.
func (s *Service) executeKernels(ctx context.Context, session *models.Session, token string) (*models.ExecutionResult, []models.KernelResponse, error) {
	kernelStart := s.now()
	kctx, kspan := s.tracer.Start(ctx, tracer.SpanKernelExecute,
		tracer.String(tracer.AttrSessionID, session.ID),
		tracer.String(tracer.AttrSenderAddress, session.BoundAddress),
	)

	value, err, _ := s.group.Do(session.ID, func() (any, error) {
		return s.executor.Execute(kctx, token, session.BoundAddress, session.ID)
	})
	kspan.End(err)
	s.metrics.ObserveKernelLatency(s.now().Sub(kernelStart).Seconds())

	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeTimeout, "kernel execution did not complete")
	}

	execution, ok := value.(*models.ExecutionResult)
	if !ok || execution == nil {
		return nil, nil, dErrors.New(dErrors.CodeKernelDecodeError, "kernel execution returned no payload")
	}

	responses, err := s.decoder.Decode(execution.KernelResponses)
	if err != nil {
		return nil, nil, err
	}
	return execution, responses, nil
}

func (s *Service) failureOutcome(message string, responses []models.KernelResponse) *models.Outcome {
	return &models.Outcome{
		Success:   false,
		Message:   message,
		Timestamp: s.now(),
		Responses: responses,
	}
}

// recordOutcome writes the terminal outcome with compare-and-set semantics.
// Losing the race returns the winning outcome instead of an error.
func (s *Service) recordOutcome(ctx context.Context, sessionID string, outcome models.Outcome, execution *models.ExecutionResult) (*models.Outcome, error) {
	err := s.store.SetOutcome(ctx, sessionID, outcome, execution)
	if err == nil {
		return &outcome, nil
	}
	if errors.Is(err, sentinel.ErrConflict) {
		session, getErr := s.loadSession(ctx, sessionID)
		if getErr != nil {
			return nil, getErr
		}
		if session.Outcome == nil {
			// The store reported a lost race but the winning write is not
			// visible yet. Surface a retryable error instead of guessing.
			return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "conflicting outcome write is not yet visible")
		}
		return session.Outcome, nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeSessionNotFound, "session expired before the outcome could be recorded")
	}
	s.metrics.IncrementStoreErrors("set_outcome")
	return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to record outcome")
}

// Status reports the tri-state session status without exposing the stored
// authorization request.
func (s *Service) Status(ctx context.Context, sessionID string) (*StatusView, error) {
	if sessionID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "sessionId query parameter is required")
	}
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		SessionID: session.ID,
		Status:    StatusUnattempted,
		Claim:     session.Claim,
	}
	if session.Terminal() {
		outcome := session.Outcome
		view.Verified = &outcome.Success
		view.Timestamp = &outcome.Timestamp
		view.Message = outcome.Message
		view.ProcessedResponses = outcome.Responses
		if outcome.Success {
			view.Status = StatusSuccess
		} else {
			view.Status = StatusFailure
		}
	}
	return view, nil
}

func (s *Service) loadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeSessionNotFound, "session not found or expired")
		}
		s.metrics.IncrementStoreErrors("get")
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to load session")
	}
	return session, nil
}

func messageForKernelError(err error) string {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return msgVerificationFailed
}

// normalizeToken accepts either a raw JWZ token body or a JSON envelope of the
// form {"token": "..."}. A body that looks like JSON but does not parse, or
// parses without a token field, passes through verbatim so the verifier gets
// the final say on what counts as a token.
func normalizeToken(body []byte) (string, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", dErrors.New(dErrors.CodeEmptyToken, "callback body carried no token")
	}
	if strings.HasPrefix(trimmed, "{") {
		var envelope struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(trimmed), &envelope); err == nil {
			if token := strings.TrimSpace(envelope.Token); token != "" {
				return token, nil
			}
		}
	}
	return trimmed, nil
}
