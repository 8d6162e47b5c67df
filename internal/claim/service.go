// Package claim gates the on-chain token claim on a successful verification
// outcome.
package claim

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"proofgate/internal/claim/chain"
	"proofgate/internal/sentinel"
	"proofgate/internal/session/metrics"
	"proofgate/internal/session/models"
	"proofgate/internal/session/store"
	"proofgate/internal/verification/tracer"
	dErrors "proofgate/pkg/domain-errors"
)

// Submitter sends the attested execution payload to the claim contract.
type Submitter interface {
	Submit(ctx context.Context, execution *models.ExecutionResult, recipient string) (txHash string, err error)
}

// Service enforces the claim preconditions and records the transaction.
type Service struct {
	store     store.Store
	submitter Submitter
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    tracer.Tracer

	// group collapses concurrent claims for the same session so a session
	// cannot pay for two transactions during a race.
	group singleflight.Group
	now   func() time.Time
}

// Option configures the claim service.
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

// NewService constructs the claim service. A nil submitter marks claiming as
// disabled; requests then fail with signer_unavailable.
func NewService(sessions store.Store, submitter Submitter, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:     sessions,
		submitter: submitter,
		logger:    logger,
		tracer:    tracer.NewNoop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Claim submits the token claim for a verified session. The stored claim is
// the idempotency guard: one transaction per session, ever.
func (s *Service) Claim(ctx context.Context, sessionID, recipient string) (*models.Claim, error) {
	if sessionID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "sessionId is required")
	}
	if !common.IsHexAddress(recipient) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "recipientAddress must be a hex address")
	}
	if s.submitter == nil {
		return nil, dErrors.New(dErrors.CodeSignerUnavailable, "claim submission is not configured")
	}

	value, err, _ := s.group.Do(sessionID, func() (any, error) {
		return s.claimOnce(ctx, sessionID, recipient)
	})
	if err != nil {
		s.metrics.IncrementClaimsSubmitted("failure")
		return nil, err
	}
	return value.(*models.Claim), nil
}

func (s *Service) claimOnce(ctx context.Context, sessionID, recipient string) (*models.Claim, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanClaimSubmit,
		tracer.String(tracer.AttrSessionID, sessionID),
		tracer.String(tracer.AttrSenderAddress, recipient),
	)
	var spanErr error
	defer func() { span.End(spanErr) }()

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		spanErr = err
		return nil, err
	}
	if err := checkClaimable(session, recipient); err != nil {
		spanErr = err
		return nil, err
	}

	// Bind the recipient before spending gas so a second claim with a
	// different address fails fast.
	if session.BoundAddress == "" {
		if err := s.store.BindAddress(ctx, sessionID, recipient); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			spanErr = dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to bind recipient address")
			return nil, spanErr
		}
	}

	start := s.now()
	txHash, err := s.submitter.Submit(ctx, session.Execution, recipient)
	s.metrics.ObserveClaimLatency(s.now().Sub(start).Seconds())
	if err != nil {
		spanErr = classifyChainError(err)
		s.logger.ErrorContext(ctx, "claim submission failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return nil, spanErr
	}

	claim := models.Claim{
		TxHash:    txHash,
		ClaimedAt: s.now(),
		Recipient: recipient,
	}
	if err := s.store.SetClaim(ctx, sessionID, claim); err != nil {
		// The transaction is on chain either way; surface the store error
		// with the hash so operators can reconcile.
		spanErr = s.classifySetClaimError(err, txHash)
		return nil, spanErr
	}

	span.SetAttributes(tracer.String(tracer.AttrTxHash, txHash))
	s.metrics.IncrementClaimsSubmitted("success")
	s.logger.InfoContext(ctx, "claim submitted",
		slog.String("session_id", sessionID),
		slog.String("tx_hash", txHash),
		slog.String("recipient", recipient),
	)
	return &claim, nil
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

func checkClaimable(session *models.Session, recipient string) error {
	if session.Claimed() {
		return dErrors.New(dErrors.CodeAlreadyClaimed, "session has already been claimed")
	}
	if !session.Verified() {
		return dErrors.New(dErrors.CodePreconditionFailed, "session is not successfully verified")
	}
	if session.Execution == nil {
		return dErrors.New(dErrors.CodePreconditionFailed, "session has no execution payload")
	}
	if session.BoundAddress != "" && !strings.EqualFold(session.BoundAddress, recipient) {
		return dErrors.New(dErrors.CodeBadRequest, "recipientAddress does not match the session's bound address")
	}
	return nil
}

func (s *Service) classifySetClaimError(err error, txHash string) error {
	switch {
	case errors.Is(err, sentinel.ErrAlreadyClaimed):
		return dErrors.New(dErrors.CodeAlreadyClaimed, "session has already been claimed")
	case errors.Is(err, sentinel.ErrPreconditionFailed):
		return dErrors.New(dErrors.CodePreconditionFailed, "session is not successfully verified")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeSessionNotFound, "session expired after transaction "+txHash)
	default:
		s.metrics.IncrementStoreErrors("set_claim")
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "transaction "+txHash+" succeeded but could not be recorded")
	}
}

func classifyChainError(err error) error {
	switch {
	case errors.Is(err, chain.ErrInsufficientFunds):
		return dErrors.Wrap(err, dErrors.CodeInsufficientFunds, "signer has insufficient funds for the claim transaction")
	case errors.Is(err, chain.ErrSignerUnavailable):
		return dErrors.Wrap(err, dErrors.CodeSignerUnavailable, "transaction signer unavailable")
	case errors.Is(err, chain.ErrRejected):
		return dErrors.Wrap(err, dErrors.CodeChainRejected, "claim transaction was rejected by the chain")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "claim transaction did not confirm in time")
	default:
		return dErrors.Wrap(err, dErrors.CodeChainRejected, "claim submission failed")
	}
}
