package httptransport

import (
	"context"

	"proofgate/internal/request"
	"proofgate/internal/session/models"
	"proofgate/internal/verification"
)

// VerificationService is the transport-facing slice of the verification service.
type VerificationService interface {
	CreateSession(ctx context.Context, params request.Params) (*models.Session, error)
	HandleCallback(ctx context.Context, sessionID string, body []byte) (*models.Outcome, error)
	Status(ctx context.Context, sessionID string) (*verification.StatusView, error)
}

// ClaimService submits the token claim for a verified session.
type ClaimService interface {
	Claim(ctx context.Context, sessionID, recipient string) (*models.Claim, error)
}

// SessionLister exposes the operator session listing.
type SessionLister interface {
	List(ctx context.Context, limit int) ([]*models.Session, error)
}
