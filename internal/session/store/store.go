package store

import (
	"context"

	"proofgate/internal/session/models"
)

// Store is the persistence contract for verification sessions.
//
// Error Contract:
// - Get returns sentinel.ErrNotFound when the session is absent or expired
// - Create returns sentinel.ErrDuplicate when an unexpired session holds the id
// - SetOutcome is a compare-and-set: the first terminal write wins and later
//   writes return sentinel.ErrConflict without modifying the record
// - SetClaim returns sentinel.ErrPreconditionFailed unless the stored outcome
//   is a success, and sentinel.ErrAlreadyClaimed when a claim is recorded
// - BindAddress returns sentinel.ErrConflict when the session is already bound
//   to a different address
// - Infrastructure failures are returned as wrapped errors for the service
//   layer to classify as retryable
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	BindAddress(ctx context.Context, sessionID, address string) error
	SetOutcome(ctx context.Context, sessionID string, outcome models.Outcome, execution *models.ExecutionResult) error
	SetClaim(ctx context.Context, sessionID string, claim models.Claim) error

	// List returns up to limit unexpired sessions, newest first.
	List(ctx context.Context, limit int) ([]*models.Session, error)
}
