// Package ports declares the external dependencies of the verification
// service as interfaces so adapters and mocks can satisfy them.
package ports

import (
	"context"

	"github.com/iden3/iden3comm/v2/protocol"

	"proofgate/internal/session/models"
)

//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks

// ProofVerifier checks a wallet's JWZ token against the authorization request
// it answers.
type ProofVerifier interface {
	FullVerify(ctx context.Context, token string, request protocol.AuthorizationRequestMessage) (*protocol.AuthorizationResponseMessage, error)
}

// KernelExecutor runs the policy kernels for a verified session and returns
// the attested execution payload.
type KernelExecutor interface {
	Execute(ctx context.Context, token, senderAddress, sessionID string) (*models.ExecutionResult, error)
}
