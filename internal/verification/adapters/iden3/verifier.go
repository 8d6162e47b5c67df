// Package iden3 adapts the go-iden3-auth verifier to the verification
// service's ProofVerifier port.
package iden3

import (
	"context"
	"fmt"
	"time"

	auth "github.com/iden3/go-iden3-auth/v2"
	"github.com/iden3/go-iden3-auth/v2/loaders"
	"github.com/iden3/go-iden3-auth/v2/pubsignals"
	"github.com/iden3/go-iden3-auth/v2/state"
	"github.com/iden3/iden3comm/v2/protocol"
)

// ResolverConfig names the state contract backing one network prefix.
type ResolverConfig struct {
	RPCURL          string
	ContractAddress string
}

// Config holds the verifier's chain access and tolerance settings.
type Config struct {
	// Resolvers keyed by network prefix, e.g. "polygon:amoy".
	Resolvers map[string]ResolverConfig

	// StateTransitionDelay is how long after an on-chain state transition a
	// proof against the previous state is still accepted.
	StateTransitionDelay time.Duration
}

// Verifier wraps a go-iden3-auth verifier with embedded circuit keys.
type Verifier struct {
	inner *auth.Verifier
	delay time.Duration
}

// New builds a verifier resolving identity state against the configured
// chains. Circuit verification keys are the ones embedded in the library.
func New(cfg Config) (*Verifier, error) {
	if len(cfg.Resolvers) == 0 {
		return nil, fmt.Errorf("iden3 verifier: at least one state resolver is required")
	}

	resolvers := make(map[string]pubsignals.StateResolver, len(cfg.Resolvers))
	for prefix, rc := range cfg.Resolvers {
		if rc.RPCURL == "" || rc.ContractAddress == "" {
			return nil, fmt.Errorf("iden3 verifier: resolver %q is missing its RPC URL or contract address", prefix)
		}
		resolvers[prefix] = state.NewETHResolver(rc.RPCURL, rc.ContractAddress)
	}

	inner, err := auth.NewVerifier(loaders.NewEmbeddedKeyLoader(), resolvers)
	if err != nil {
		return nil, fmt.Errorf("iden3 verifier: %w", err)
	}

	return &Verifier{inner: inner, delay: cfg.StateTransitionDelay}, nil
}

// FullVerify checks the JWZ token's proofs against the authorization request
// and the on-chain identity state.
func (v *Verifier) FullVerify(ctx context.Context, token string, request protocol.AuthorizationRequestMessage) (*protocol.AuthorizationResponseMessage, error) {
	opts := []pubsignals.VerifyOpt{}
	if v.delay > 0 {
		opts = append(opts, pubsignals.WithAcceptedStateTransitionDelay(v.delay))
	}
	response, err := v.inner.FullVerify(ctx, token, request, opts...)
	if err != nil {
		return nil, fmt.Errorf("full verify: %w", err)
	}
	return response, nil
}
