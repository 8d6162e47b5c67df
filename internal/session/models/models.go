package models

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/iden3/iden3comm/v2/protocol"
)

// CanonicalSuccess is the kernel result string that marks a policy check as passed.
// Comparison is case-insensitive.
const CanonicalSuccess = "success"

// Session correlates a disclosure request with its eventual proof, verification
// outcome, and claim. It is the only shared mutable state in the protocol; all
// writers go through compare-and-set operations on the store.
type Session struct {
	ID           string
	Request      protocol.AuthorizationRequestMessage
	BoundAddress string
	CreatedAt    time.Time
	ExpiresAt    time.Time

	// Outcome is nil until a callback lands; once set it never changes.
	Outcome *Outcome

	// Execution is populated if and only if Outcome.Success is true.
	Execution *ExecutionResult

	// Claim is populated once the downstream chain call succeeds.
	Claim *Claim
}

// Expired reports whether the session is past its expiry. Expired sessions are
// invisible to reads even when physically present in storage.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Terminal reports whether a verification outcome has been recorded.
func (s *Session) Terminal() bool {
	return s.Outcome != nil
}

// Verified reports whether the session carries a successful outcome.
func (s *Session) Verified() bool {
	return s.Outcome != nil && s.Outcome.Success
}

// Claimed reports whether the claim transaction has been recorded.
func (s *Session) Claimed() bool {
	return s.Claim != nil
}

// Outcome is the terminal result of processing one proof arrival.
type Outcome struct {
	Success   bool             `json:"success"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	Responses []KernelResponse `json:"processedResponses"`
}

// KernelResponse is one decoded per-policy check result. Result is nil when the
// kernel reported an error or the response could not be decoded.
type KernelResponse struct {
	PolicyID uint64  `json:"policyId"`
	Result   *string `json:"result"`
	Error    string  `json:"error,omitempty"`
}

// Passed reports whether this response decoded to the canonical success token.
func (r KernelResponse) Passed() bool {
	return r.Error == "" && r.Result != nil && strings.EqualFold(*r.Result, CanonicalSuccess)
}

// ExecutionResult is the opaque payload produced by proof verification plus
// kernel execution. The three fields are passed through to the claim contract
// unmodified.
type ExecutionResult struct {
	Auth            hexutil.Bytes `json:"auth"`
	KernelResponses hexutil.Bytes `json:"kernelResponses"`
	KernelParams    hexutil.Bytes `json:"kernelParams"`
}

// Claim records the downstream chain transaction gated on verification success.
type Claim struct {
	TxHash    string    `json:"txHash"`
	ClaimedAt time.Time `json:"claimedAt"`
	Recipient string    `json:"recipientAddress"`
}
