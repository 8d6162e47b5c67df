package request

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iden3/go-circuits/v2"
	auth "github.com/iden3/go-iden3-auth/v2"
	"github.com/iden3/iden3comm/v2/protocol"

	"proofgate/internal/session/models"
	dErrors "proofgate/pkg/domain-errors"
)

// Defaults mirror the credential schema the wallet flow was built around.
const (
	DefaultCredentialType    = "UniquenessCredential"
	DefaultCredentialContext = "https://raw.githubusercontent.com/anima-protocol/claims-polygonid/main/schemas/json-ld/pou-v1.json-ld"

	DefaultPredicateField     = "confidenceScore"
	DefaultPredicateOperator  = "$gt"
	DefaultPredicateThreshold = 80

	defaultReason  = "Verify your uniqueness credential"
	defaultMessage = "Prove you hold a valid uniqueness credential to continue"
)

var allowedOperators = map[string]struct{}{
	"$eq": {}, "$ne": {}, "$lt": {}, "$gt": {}, "$lte": {}, "$gte": {}, "$in": {}, "$nin": {},
}

// Predicate is a single comparison over one credential subject field.
type Predicate struct {
	Field     string `json:"field"`
	Operator  string `json:"operator"`
	Threshold any    `json:"threshold"`
}

// Params carries the caller-tunable parts of an authorization request.
// Zero values fall back to the service defaults.
type Params struct {
	SessionID         string     `json:"sessionId,omitempty"`
	CredentialType    string     `json:"credentialType,omitempty"`
	CredentialContext string     `json:"credentialContext,omitempty"`
	Predicate         *Predicate `json:"predicate,omitempty"`
	Reason            string     `json:"reason,omitempty"`
	Message           string     `json:"message,omitempty"`
	BoundAddress      string     `json:"boundAddress,omitempty"`
}

// Generator builds iden3comm authorization requests that route wallet
// callbacks to this service.
type Generator struct {
	verifierDID       string
	callbackBaseURL   string
	credentialType    string
	credentialContext string
	sessionTTL        time.Duration
	now               func() time.Time
}

// Config holds the static identity of the verifier.
type Config struct {
	VerifierDID       string
	CallbackBaseURL   string
	CredentialType    string
	CredentialContext string
	SessionTTL        time.Duration
}

// NewGenerator constructs a request generator from verifier configuration.
func NewGenerator(cfg Config) *Generator {
	g := &Generator{
		verifierDID:       cfg.VerifierDID,
		callbackBaseURL:   cfg.CallbackBaseURL,
		credentialType:    cfg.CredentialType,
		credentialContext: cfg.CredentialContext,
		sessionTTL:        cfg.SessionTTL,
		now:               time.Now,
	}
	if g.credentialType == "" {
		g.credentialType = DefaultCredentialType
	}
	if g.credentialContext == "" {
		g.credentialContext = DefaultCredentialContext
	}
	if g.sessionTTL <= 0 {
		g.sessionTTL = time.Hour
	}
	return g
}

// WithClock overrides the generator's time source for tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// NewSession mints a fresh session carrying an authorization request. The
// request id and thread id both equal the session id so wallet responses and
// callback routing agree on one identifier.
func (g *Generator) NewSession(params Params) (*models.Session, error) {
	predicate, err := resolvePredicate(params.Predicate)
	if err != nil {
		return nil, err
	}

	// Callers may pin the session id so their own correlation survives the
	// round trip; otherwise one is minted here.
	sessionID := strings.TrimSpace(params.SessionID)
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else if _, err := uuid.Parse(sessionID); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidRequestShape, "sessionId must be a UUID")
	}
	callbackURL := fmt.Sprintf("%s?sessionId=%s", g.callbackBaseURL, sessionID)

	reason := params.Reason
	if reason == "" {
		reason = defaultReason
	}
	message := params.Message
	if message == "" {
		message = defaultMessage
	}

	authRequest := auth.CreateAuthorizationRequestWithMessage(reason, message, g.verifierDID, callbackURL)
	authRequest.ID = sessionID
	authRequest.ThreadID = sessionID

	credentialType := params.CredentialType
	if credentialType == "" {
		credentialType = g.credentialType
	}
	credentialContext := params.CredentialContext
	if credentialContext == "" {
		credentialContext = g.credentialContext
	}

	authRequest.Body.Scope = append(authRequest.Body.Scope, protocol.ZeroKnowledgeProofRequest{
		ID:        1,
		CircuitID: string(circuits.AtomicQuerySigV2CircuitID),
		Query: map[string]any{
			"allowedIssuers": []string{"*"},
			"type":           credentialType,
			"context":        credentialContext,
			"credentialSubject": map[string]any{
				predicate.Field: map[string]any{
					predicate.Operator: predicate.Threshold,
				},
			},
		},
	})

	now := g.now()
	return &models.Session{
		ID:           sessionID,
		Request:      authRequest,
		BoundAddress: params.BoundAddress,
		CreatedAt:    now,
		ExpiresAt:    now.Add(g.sessionTTL),
	}, nil
}

func resolvePredicate(p *Predicate) (Predicate, error) {
	if p == nil {
		return Predicate{
			Field:     DefaultPredicateField,
			Operator:  DefaultPredicateOperator,
			Threshold: DefaultPredicateThreshold,
		}, nil
	}
	if p.Field == "" {
		return Predicate{}, dErrors.New(dErrors.CodeInvalidRequestShape, "predicate field is required")
	}
	if _, ok := allowedOperators[p.Operator]; !ok {
		return Predicate{}, dErrors.New(dErrors.CodeInvalidRequestShape, fmt.Sprintf("unsupported predicate operator %q", p.Operator))
	}
	if p.Threshold == nil {
		return Predicate{}, dErrors.New(dErrors.CodeInvalidRequestShape, "predicate threshold is required")
	}
	return *p, nil
}

// ValidateShape checks that a stored authorization request still has the
// structure verification depends on: a non-empty id, a callback URL, and at
// least one proof request with a circuit and query.
func ValidateShape(request protocol.AuthorizationRequestMessage) error {
	if request.ID == "" || request.Body.CallbackURL == "" {
		return dErrors.New(dErrors.CodeInvalidRequestShape, "authorization request is missing id or callback URL")
	}
	if len(request.Body.Scope) == 0 {
		return dErrors.New(dErrors.CodeInvalidRequestShape, "authorization request has an empty proof scope")
	}
	for _, scope := range request.Body.Scope {
		if scope.CircuitID == "" || scope.Query == nil {
			return dErrors.New(dErrors.CodeInvalidRequestShape, "proof request is missing circuit or query")
		}
	}
	return nil
}
