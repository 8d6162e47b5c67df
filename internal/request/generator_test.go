package request

import (
	"testing"
	"time"

	"github.com/iden3/go-circuits/v2"
	"github.com/iden3/iden3comm/v2/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "proofgate/pkg/domain-errors"
)

func testGenerator() *Generator {
	return NewGenerator(Config{
		VerifierDID:     "did:polygonid:polygon:amoy:2qM4krYhpKkCPHv3tHgW8d1yJE3aWZrpREeD2CE9nk",
		CallbackBaseURL: "https://verifier.example.com/callbacks",
		SessionTTL:      time.Hour,
	})
}

func TestNewSessionDefaults(t *testing.T) {
	session, err := testGenerator().NewSession(Params{})
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, session.ID, session.Request.ID)
	assert.Equal(t, session.ID, session.Request.ThreadID)
	assert.Equal(t, "https://verifier.example.com/callbacks?sessionId="+session.ID, session.Request.Body.CallbackURL)
	assert.Equal(t, session.CreatedAt.Add(time.Hour), session.ExpiresAt)

	require.Len(t, session.Request.Body.Scope, 1)
	scope := session.Request.Body.Scope[0]
	assert.Equal(t, uint32(1), scope.ID)
	assert.Equal(t, string(circuits.AtomicQuerySigV2CircuitID), scope.CircuitID)

	assert.Equal(t, DefaultCredentialType, scope.Query["type"])
	subject, ok := scope.Query["credentialSubject"].(map[string]any)
	require.True(t, ok)
	predicate, ok := subject[DefaultPredicateField].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, DefaultPredicateThreshold, predicate[DefaultPredicateOperator])
}

func TestNewSessionCustomPredicate(t *testing.T) {
	session, err := testGenerator().NewSession(Params{
		CredentialType:    "KYCAgeCredential",
		CredentialContext: "https://example.com/kyc-v1.json-ld",
		Predicate:         &Predicate{Field: "birthday", Operator: "$lt", Threshold: 20060101},
		BoundAddress:      "0x1111111111111111111111111111111111111111",
	})
	require.NoError(t, err)

	assert.Equal(t, "0x1111111111111111111111111111111111111111", session.BoundAddress)
	scope := session.Request.Body.Scope[0]
	assert.Equal(t, "KYCAgeCredential", scope.Query["type"])
	subject := scope.Query["credentialSubject"].(map[string]any)
	assert.Equal(t, map[string]any{"$lt": 20060101}, subject["birthday"])
}

func TestNewSessionCallerSuppliedID(t *testing.T) {
	const id = "3f2c9a10-6d4e-4b7f-9c1a-8e5d2b0f7a61"
	session, err := testGenerator().NewSession(Params{SessionID: id})
	require.NoError(t, err)

	assert.Equal(t, id, session.ID)
	assert.Equal(t, id, session.Request.ID)
	assert.Equal(t, id, session.Request.ThreadID)
	assert.Equal(t, "https://verifier.example.com/callbacks?sessionId="+id, session.Request.Body.CallbackURL)
}

func TestNewSessionRejectsMalformedID(t *testing.T) {
	_, err := testGenerator().NewSession(Params{SessionID: "not-a-uuid"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRequestShape))
}

func TestNewSessionRejectsBadPredicates(t *testing.T) {
	cases := []struct {
		name      string
		predicate *Predicate
	}{
		{"missing field", &Predicate{Operator: "$gt", Threshold: 1}},
		{"unknown operator", &Predicate{Field: "score", Operator: "$between", Threshold: 1}},
		{"missing threshold", &Predicate{Field: "score", Operator: "$gt"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := testGenerator().NewSession(Params{Predicate: tc.predicate})
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRequestShape))
		})
	}
}

func TestValidateShape(t *testing.T) {
	session, err := testGenerator().NewSession(Params{})
	require.NoError(t, err)
	require.NoError(t, ValidateShape(session.Request))

	var empty protocol.AuthorizationRequestMessage
	err = ValidateShape(empty)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRequestShape))

	noScope := session.Request
	noScope.Body.Scope = nil
	err = ValidateShape(noScope)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRequestShape))
}
