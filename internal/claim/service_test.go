package claim

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofgate/internal/claim/chain"
	"proofgate/internal/session/models"
	"proofgate/internal/session/store"
	dErrors "proofgate/pkg/domain-errors"
)

const recipient = "0x1111111111111111111111111111111111111111"

type fakeSubmitter struct {
	txHash string
	err    error
	calls  int
}

func (f *fakeSubmitter) Submit(_ context.Context, _ *models.ExecutionResult, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.txHash, nil
}

func newClaimService(t *testing.T, submitter Submitter) (*Service, *store.InMemoryStore) {
	t.Helper()
	sessions := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(sessions, submitter, logger), sessions
}

func seedSession(t *testing.T, sessions *store.InMemoryStore, verified bool) string {
	t.Helper()
	now := time.Now()
	session := &models.Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, sessions.Create(context.Background(), session))

	outcome := models.Outcome{Success: verified, Timestamp: now}
	execution := &models.ExecutionResult{
		Auth:            hexutil.Bytes{0xaa},
		KernelResponses: hexutil.Bytes{0xbb},
		KernelParams:    hexutil.Bytes{0xcc},
	}
	require.NoError(t, sessions.SetOutcome(context.Background(), session.ID, outcome, execution))
	return session.ID
}

func TestClaimSuccess(t *testing.T) {
	submitter := &fakeSubmitter{txHash: "0xdeadbeef"}
	svc, sessions := newClaimService(t, submitter)
	sessionID := seedSession(t, sessions, true)

	claim, err := svc.Claim(context.Background(), sessionID, recipient)
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", claim.TxHash)
	assert.Equal(t, recipient, claim.Recipient)
	assert.Equal(t, 1, submitter.calls)

	stored, err := sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotNil(t, stored.Claim)
	assert.Equal(t, "0xdeadbeef", stored.Claim.TxHash)
	assert.Equal(t, recipient, stored.BoundAddress)
}

func TestClaimRequiresVerifiedSession(t *testing.T) {
	submitter := &fakeSubmitter{txHash: "0xdeadbeef"}
	svc, sessions := newClaimService(t, submitter)
	sessionID := seedSession(t, sessions, false)

	_, err := svc.Claim(context.Background(), sessionID, recipient)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePreconditionFailed))
	assert.Zero(t, submitter.calls, "no transaction may be sent for an unverified session")
}

func TestClaimIsIdempotent(t *testing.T) {
	submitter := &fakeSubmitter{txHash: "0xdeadbeef"}
	svc, sessions := newClaimService(t, submitter)
	sessionID := seedSession(t, sessions, true)

	_, err := svc.Claim(context.Background(), sessionID, recipient)
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), sessionID, recipient)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyClaimed))
	assert.Equal(t, 1, submitter.calls, "a claimed session must not pay for a second transaction")
}

func TestClaimRejectsMismatchedRecipient(t *testing.T) {
	submitter := &fakeSubmitter{txHash: "0xdeadbeef"}
	svc, sessions := newClaimService(t, submitter)
	sessionID := seedSession(t, sessions, true)
	require.NoError(t, sessions.BindAddress(context.Background(), sessionID, recipient))

	_, err := svc.Claim(context.Background(), sessionID, "0x2222222222222222222222222222222222222222")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	assert.Zero(t, submitter.calls)
}

func TestClaimInputValidation(t *testing.T) {
	svc, _ := newClaimService(t, &fakeSubmitter{})

	_, err := svc.Claim(context.Background(), "", recipient)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = svc.Claim(context.Background(), uuid.New().String(), "not-an-address")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = svc.Claim(context.Background(), uuid.New().String(), recipient)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSessionNotFound))
}

func TestClaimWithoutSubmitter(t *testing.T) {
	svc, sessions := newClaimService(t, nil)
	sessionID := seedSession(t, sessions, true)

	_, err := svc.Claim(context.Background(), sessionID, recipient)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSignerUnavailable))
}

func TestClaimChainErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code dErrors.Code
	}{
		{"insufficient funds", chain.ErrInsufficientFunds, dErrors.CodeInsufficientFunds},
		{"signer unavailable", chain.ErrSignerUnavailable, dErrors.CodeSignerUnavailable},
		{"chain rejected", chain.ErrRejected, dErrors.CodeChainRejected},
		{"timeout", context.DeadlineExceeded, dErrors.CodeTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, sessions := newClaimService(t, &fakeSubmitter{err: tc.err})
			sessionID := seedSession(t, sessions, true)

			_, err := svc.Claim(context.Background(), sessionID, recipient)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, tc.code))

			stored, getErr := sessions.Get(context.Background(), sessionID)
			require.NoError(t, getErr)
			assert.Nil(t, stored.Claim, "a failed submission must not record a claim")
		})
	}
}
