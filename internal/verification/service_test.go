package verification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/iden3/iden3comm/v2/protocol"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"proofgate/internal/request"
	"proofgate/internal/sentinel"
	"proofgate/internal/session/models"
	"proofgate/internal/session/store"
	"proofgate/internal/verification/kernel"
	"proofgate/internal/verification/mocks"
	dErrors "proofgate/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite

	ctrl     *gomock.Controller
	verifier *mocks.MockProofVerifier
	executor *mocks.MockKernelExecutor
	sessions *store.InMemoryStore
	svc      *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.verifier = mocks.NewMockProofVerifier(s.ctrl)
	s.executor = mocks.NewMockKernelExecutor(s.ctrl)
	s.sessions = store.NewMemory()

	generator := request.NewGenerator(request.Config{
		VerifierDID:     "did:polygonid:polygon:amoy:2qM4krYhpKkCPHv3tHgW8d1yJE3aWZrpREeD2CE9nk",
		CallbackBaseURL: "https://verifier.example.com/callbacks",
		SessionTTL:      time.Hour,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.svc = NewService(s.sessions, generator, s.verifier, s.executor, kernel.NewDecoder(kernel.AggregateAny), logger)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) createSession() *models.Session {
	session, err := s.svc.CreateSession(context.Background(), request.Params{
		BoundAddress: "0x1111111111111111111111111111111111111111",
	})
	s.Require().NoError(err)
	return session
}

// packedVerdicts abi-encodes kernel responses the way the execution gateway
// returns them: an outer (uint256,bytes,string)[] with each successful result
// wrapping its verdict in an inner (string) tuple.
func packedVerdicts(s *ServiceSuite, verdicts ...string) hexutil.Bytes {
	s.T().Helper()
	outer, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "kernelId", Type: "uint256"},
		{Name: "result", Type: "bytes"},
		{Name: "err", Type: "string"},
	})
	s.Require().NoError(err)
	inner, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "value", Type: "string"},
	})
	s.Require().NoError(err)

	type entry struct {
		KernelID *big.Int `abi:"kernelId"`
		Result   []byte   `abi:"result"`
		Err      string   `abi:"err"`
	}
	entries := make([]entry, 0, len(verdicts))
	for i, verdict := range verdicts {
		result, err := abi.Arguments{{Type: inner}}.Pack(struct {
			Value string `abi:"value"`
		}{Value: verdict})
		s.Require().NoError(err)
		entries = append(entries, entry{KernelID: big.NewInt(int64(i + 1)), Result: result})
	}
	payload, err := abi.Arguments{{Type: outer}}.Pack(entries)
	s.Require().NoError(err)
	return payload
}

func executionWith(responses hexutil.Bytes) *models.ExecutionResult {
	return &models.ExecutionResult{
		Auth:            hexutil.Bytes{0xaa},
		KernelResponses: responses,
		KernelParams:    hexutil.Bytes{0xbb},
	}
}

func (s *ServiceSuite) TestCallbackSuccess() {
	session := s.createSession()
	execution := executionWith(packedVerdicts(s, "success"))

	s.verifier.EXPECT().
		FullVerify(gomock.Any(), "jwz-token", gomock.Any()).
		Return(&protocol.AuthorizationResponseMessage{}, nil)
	s.executor.EXPECT().
		Execute(gomock.Any(), "jwz-token", session.BoundAddress, session.ID).
		Return(execution, nil)

	outcome, err := s.svc.HandleCallback(context.Background(), session.ID, []byte("jwz-token"))
	s.Require().NoError(err)
	s.True(outcome.Success)
	s.Equal("Proof verification successful", outcome.Message)
	s.Require().Len(outcome.Responses, 1)
	s.True(outcome.Responses[0].Passed())

	stored, err := s.sessions.Get(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.Execution)
	s.Equal(execution.KernelParams, stored.Execution.KernelParams)

	view, err := s.svc.Status(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Equal(StatusSuccess, view.Status)
	s.Require().NotNil(view.Verified)
	s.True(*view.Verified)
	s.Equal("Proof verification successful", view.Message)
	s.Len(view.ProcessedResponses, 1)
}

func (s *ServiceSuite) TestCallbackAcceptsJSONEnvelope() {
	session := s.createSession()

	s.verifier.EXPECT().
		FullVerify(gomock.Any(), "jwz-token", gomock.Any()).
		Return(&protocol.AuthorizationResponseMessage{}, nil)
	s.executor.EXPECT().
		Execute(gomock.Any(), "jwz-token", session.BoundAddress, session.ID).
		Return(executionWith(packedVerdicts(s, "success")), nil)

	outcome, err := s.svc.HandleCallback(context.Background(), session.ID, []byte(`{"token": "jwz-token"}`))
	s.Require().NoError(err)
	s.True(outcome.Success)
}

func (s *ServiceSuite) TestCallbackVerificationFailure() {
	session := s.createSession()

	s.verifier.EXPECT().
		FullVerify(gomock.Any(), "bad-token", gomock.Any()).
		Return(nil, errors.New("proof does not satisfy the query"))

	outcome, err := s.svc.HandleCallback(context.Background(), session.ID, []byte("bad-token"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeVerificationFailed))
	s.Require().NotNil(outcome)
	s.False(outcome.Success)

	// The failure is terminal and visible through status.
	view, err := s.svc.Status(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Equal(StatusFailure, view.Status)
	s.Require().NotNil(view.Verified)
	s.False(*view.Verified)
	s.Equal("Verification failed", view.Message)
}

func (s *ServiceSuite) TestCallbackKernelRejection() {
	session := s.createSession()

	s.verifier.EXPECT().
		FullVerify(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&protocol.AuthorizationResponseMessage{}, nil)
	s.executor.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(executionWith(packedVerdicts(s, "rejected")), nil)

	outcome, err := s.svc.HandleCallback(context.Background(), session.ID, []byte("jwz-token"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeVerificationFailed))
	s.Require().NotNil(outcome)
	s.False(outcome.Success)
	s.Equal("Kernel policy checks failed", outcome.Message)

	// The execution payload must not be persisted for a failed session.
	stored, err := s.sessions.Get(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Nil(stored.Execution)
}

func (s *ServiceSuite) TestCallbackReplayObservesFirstOutcome() {
	session := s.createSession()

	s.verifier.EXPECT().
		FullVerify(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&protocol.AuthorizationResponseMessage{}, nil).
		Times(1)
	s.executor.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(executionWith(packedVerdicts(s, "success")), nil).
		Times(1)

	first, err := s.svc.HandleCallback(context.Background(), session.ID, []byte("jwz-token"))
	s.Require().NoError(err)
	s.True(first.Success)

	// Retransmission neither re-verifies nor re-executes.
	second, err := s.svc.HandleCallback(context.Background(), session.ID, []byte("jwz-token"))
	s.Require().NoError(err)
	s.Equal(first.Message, second.Message)
	s.True(second.Success)
}

func (s *ServiceSuite) TestConcurrentCallbacksShareOneKernelExecution() {
	session := s.createSession()

	// Both callbacks must pass the terminal check before either records, so
	// the verifier holds them at a barrier until both have arrived.
	var arrived sync.WaitGroup
	arrived.Add(2)
	s.verifier.EXPECT().
		FullVerify(gomock.Any(), "jwz-token", gomock.Any()).
		DoAndReturn(func(context.Context, string, protocol.AuthorizationRequestMessage) (*protocol.AuthorizationResponseMessage, error) {
			arrived.Done()
			arrived.Wait()
			return &protocol.AuthorizationResponseMessage{}, nil
		}).
		Times(2)
	execution := executionWith(packedVerdicts(s, "success"))
	s.executor.EXPECT().
		Execute(gomock.Any(), "jwz-token", session.BoundAddress, session.ID).
		DoAndReturn(func(context.Context, string, string, string) (*models.ExecutionResult, error) {
			// Keep the call in flight long enough for the second caller to
			// join it.
			time.Sleep(50 * time.Millisecond)
			return execution, nil
		}).
		Times(1)

	outcomes := make([]*models.Outcome, 2)
	errs := make([]error, 2)
	var done sync.WaitGroup
	done.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer done.Done()
			outcomes[i], errs[i] = s.svc.HandleCallback(context.Background(), session.ID, []byte("jwz-token"))
		}(i)
	}
	done.Wait()

	for i := 0; i < 2; i++ {
		s.Require().NoError(errs[i])
		s.Require().NotNil(outcomes[i])
		s.True(outcomes[i].Success)
	}

	stored, err := s.sessions.Get(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.Outcome)
	s.True(stored.Outcome.Success)
}

// contendedStore reports every outcome write as a lost race while the stored
// session stays unattempted, the shape a contended compare-and-set has before
// the winner's write becomes visible.
type contendedStore struct {
	*store.InMemoryStore
}

func (c *contendedStore) SetOutcome(context.Context, string, models.Outcome, *models.ExecutionResult) error {
	return sentinel.ErrConflict
}

func (s *ServiceSuite) TestCallbackConflictWithoutVisibleOutcomeIsRetryable() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	generator := request.NewGenerator(request.Config{
		VerifierDID:     "did:polygonid:polygon:amoy:2qM4krYhpKkCPHv3tHgW8d1yJE3aWZrpREeD2CE9nk",
		CallbackBaseURL: "https://verifier.example.com/callbacks",
		SessionTTL:      time.Hour,
	})
	svc := NewService(&contendedStore{s.sessions}, generator, s.verifier, s.executor, kernel.NewDecoder(kernel.AggregateAny), logger)

	session, err := svc.CreateSession(context.Background(), request.Params{
		BoundAddress: "0x1111111111111111111111111111111111111111",
	})
	s.Require().NoError(err)

	s.verifier.EXPECT().
		FullVerify(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&protocol.AuthorizationResponseMessage{}, nil)
	s.executor.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(executionWith(packedVerdicts(s, "success")), nil)

	outcome, err := svc.HandleCallback(context.Background(), session.ID, []byte("jwz-token"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStoreUnavailable))
	s.Nil(outcome)

	// Nothing terminal was fabricated; the wallet can retry.
	view, err := svc.Status(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Equal(StatusUnattempted, view.Status)
	s.Nil(view.Verified)
}

func (s *ServiceSuite) TestCreateSessionRejectsDuplicateID() {
	const id = "7b1c3e58-9f2d-4a6b-8c0e-5d4f3a2b1c0d"

	first, err := s.svc.CreateSession(context.Background(), request.Params{SessionID: id})
	s.Require().NoError(err)
	s.Equal(id, first.ID)

	_, err = s.svc.CreateSession(context.Background(), request.Params{SessionID: id})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestCallbackTransientKernelFailureIsNotTerminal() {
	session := s.createSession()

	s.verifier.EXPECT().
		FullVerify(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&protocol.AuthorizationResponseMessage{}, nil)
	s.executor.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, sentinel.ErrUnavailable)

	outcome, err := s.svc.HandleCallback(context.Background(), session.ID, []byte("jwz-token"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	s.Nil(outcome)

	// The session stays open for a retry.
	view, err := s.svc.Status(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Equal(StatusUnattempted, view.Status)
	s.Nil(view.Verified)
}

func (s *ServiceSuite) TestCallbackDecodeErrorIsTerminal() {
	session := s.createSession()

	s.verifier.EXPECT().
		FullVerify(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&protocol.AuthorizationResponseMessage{}, nil)
	s.executor.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(executionWith(hexutil.Bytes{0x01, 0x02}), nil)

	outcome, err := s.svc.HandleCallback(context.Background(), session.ID, []byte("jwz-token"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeKernelDecodeError))
	s.Require().NotNil(outcome)
	s.False(outcome.Success)

	view, err := s.svc.Status(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Equal(StatusFailure, view.Status)
}

func (s *ServiceSuite) TestCallbackInputValidation() {
	session := s.createSession()

	_, err := s.svc.HandleCallback(context.Background(), "", []byte("jwz-token"))
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = s.svc.HandleCallback(context.Background(), session.ID, []byte("   "))
	s.True(dErrors.HasCode(err, dErrors.CodeEmptyToken))

	_, err = s.svc.HandleCallback(context.Background(), "00000000-0000-0000-0000-000000000000", []byte("jwz-token"))
	s.True(dErrors.HasCode(err, dErrors.CodeSessionNotFound))

	// An unknown session reads as not-found even when the body is empty too.
	_, err = s.svc.HandleCallback(context.Background(), "00000000-0000-0000-0000-000000000000", nil)
	s.True(dErrors.HasCode(err, dErrors.CodeSessionNotFound))
}

// Bodies that look like JSON but carry no recognizable token envelope reach
// the verifier verbatim; rejecting them is the verifier's call.
func (s *ServiceSuite) TestCallbackForwardsOpaqueBodiesVerbatim() {
	bodies := []string{"{not-json-jwz-blob}", `{"jwz":"abc"}`, `{"token": ""}`}
	for _, body := range bodies {
		session := s.createSession()
		s.verifier.EXPECT().
			FullVerify(gomock.Any(), body, gomock.Any()).
			Return(nil, errors.New("unsupported token format"))

		outcome, err := s.svc.HandleCallback(context.Background(), session.ID, []byte(body))
		s.Require().Error(err, body)
		s.True(dErrors.HasCode(err, dErrors.CodeVerificationFailed), body)
		s.Require().NotNil(outcome, body)
		s.False(outcome.Success, body)
	}
}

func (s *ServiceSuite) TestCallbackWithoutKernelGateway() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	generator := request.NewGenerator(request.Config{
		VerifierDID:     "did:polygonid:polygon:amoy:2qM4krYhpKkCPHv3tHgW8d1yJE3aWZrpREeD2CE9nk",
		CallbackBaseURL: "https://verifier.example.com/callbacks",
		SessionTTL:      time.Hour,
	})
	svc := NewService(s.sessions, generator, s.verifier, nil, kernel.NewDecoder(kernel.AggregateAny), logger)

	session, err := svc.CreateSession(context.Background(), request.Params{})
	s.Require().NoError(err)

	s.verifier.EXPECT().
		FullVerify(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&protocol.AuthorizationResponseMessage{}, nil)

	outcome, err := svc.HandleCallback(context.Background(), session.ID, []byte("jwz-token"))
	s.Require().NoError(err)
	s.True(outcome.Success)

	// No execution payload means the claim precondition can never pass.
	stored, err := s.sessions.Get(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Nil(stored.Execution)
}

func (s *ServiceSuite) TestStatusUnknownSession() {
	_, err := s.svc.Status(context.Background(), "00000000-0000-0000-0000-000000000000")
	s.True(dErrors.HasCode(err, dErrors.CodeSessionNotFound))
}
