package krnl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofgate/internal/sentinel"
	"proofgate/pkg/platform/circuit"
)

func newTestExecutor(t *testing.T, handler http.HandlerFunc) *Executor {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	executor, err := New(Config{
		RPCURL:      server.URL,
		EntryID:     "entry-1",
		AccessToken: "secret",
		KernelID:    "1683",
	})
	require.NoError(t, err)
	return executor
}

func TestExecuteSuccess(t *testing.T) {
	executor := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "krnl_executeKernels", req.Method)
		require.Len(t, req.Params, 4)
		assert.Equal(t, "entry-1", req.Params[0])
		assert.Equal(t, "secret", req.Params[1])

		data, err := json.Marshal(req.Params[2])
		require.NoError(t, err)
		var requestData kernelRequestData
		require.NoError(t, json.Unmarshal(data, &requestData))
		assert.Equal(t, "0x1111111111111111111111111111111111111111", requestData.SenderAddress)
		payload, ok := requestData.KernelPayload["1683"]
		require.True(t, ok)
		assert.Equal(t, "jwz-token", payload.Parameters.Body["token"])
		assert.Equal(t, "session-1", payload.Parameters.Query["sessionId"])

		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]string{
				"auth":             "0xaa",
				"kernel_responses": "0xbb",
				"kernel_params":    "0xcc",
			},
		})
	})

	result, err := executor.Execute(context.Background(), "jwz-token", "0x1111111111111111111111111111111111111111", "session-1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa}, []byte(result.Auth))
	assert.Equal(t, []byte{0xbb}, []byte(result.KernelResponses))
	assert.Equal(t, []byte{0xcc}, []byte(result.KernelParams))
}

func TestExecuteGatewayError(t *testing.T) {
	executor := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32000, "message": "kernel not registered"},
		})
	})

	_, err := executor.Execute(context.Background(), "jwz-token", "", "session-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kernel not registered")
	assert.NotErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestExecuteTransportFailureIsTransient(t *testing.T) {
	executor := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := executor.Execute(context.Background(), "jwz-token", "", "session-1")
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestExecuteCircuitOpensAfterRepeatedFailures(t *testing.T) {
	var calls int
	executor := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})
	executor.breaker = circuit.New("kernel-gateway", circuit.WithFailureThreshold(2))

	for i := 0; i < 2; i++ {
		_, err := executor.Execute(context.Background(), "jwz-token", "", "session-1")
		require.ErrorIs(t, err, sentinel.ErrUnavailable)
	}
	assert.Equal(t, 2, calls)

	_, err := executor.Execute(context.Background(), "jwz-token", "", "session-1")
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.Equal(t, 2, calls, "open circuit fails fast without calling the gateway")
}

func TestExecuteRejectsMalformedSender(t *testing.T) {
	executor := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway must not be called")
	})

	_, err := executor.Execute(context.Background(), "jwz-token", "not-an-address", "session-1")
	require.Error(t, err)
}
