// Package krnl calls the kernel execution gateway over JSON-RPC and maps its
// attested payload onto the KernelExecutor port.
package krnl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"proofgate/internal/sentinel"
	"proofgate/internal/session/models"
	"proofgate/pkg/platform/circuit"
)

const (
	rpcMethod      = "krnl_executeKernels"
	defaultTimeout = 30 * time.Second
)

// Config holds the gateway credentials and the kernel to run.
type Config struct {
	RPCURL      string
	EntryID     string
	AccessToken string
	KernelID    string
	Timeout     time.Duration
}

// Executor is an HTTP JSON-RPC client for the kernel gateway. A circuit
// breaker fails callbacks fast while the gateway is down instead of holding
// them open for the full timeout.
type Executor struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuit.Breaker
}

// New constructs a kernel executor. A zero timeout falls back to 30s.
func New(cfg Config) (*Executor, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("krnl executor: RPC URL is required")
	}
	if cfg.KernelID == "" {
		return nil, fmt.Errorf("krnl executor: kernel id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Executor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuit.New("kernel-gateway"),
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result *executionResult `json:"result"`
	Error  *rpcError        `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("kernel gateway error %d: %s", e.Code, e.Message)
}

type executionResult struct {
	Auth            hexutil.Bytes `json:"auth"`
	KernelResponses hexutil.Bytes `json:"kernel_responses"`
	KernelParams    hexutil.Bytes `json:"kernel_params"`
}

// kernelRequestData mirrors the gateway's expected shape: the kernel payload
// is keyed by kernel id and carries the HTTP request the kernel replays
// against the verifier's status endpoint.
type kernelRequestData struct {
	SenderAddress string                   `json:"senderAddress"`
	KernelPayload map[string]kernelPayload `json:"kernelPayload"`
}

type kernelPayload struct {
	Parameters kernelParameters `json:"parameters"`
}

type kernelParameters struct {
	Header map[string]string `json:"header"`
	Body   map[string]string `json:"body"`
	Query  map[string]string `json:"query"`
	Path   string            `json:"path"`
}

// Execute runs the configured kernel for one session and returns the attested
// execution payload. Transport failures are wrapped in sentinel.ErrUnavailable
// so the caller treats them as transient.
func (e *Executor) Execute(ctx context.Context, token, senderAddress, sessionID string) (*models.ExecutionResult, error) {
	if !e.breaker.Allow() {
		return nil, fmt.Errorf("kernel gateway circuit open: %w", sentinel.ErrUnavailable)
	}

	functionParams, err := packSenderAddress(senderAddress)
	if err != nil {
		return nil, err
	}

	requestData := kernelRequestData{
		SenderAddress: senderAddress,
		KernelPayload: map[string]kernelPayload{
			e.cfg.KernelID: {
				Parameters: kernelParameters{
					Header: map[string]string{},
					Body:   map[string]string{"token": token},
					Query:  map[string]string{"sessionId": sessionID},
					Path:   "",
				},
			},
		},
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  rpcMethod,
		Params:  []any{e.cfg.EntryID, e.cfg.AccessToken, requestData, hexutil.Encode(functionParams)},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal kernel request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.RPCURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build kernel request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.breaker.RecordFailure()
		return nil, fmt.Errorf("call kernel gateway: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e.breaker.RecordFailure()
		return nil, fmt.Errorf("kernel gateway returned status %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}
	e.breaker.RecordSuccess()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode kernel gateway response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	if rpcResp.Result == nil {
		return nil, fmt.Errorf("kernel gateway returned no result")
	}

	return &models.ExecutionResult{
		Auth:            rpcResp.Result.Auth,
		KernelResponses: rpcResp.Result.KernelResponses,
		KernelParams:    rpcResp.Result.KernelParams,
	}, nil
}

// packSenderAddress abi-encodes the sender as the contract function params the
// gateway signs over. A missing address encodes as the zero address.
func packSenderAddress(senderAddress string) ([]byte, error) {
	var addr common.Address
	if senderAddress != "" {
		if !common.IsHexAddress(senderAddress) {
			return nil, fmt.Errorf("invalid sender address %q", senderAddress)
		}
		addr = common.HexToAddress(senderAddress)
	}
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		return nil, fmt.Errorf("build address type: %w", err)
	}
	return abi.Arguments{{Type: addressType}}.Pack(addr)
}
