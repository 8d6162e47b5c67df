// Package chain submits attested claim requests to the airdrop contract.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"proofgate/internal/session/models"
)

// Sentinel errors for the claim service to classify.
var (
	ErrSignerUnavailable = errors.New("transaction signer unavailable")
	ErrInsufficientFunds = errors.New("signer has insufficient funds")
	ErrRejected          = errors.New("transaction rejected by the chain")
)

// The airdrop contract verifies the attested payload on-chain before
// releasing tokens to the recipient.
const submitRequestABI = `[{
	"inputs": [
		{"components": [
			{"internalType": "bytes", "name": "auth", "type": "bytes"},
			{"internalType": "bytes", "name": "kernelResponses", "type": "bytes"},
			{"internalType": "bytes", "name": "kernelParams", "type": "bytes"}
		], "internalType": "struct KrnlPayload", "name": "krnlPayload", "type": "tuple"},
		{"internalType": "address", "name": "recipient", "type": "address"}
	],
	"name": "submitRequest",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

// krnlPayload matches the contract's KrnlPayload tuple.
type krnlPayload struct {
	Auth            []byte
	KernelResponses []byte
	KernelParams    []byte
}

// Config holds chain access for claim submission.
type Config struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64

	// SignerKey is the hex-encoded private key paying for claim transactions.
	SignerKey string
}

// Submitter sends submitRequest transactions and waits for them to mine.
type Submitter struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	opts     *bind.TransactOpts
}

// New dials the chain and prepares a keyed transactor. Key problems surface
// as ErrSignerUnavailable so callers can report them distinctly from chain
// connectivity failures.
func New(ctx context.Context, cfg Config) (*Submitter, error) {
	if cfg.ContractAddress == "" || !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("claim submitter: invalid contract address %q", cfg.ContractAddress)
	}
	if cfg.SignerKey == "" {
		return nil, fmt.Errorf("claim submitter: %w: no signer key configured", ErrSignerUnavailable)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("claim submitter: %w: %w", ErrSignerUnavailable, err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("claim submitter: dial %s: %w", cfg.RPCURL, err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("claim submitter: %w: %w", ErrSignerUnavailable, err)
	}

	parsed, err := abi.JSON(strings.NewReader(submitRequestABI))
	if err != nil {
		return nil, fmt.Errorf("claim submitter: parse ABI: %w", err)
	}

	contract := bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, client, client, client)
	return &Submitter{client: client, contract: contract, opts: opts}, nil
}

// Submit sends the attested payload for the recipient and blocks until the
// transaction mines. It returns the transaction hash.
func (s *Submitter) Submit(ctx context.Context, execution *models.ExecutionResult, recipient string) (string, error) {
	if execution == nil {
		return "", fmt.Errorf("claim submitter: execution payload is required")
	}

	opts := *s.opts
	opts.Context = ctx

	payload := krnlPayload{
		Auth:            execution.Auth,
		KernelResponses: execution.KernelResponses,
		KernelParams:    execution.KernelParams,
	}
	tx, err := s.contract.Transact(&opts, "submitRequest", payload, common.HexToAddress(recipient))
	if err != nil {
		return "", classifySubmitError(err)
	}

	receipt, err := bind.WaitMined(ctx, s.client, tx)
	if err != nil {
		return "", fmt.Errorf("wait for claim transaction: %w", err)
	}
	if receipt.Status == 0 {
		return tx.Hash().Hex(), fmt.Errorf("claim transaction %s reverted: %w", tx.Hash().Hex(), ErrRejected)
	}
	return tx.Hash().Hex(), nil
}

// Close releases the underlying RPC connection.
func (s *Submitter) Close() {
	s.client.Close()
}

func classifySubmitError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("submit claim: %w: %w", ErrInsufficientFunds, err)
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "nonce too low"):
		return fmt.Errorf("submit claim: %w: %w", ErrRejected, err)
	default:
		return fmt.Errorf("submit claim: %w", err)
	}
}
