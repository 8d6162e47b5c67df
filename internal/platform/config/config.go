package config

import (
	"os"
	"strconv"
	"time"
)

// Resolver identifies an on-chain state contract used to validate proof state roots
// for one network prefix (e.g. "polygon:amoy").
type Resolver struct {
	RPCURL          string
	ContractAddress string
}

// Server captures process-level configuration for the gateway.
type Server struct {
	Addr        string
	Environment string

	// Session protocol knobs.
	SessionTTL           time.Duration
	StateTransitionDelay time.Duration
	PollInterval         time.Duration
	PollTimeout          time.Duration

	// Disclosure request defaults.
	VerifierDID       string
	CallbackBaseURL   string
	CredentialType    string
	CredentialContext string

	// Callback origin restriction; empty means permissive.
	CallbackAllowedOrigin string

	// Proof verifier state resolvers keyed by network prefix.
	Resolvers map[string]Resolver

	// Policy kernel access.
	KernelRPCURL      string
	KernelEntryID     string
	KernelAccessToken string
	KernelID          string
	KernelAggregation string

	// Claim contract access.
	ClaimContractAddress string
	ChainRPCURL          string
	ChainID              int64
	SignerKey            string

	// Storage backends; first non-empty wins: Postgres, Redis, in-memory.
	PostgresURL string
	RedisURL    string

	// Optional bearer-token protection for the claim endpoint.
	OperatorJWTKey string
}

// Defaults mirror the reference deployment: 1h sessions, 5m accepted state
// transition delay, 3s/5m polling contract.
const (
	DefaultSessionTTL           = time.Hour
	DefaultStateTransitionDelay = 5 * time.Minute
	DefaultPollInterval         = 3 * time.Second
	DefaultPollTimeout          = 5 * time.Minute
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:                  getEnv("PROOFGATE_ADDR", ":8080"),
		Environment:           getEnv("PROOFGATE_ENV", "development"),
		SessionTTL:            getDuration("SESSION_TTL", DefaultSessionTTL),
		StateTransitionDelay:  getDuration("STATE_TRANSITION_DELAY", DefaultStateTransitionDelay),
		PollInterval:          getDuration("POLL_INTERVAL", DefaultPollInterval),
		PollTimeout:           getDuration("POLL_TIMEOUT", DefaultPollTimeout),
		VerifierDID:           getEnv("VERIFIER_DID", "did:polygonid:polygon:amoy:2qM4krYhpKkCPHv3tHgW8d1yJE3aWZrpREeD2CE9nk"),
		CallbackBaseURL:       getEnv("CALLBACK_BASE_URL", "http://localhost:8080/callbacks"),
		CredentialType:        getEnv("CREDENTIAL_TYPE", "UniquenessCredential"),
		CredentialContext:     getEnv("CREDENTIAL_CONTEXT", "https://raw.githubusercontent.com/Ash20pk/privado-poc/refs/heads/main/public/schemas/json-ld/UniquenessCredential.jsonld"),
		CallbackAllowedOrigin: os.Getenv("CALLBACK_ALLOWED_ORIGIN"),
		KernelRPCURL:          os.Getenv("KERNEL_RPC_URL"),
		KernelEntryID:         os.Getenv("KERNEL_ENTRY_ID"),
		KernelAccessToken:     os.Getenv("KERNEL_ACCESS_TOKEN"),
		KernelID:              getEnv("KERNEL_ID", "1683"),
		KernelAggregation:     getEnv("KERNEL_AGGREGATION", "any"),
		ClaimContractAddress:  os.Getenv("CLAIM_CONTRACT_ADDRESS"),
		ChainRPCURL:           getEnv("CHAIN_RPC_URL", "https://1rpc.io/sepolia"),
		ChainID:               getInt64("CHAIN_ID", 11155111),
		SignerKey:             os.Getenv("CLAIM_SIGNER_KEY"),
		PostgresURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		OperatorJWTKey:        os.Getenv("OPERATOR_JWT_KEY"),
	}

	cfg.Resolvers = map[string]Resolver{
		"polygon:amoy": {
			RPCURL:          getEnv("AMOY_RPC_URL", "https://polygon-amoy.publicnode.com"),
			ContractAddress: getEnv("AMOY_STATE_CONTRACT", "0x1a4cC30f2aA0377b0c3bc9848766D90cb4404124"),
		},
		"privado:main": {
			RPCURL:          getEnv("PRIVADO_RPC_URL", "https://rpc-mainnet.privado.id"),
			ContractAddress: getEnv("PRIVADO_STATE_CONTRACT", "0x3C9acB2205Aa72A05F6D77d708b5Cf85FCa3a896"),
		},
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
