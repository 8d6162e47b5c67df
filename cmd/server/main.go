package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proofgate/internal/claim"
	"proofgate/internal/claim/chain"
	jwttoken "proofgate/internal/jwt_token"
	"proofgate/internal/platform/config"
	"proofgate/internal/platform/database"
	"proofgate/internal/platform/health"
	"proofgate/internal/platform/httpserver"
	"proofgate/internal/platform/logger"
	"proofgate/internal/platform/middleware"
	platformredis "proofgate/internal/platform/redis"
	"proofgate/internal/request"
	sessionmetrics "proofgate/internal/session/metrics"
	"proofgate/internal/session/store"
	httptransport "proofgate/internal/transport/http"
	"proofgate/internal/verification"
	"proofgate/internal/verification/adapters/iden3"
	"proofgate/internal/verification/adapters/krnl"
	"proofgate/internal/verification/kernel"
	"proofgate/internal/verification/ports"
	"proofgate/internal/verification/tracer"
	"proofgate/migrations"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing proofgate",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"verifier_did", cfg.VerifierDID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthHandler := health.New(cfg.Environment)
	sessions, cleanup, err := buildStore(ctx, cfg, log, healthHandler)
	if err != nil {
		log.Error("store initialization failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	verifier, err := iden3.New(iden3.Config{
		Resolvers:            resolverConfigs(cfg),
		StateTransitionDelay: cfg.StateTransitionDelay,
	})
	if err != nil {
		log.Error("proof verifier initialization failed", "error", err)
		os.Exit(1)
	}

	var executor ports.KernelExecutor
	if cfg.KernelRPCURL != "" {
		kernelExecutor, err := krnl.New(krnl.Config{
			RPCURL:      cfg.KernelRPCURL,
			EntryID:     cfg.KernelEntryID,
			AccessToken: cfg.KernelAccessToken,
			KernelID:    cfg.KernelID,
		})
		if err != nil {
			log.Error("kernel executor initialization failed", "error", err)
			os.Exit(1)
		}
		executor = kernelExecutor
	} else {
		log.Warn("kernel execution disabled: no kernel RPC URL configured")
	}

	aggregation, err := kernel.ParseAggregation(cfg.KernelAggregation)
	if err != nil {
		log.Error("invalid kernel aggregation mode", "error", err)
		os.Exit(1)
	}

	metrics := sessionmetrics.New()
	traces := tracer.NewOTel()

	generator := request.NewGenerator(request.Config{
		VerifierDID:       cfg.VerifierDID,
		CallbackBaseURL:   cfg.CallbackBaseURL,
		CredentialType:    cfg.CredentialType,
		CredentialContext: cfg.CredentialContext,
		SessionTTL:        cfg.SessionTTL,
	})

	verificationSvc := verification.NewService(
		sessions, generator, verifier, executor, kernel.NewDecoder(aggregation), log,
		verification.WithMetrics(metrics),
		verification.WithTracer(traces),
	)

	var submitter claim.Submitter
	if cfg.SignerKey != "" && cfg.ClaimContractAddress != "" {
		chainSubmitter, err := chain.New(ctx, chain.Config{
			RPCURL:          cfg.ChainRPCURL,
			ContractAddress: cfg.ClaimContractAddress,
			ChainID:         cfg.ChainID,
			SignerKey:       cfg.SignerKey,
		})
		if err != nil {
			log.Error("claim submitter initialization failed", "error", err)
			os.Exit(1)
		}
		defer chainSubmitter.Close()
		submitter = chainSubmitter
	} else {
		log.Warn("claim submission disabled: no signer key or contract address configured")
	}

	claimSvc := claim.NewService(sessions, submitter, log,
		claim.WithMetrics(metrics),
		claim.WithTracer(traces),
	)

	var operatorValidator middleware.TokenValidator
	if cfg.OperatorJWTKey != "" {
		operatorValidator = jwttoken.New(cfg.OperatorJWTKey, "proofgate", 24*time.Hour)
	}

	handler := httptransport.NewHandler(verificationSvc, claimSvc, sessions, log,
		httptransport.WithPollInterval(cfg.PollInterval))
	router := httptransport.NewRouter(handler, healthHandler, httptransport.Config{
		CallbackAllowedOrigin: cfg.CallbackAllowedOrigin,
		OperatorValidator:     operatorValidator,
		CallbackTimeout:       cfg.PollTimeout,
	}, log)

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting http server", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// buildStore picks the first configured backend: Postgres, then Redis, then
// in-memory for development.
func buildStore(ctx context.Context, cfg config.Server, log *slog.Logger, healthHandler *health.Handler) (store.Store, func(), error) {
	if cfg.PostgresURL != "" {
		dbCfg := database.DefaultConfig()
		dbCfg.URL = cfg.PostgresURL
		pool, err := database.New(dbCfg)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx, pool.DB(), migrations.FS); err != nil {
			return nil, nil, err
		}
		healthHandler.RegisterCheck("postgres", pool.HealthCheck())
		log.Info("using postgres session store")
		return store.NewPostgres(pool.DB()), func() { _ = pool.Close() }, nil
	}

	if cfg.RedisURL != "" {
		client, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		healthHandler.RegisterCheck("redis", platformredis.HealthCheck(client))
		log.Info("using redis session store")
		return store.NewRedis(client), func() { _ = client.Close() }, nil
	}

	log.Warn("using in-memory session store; sessions will not survive restarts")
	return store.NewMemory(), func() {}, nil
}

func resolverConfigs(cfg config.Server) map[string]iden3.ResolverConfig {
	resolvers := make(map[string]iden3.ResolverConfig, len(cfg.Resolvers))
	for prefix, rc := range cfg.Resolvers {
		resolvers[prefix] = iden3.ResolverConfig{
			RPCURL:          rc.RPCURL,
			ContractAddress: rc.ContractAddress,
		}
	}
	return resolvers
}
