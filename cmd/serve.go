package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/transfa/interbank-service/internal/api"
	"github.com/transfa/interbank-service/internal/app"
	"github.com/transfa/interbank-service/pkg/bankclient"
	"github.com/transfa/interbank-service/pkg/registryclient"
)

func newServeCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reconciliation scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rt)
		},
	}
}

func runServe(ctx context.Context, rt *runtime) error {
	cfg, logger := rt.cfg, rt.logger
	logger.Info("starting interbank service", "component", "bootstrap", "port", cfg.ServerPort, "driver", cfg.DatabaseDriver)

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	identity, err := app.LoadBankIdentity(ctx, repo, cfg)
	if err != nil {
		return fmt.Errorf("bank identity load failed: %w", err)
	}
	if identity.Keys == nil {
		logger.Warn("no signing keys; run generate-keys before sending or publishing keys", "component", "bootstrap")
	}
	if !identity.IsRegistered() {
		logger.Warn("bank not registered; outgoing interbank transfers disabled", "component", "bootstrap")
	}

	var registry app.Registry = registryclient.NewClient(identity.RegistryURL, identity.APIKey, cfg.HTTPClientTimeout())

	var limiter *app.SenderLimiter
	if redisClient := connectRedis(ctx, cfg, logger); redisClient != nil {
		defer redisClient.Close()
		registry = app.NewCachedRegistry(registry, app.NewRedisBankCache(redisClient, cfg.RedisKeyPrefix), cfg.RegistryCacheTTL(), logger)
		limiter = app.NewSenderLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisKeyPrefix), cfg.B2BRateLimitPerMinute, logger)
	}

	if identity.IsRegistered() {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.HTTPClientTimeout())
		if !registry.ValidateBank(checkCtx, identity.Prefix) {
			logger.Warn("own bank prefix not confirmed by registry", "component", "bootstrap", "prefix", identity.Prefix)
		}
		cancel()
	}

	events := newEventPublisher(cfg, logger)
	defer events.Close()

	banks := bankclient.NewClient(cfg.HTTPClientTimeout(), logger)
	ledger := app.NewLedger(repo, logger)
	outgoing := app.NewOutgoingTransferOrchestrator(identity, ledger, registry, banks, events, logger)
	incoming := app.NewIncomingTransferReceiver(identity, ledger, registry, banks, events, logger)
	incoming.SetSenderLimiter(limiter)

	// Finish anything a previous process left mid-flight before taking traffic.
	reconciler := app.NewReconciler(ledger, events, cfg.ReconcileStaleAfter(), cfg.ReconcileBatchSize, logger)
	if _, err := reconciler.Run(ctx); err != nil {
		logger.Error("startup reconciliation failed", "component", "bootstrap", "error", err)
	}
	scheduler := app.NewScheduler(reconciler, cfg.ReconcileSchedule, logger)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("reconciliation scheduler start failed: %w", err)
	}
	defer func() {
		<-scheduler.Stop().Done()
	}()

	handlers := api.NewTransactionHandlers(identity, outgoing, incoming, ledger, limiter, logger)
	if cfg.InternalAPIKey == "" {
		logger.Warn("internal api key missing; internal routes disabled", "component", "bootstrap", "env", "INTERNAL_API_KEY")
	}
	router := api.NewRouter(handlers, api.RouterOptions{
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "component", "http", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
		return nil
	case <-stop:
	case <-ctx.Done():
	}
	logger.Info("shutdown started", "component", "http")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "component", "http", "error", err)
		return err
	}
	logger.Info("shutdown complete", "component", "http")
	return nil
}
