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

	authhandler "opas-platform/identity/internal/auth/handler"
	"opas-platform/identity/internal/auth/repository"
	"opas-platform/identity/internal/auth/service"
	"opas-platform/identity/internal/config"
	"opas-platform/identity/internal/db"
	healthhandler "opas-platform/identity/internal/health/handler"
	"opas-platform/identity/internal/security"
	"opas-platform/identity/internal/server"
	"opas-platform/identity/internal/telemetry"
	otelsetup "opas-platform/identity/internal/telemetry/otel"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()

	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, "opas-identity", cfg.OTLPInsecure)
	if err != nil {
		logger.Error("telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	providers.SetGlobal()

	pool, err := db.Open(ctx, cfg.DatabaseConn)
	if err != nil {
		logger.Error("identity store", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Key material resolves before the issuer, the issuer before the router:
	// no request is accepted until the published kid is final.
	keySource, err := security.ResolveSigningKey(cfg.JWTPrivateKey, logger)
	if err != nil {
		logger.Error("signing key", slog.Any("error", err))
		os.Exit(1)
	}
	tokens, err := security.NewTokenProvider(keySource, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTokenTTL())
	if err != nil {
		logger.Error("token provider", slog.Any("error", err))
		os.Exit(1)
	}

	metrics, err := telemetry.NewMetrics(providers.MeterProvider)
	if err != nil {
		logger.Error("metrics", slog.Any("error", err))
		os.Exit(1)
	}
	emitter := otelsetup.NewEventEmitter(providers.LoggerProvider)

	gateway := service.NewGateway(repository.NewPostgresRepository(pool), tokens, metrics, emitter)

	router := server.NewRouter(server.Deps{
		Auth:   authhandler.New(gateway, logger),
		Health: healthhandler.NewServer(pool, logger),
		Tokens: tokens,
		Logger: logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("identity gateway listening", slog.String("addr", cfg.HTTPAddr))
		metrics.SetUp(ctx, true)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	metrics.SetUp(ctx, false)

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}

	// Let in-flight async auth events finish before the exporters go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown", slog.Any("error", err))
	}
	logger.Info("stopped")
}
