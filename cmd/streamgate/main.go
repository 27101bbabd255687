package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/streamgate/streamgate/internal/accounting"
	"github.com/streamgate/streamgate/internal/auth"
	"github.com/streamgate/streamgate/internal/broker"
	"github.com/streamgate/streamgate/internal/config"
	"github.com/streamgate/streamgate/internal/conn"
	"github.com/streamgate/streamgate/internal/engine"
	"github.com/streamgate/streamgate/internal/httpapi"
	"github.com/streamgate/streamgate/internal/observability"
	"github.com/streamgate/streamgate/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	sink, err := accounting.NewSink(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("accounting sink init failed: %v", err)
	}
	defer sink.Close()

	var verifier auth.Verifier
	switch strings.ToLower(cfg.AuthMode) {
	case "static":
		verifier, err = auth.NewStaticVerifier(cfg.AuthStaticMap)
	default:
		verifier, err = auth.NewJWTVerifier(auth.JWTConfig{
			Secret:   cfg.AuthJWTSecret,
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
		})
	}
	if err != nil {
		log.Fatalf("verifier init failed: %v", err)
	}

	eng, err := engine.New(engine.Config{
		Mode:            cfg.EngineMode,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		DefaultModel:    cfg.DefaultEngineRef,
	})
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}

	b := broker.New(broker.Options{
		Table:             conn.NewTable(cfg.RateLimitMax, cfg.RateLimitWindow),
		Registry:          session.NewRegistry(cfg.SessionGracePeriod),
		Gatekeeper:        auth.NewGatekeeper(verifier),
		Engine:            eng,
		Metrics:           metrics,
		Sink:              sink,
		Logger:            logger,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxContentLength:  cfg.MaxContentLength,
		DefaultEngineRef:  cfg.DefaultEngineRef,
	})

	api := httpapi.New(cfg, b, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	b.Start(runCtx)

	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	b.Shutdown(shutdownCtx)
	runCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}
