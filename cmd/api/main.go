// Package main is the entry point for the API server.
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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/ai-pipeline/internal/auth"
	"github.com/capitalize-ai/ai-pipeline/internal/config"
	"github.com/capitalize-ai/ai-pipeline/internal/handler"
	"github.com/capitalize-ai/ai-pipeline/internal/llm"
	natsclient "github.com/capitalize-ai/ai-pipeline/internal/nats"
	"github.com/capitalize-ai/ai-pipeline/internal/quota"
	"github.com/capitalize-ai/ai-pipeline/internal/realtime"
	"github.com/capitalize-ai/ai-pipeline/internal/service"
	"github.com/capitalize-ai/ai-pipeline/internal/store"
	"github.com/capitalize-ai/ai-pipeline/internal/webhook"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
	"github.com/capitalize-ai/ai-pipeline/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting API server")

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "ai-pipeline", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Store
	st, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	// Quota ledger
	var counter quota.Counter = st
	if cfg.QuotaBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		counter = quota.NewRedisCounter(rdb, st)
	}
	ledger := quota.NewLedger(counter, cfg.QuotaBackend, log)

	// Lifecycle event stream is optional.
	var (
		publisher  service.EventPublisher
		events     handler.EventReader
		natsHealth handler.ConnChecker
	)
	if cfg.NATSURL != "" {
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Close()

		streams := natsclient.NewStreamManager(nc)
		if err := streams.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}
		publisher, events, natsHealth = streams, streams, nc
	}

	// LLM client. Requests fail as unavailable without one.
	var generator llm.Client
	provider := llm.Provider(cfg.DefaultLLM)
	apiKey := cfg.AnthropicAPIKey
	if provider == llm.ProviderOpenAI {
		apiKey = cfg.OpenAIAPIKey
	}
	if apiKey != "" {
		generator, err = llm.NewClient(provider, apiKey)
		if err != nil {
			log.Warn("failed to create LLM client, generation disabled", zap.String("provider", cfg.DefaultLLM), zap.Error(err))
			generator = nil
		}
	} else {
		log.Warn("no LLM API key configured, generation disabled", zap.String("provider", cfg.DefaultLLM))
	}

	// Services
	requests := service.NewRequestService(st, ledger, generator, publisher, service.Options{
		Model:             cfg.DefaultModel,
		GenerationTimeout: cfg.GenerationTimeout,
		MaxInputChars:     cfg.MaxInputChars,
	}, log)
	adapter := webhook.NewAdapter(st, requests, webhook.Options{
		RequireSignature: cfg.WebhookRequireSignature,
	}, log)

	verifier := auth.NewJWTVerifier([]byte(cfg.JWTSecret))

	// Real-time channel
	hub := realtime.NewHub(realtime.NewMemoryRegistry(), log)
	streamer := realtime.NewStreamer(requests, cfg.StreamChunkDelay, log)
	gateway := realtime.NewGateway(hub, verifier, streamer, realtime.Options{
		AllowedOrigins: cfg.WSAllowedOrigins,
	}, log)

	router := handler.NewRouter(handler.RouterConfig{
		Health:                   handler.NewHealthHandler(st, natsHealth),
		Requests:                 handler.NewRequestsHandler(requests, events, cfg.MaxInputChars, log),
		Quota:                    handler.NewQuotaHandler(st, ledger, log),
		Webhooks:                 handler.NewWebhookHandler(adapter, log),
		Realtime:                 gateway,
		Verifier:                 verifier,
		Logger:                   log,
		AllowedOrigins:           cfg.WSAllowedOrigins,
		RateLimitRequests:        cfg.RateLimitRequests,
		RateLimitWindow:          cfg.RateLimitWindow,
		WebhookRateLimitRequests: cfg.WebhookRateLimitRequests,
		WebhookRateLimitWindow:   cfg.WebhookRateLimitWindow,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		gateway.Shutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
