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

	"github.com/sungwon/psp-relay/internal/api"
	"github.com/sungwon/psp-relay/internal/auth"
	"github.com/sungwon/psp-relay/internal/config"
	"github.com/sungwon/psp-relay/internal/logger"
	"github.com/sungwon/psp-relay/internal/queue"
	"github.com/sungwon/psp-relay/internal/relay"
)

func main() {
	configDir := os.Getenv("PSP_RELAY_CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}

	// Load configuration
	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewFromConfig(logger.LoggingConfig{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().Msg("starting psp relay")

	// Relay core
	notifications := queue.NewMemoryQueue(cfg.Queue, log)
	dispatcher := relay.NewDispatcher(relay.NewRegistry(), notifications, log)
	wsHandler := relay.NewHandler(dispatcher, relay.HandlerConfig{
		ReadBufferSize:  cfg.Relay.ReadBufferSize,
		WriteBufferSize: cfg.Relay.WriteBufferSize,
		WriteTimeout:    cfg.Relay.WriteTimeout,
		ReadLimit:       cfg.Relay.ReadLimit,
	}, log)

	if cfg.Queue.MaxPerRecipient > 0 {
		log.Info().
			Int("max_per_recipient", cfg.Queue.MaxPerRecipient).
			Str("overflow", cfg.Queue.Overflow).
			Msg("notification buffers are bounded")
	}

	// Producer authentication is optional
	var jwtService *auth.JWTService
	if cfg.Auth.SigningKey != "" {
		jwtService = auth.NewJWTService(auth.JWTConfig{
			SigningKey:  cfg.Auth.SigningKey,
			TokenExpiry: cfg.Auth.TokenTTL,
			Issuer:      cfg.Auth.Issuer,
			Audience:    cfg.Auth.Audience,
		})
		log.Info().Str("issuer", cfg.Auth.Issuer).Msg("producer token authentication enabled")
	}
	var apiKeys *auth.APIKeyStore
	if len(cfg.Auth.APIKeys) > 0 {
		apiKeys = auth.NewAPIKeyStore(cfg.Auth.APIKeys)
		log.Info().Int("producers", apiKeys.Len()).Msg("producer api key authentication enabled")
	}
	var rateLimiter *auth.RateLimiter
	if cfg.Auth.RateLimitPerMinute > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to Redis")
		}
		defer redisClient.Close()

		rateLimiter = auth.NewRateLimiter(redisClient, cfg.Auth.RateLimitPerMinute)
		log.Info().Int("per_minute", cfg.Auth.RateLimitPerMinute).Msg("producer rate limiting enabled")
	}
	if !cfg.Auth.Enabled() {
		log.Warn().Msg("producer authentication disabled; set auth.signing_key or auth.api_keys to protect producer routes")
	}

	router := api.NewRouter(api.RouterConfig{
		Relay:           dispatcher,
		WebSocket:       wsHandler,
		Log:             log,
		JWT:             jwtService,
		APIKeys:         apiKeys,
		RateLimiter:     rateLimiter,
		MaxPayloadBytes: cfg.Server.MaxPayloadBytes,
	})

	// Configure HTTP server. The upgrader clears these deadlines on hijacked
	// WebSocket connections.
	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		var err error
		if cfg.TLS.Enabled() {
			log.Info().Str("addr", addr).Msg("relay listening (wss)")
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			log.Info().Str("addr", addr).Msg("relay listening (ws)")
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	if n := dispatcher.Buffered(); n > 0 {
		log.Warn().Int("buffered", n).Msg("discarding buffered notifications on shutdown")
	}
	log.Info().Msg("relay stopped")
}
