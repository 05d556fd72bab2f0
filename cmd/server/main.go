package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/presencekit/presenced/internal/config"
	"github.com/presencekit/presenced/internal/database"
	"github.com/presencekit/presenced/internal/events"
	"github.com/presencekit/presenced/internal/repositories"
	"github.com/presencekit/presenced/internal/server"
	"github.com/presencekit/presenced/internal/services"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create redis client")
	}
	defer redisClient.Close()

	store := repositories.NewRedisPresenceStore(redisClient, cfg.StoreTimeout)

	// Transition events go to NATS when configured, otherwise stay on the
	// in-process bus.
	var bus events.Bus = events.NewInProcessBus()
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = database.NewNATSConn(cfg.NATSURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer nc.Drain()
		bus = events.NewNATSBus(nc)
	}

	clock := services.SystemClock{}
	keys := services.NewKeyBuilder(nil, cfg.DefaultGuard)

	var notifier services.Notifier = services.NewLocalNotifier(bus)
	if cfg.Driver == config.DriverWebhook {
		notifier = services.NewWebhookNotifier(notifier, services.WebhookOptions{
			URL:             cfg.Webhook.URL,
			Secret:          cfg.Webhook.Secret,
			Timeout:         cfg.Webhook.Timeout,
			Retries:         cfg.Webhook.Retries,
			SignatureHeader: cfg.Webhook.SignatureHeader,
			Algo:            cfg.Webhook.Algo,
			SendOn: services.SendOn{
				Online:    cfg.Webhook.SendOnOnline,
				Offline:   cfg.Webhook.SendOnOffline,
				Heartbeat: cfg.Webhook.SendOnHeartbeat,
				Away:      cfg.Webhook.SendOnAway,
			},
			Headers: cfg.Webhook.Headers,
		}, clock, logger)
	}

	svc := services.NewPresenceService(store, keys, notifier, clock, cfg.TTL, cfg.AwayAfter, logger)

	if nc != nil {
		if _, err := server.StartAuthListeners(nc, svc, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to start auth listeners")
		}
	}

	handlers := server.NewHandlers(svc, cfg.HeartbeatThrottle, clock, logger)
	router := server.NewRouter(handlers, cfg.JWTSecret)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info().Msg("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}()

	logger.Info().Str("port", cfg.ServerPort).Str("driver", cfg.Driver).Msg("starting server")
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}

	logger.Info().Msg("server stopped gracefully")
}
