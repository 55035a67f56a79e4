package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/carequeue/backend/internal/ai"
	"github.com/carequeue/backend/internal/config"
	"github.com/carequeue/backend/internal/db"
	"github.com/carequeue/backend/internal/events"
	httpapi "github.com/carequeue/backend/internal/http"
	"github.com/carequeue/backend/internal/notify"
	"github.com/carequeue/backend/internal/service"
	"github.com/carequeue/backend/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level).With().Str("service", "carequeue-backend").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
	}

	svc := &service.QueueService{
		Store:         store,
		Audit:         store,
		Tickets:       service.NewTicketGenerator(cfg.TicketMaxRetries),
		Logger:        logger.With().Str("component", "queue").Logger(),
		RerankRetries: cfg.RerankMaxRetries,
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, queue events will not be published")
		} else {
			svc.Events = events.NewRedisPublisher(rdb)
		}
		cancel()
	}

	var dispatcher notify.Dispatcher = notify.LogDispatcher{Logger: logger}
	if cfg.TwilioEnabled() {
		dispatcher = &notify.TwilioDispatcher{
			AccountSID:         cfg.TwilioAccountSID,
			AuthToken:          cfg.TwilioAuthToken,
			From:               cfg.TwilioFromNumber,
			BaseURL:            cfg.TwilioBaseURL,
			DefaultCountryCode: cfg.DefaultCountryCode,
			RetryAttempts:      cfg.SMSRetryAttempts,
		}
	} else {
		logger.Info().Msg("twilio not configured, notifications are logged only")
	}
	fanout := &notify.Fanout{
		Dispatcher: dispatcher,
		Logger:     logger.With().Str("component", "notify").Logger(),
		Timeout:    cfg.NotifyTimeout,
	}
	deps := httpapi.Deps{Store: store, Entries: store}
	if ledger, err := notify.OpenLedger(cfg.NotifyLedgerPath); err != nil {
		logger.Warn().Err(err).Str("path", cfg.NotifyLedgerPath).Msg("delivery ledger unavailable")
	} else {
		defer ledger.Close()
		fanout.Ledger = ledger
		deps.Deliveries = ledger
	}
	svc.Notifier = fanout

	if cfg.AssistantEnabled() {
		svc.Advisor = ai.AssistantAdvisor{Assistant: &ai.OpenAICompatAssistant{
			BaseURL:  cfg.AssistantBaseURL,
			Model:    cfg.AssistantModel,
			APIKey:   cfg.AssistantAPIKey,
			CacheTTL: cfg.AssistantTTL,
		}}
	} else {
		svc.Advisor = ai.MockAdvisor{ModelVersion: "mock-v1"}
		logger.Info().Msg("using mock health tip advisor")
	}

	rerank := &worker.RerankWorker{
		Service:  svc,
		Interval: cfg.RerankInterval,
		Logger:   logger.With().Str("component", "worker").Logger(),
	}
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		rerank.Start(ctx)
	}()

	router := httpapi.Router(cfg, svc, deps, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	<-workerDone
	fanout.Wait()
	logger.Info().Msg("server stopped")
}
