package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"gwi.com/review-autoreply/internal/api"
	"gwi.com/review-autoreply/internal/auth"
	"gwi.com/review-autoreply/internal/config"
	"gwi.com/review-autoreply/internal/core"
	"gwi.com/review-autoreply/internal/gbp"
	"gwi.com/review-autoreply/internal/retry"
	"gwi.com/review-autoreply/internal/scheduler"
	"gwi.com/review-autoreply/internal/store"
)

const bulkRunTimeout = time.Hour

func main() {
	// Load configuration; this also sets up logging
	config.LoadConfig()
	cfg := config.AppConfig

	// Command line flag for a one-off bulk run (e.g. from an external cron)
	runAllFlag := flag.Bool("run-all", false, "Run the automation for every enabled user once and exit")
	flag.Parse()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer dbStore.Close()

	generator, closeGenerator, err := newGenerator(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize reply generator")
	}
	defer closeGenerator()

	var locker core.RunLocker = store.NewMemoryLocker()
	if cfg.SchedulerEnabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
		}
		locker = store.NewRedisLocker(redisClient)
	}

	provider := auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	gbpClient := gbp.NewClient(cfg.GBPRequestsPerSecond)

	automation := core.NewAutomationService(core.Dependencies{
		Users:       dbStore,
		Credentials: auth.NewCredentials(provider.OAuthConfig(), dbStore),
		Reviews:     gbpClient,
		Publisher:   gbpClient,
		Catalog:     gbpClient,
		Generator:   generator,
		Locker:      locker,
	}, core.Options{
		PageSize:         cfg.ReviewPageSize,
		RunTimeout:       cfg.RunTimeout,
		MaxRepliesPerRun: cfg.MaxRepliesPerRun,
		BulkConcurrency:  cfg.BulkConcurrency,
		Retry:            retry.QuotaConfig(core.IsQuotaExceeded),
	})

	// Handle one-off bulk run if flag is set
	if *runAllFlag {
		log.Info().Msg("Starting one-off bulk automation run...")
		ctx, cancel := context.WithTimeout(context.Background(), bulkRunTimeout)
		summary, err := automation.RunForAllEnabledUsers(ctx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Bulk automation run failed")
		}
		log.Info().
			Int("processed", summary.UsersProcessed).
			Int("failed", summary.UsersFailed).
			Int("actions", summary.Actions).
			Msg("Bulk automation run complete. Exiting.")
		return
	}

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled() {
		sched = scheduler.New(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, automation, scheduler.Options{Cron: cfg.AutomationCron, Timeout: bulkRunTimeout})
		if err := sched.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start automation scheduler")
		}
	} else {
		log.Info().Msg("REDIS_ADDR not set, scheduled runs disabled")
	}

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(automation, provider, dbStore, api.HandlerConfig{
		JWTSecret:  cfg.JWTSecret,
		SessionTTL: cfg.SessionTTL,
		CronSecret: cfg.CronSecret,
	})
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RunTimeout + 30*time.Second, // Saving settings runs the automation inline
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Info().Str("addr", serverAddr).Msg("Starting server. Press Ctrl+C to quit.")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("addr", serverAddr).Msg("Could not listen")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sched != nil {
		sched.Shutdown()
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting gracefully")
}

func newGenerator(ctx context.Context, cfg config.Config) (core.ReplyGenerator, func(), error) {
	switch cfg.GeneratorBackend {
	case config.GeneratorGenAI:
		g, err := core.NewGenAIGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return g, func() {}, nil
	default:
		g, err := core.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	}
}
