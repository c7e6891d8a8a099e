/**
 * @description
 * This is the main entry point for the membership bot.
 * It wires together the configuration, database pool, Telegram client,
 * enforcement loop, reminder scheduler, onboarding dialogue, and the ops
 * HTTP server, then runs until a termination signal arrives.
 */
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/clubgate/membership-bot/internal/api"
	"github.com/clubgate/membership-bot/internal/app"
	"github.com/clubgate/membership-bot/internal/bot"
	"github.com/clubgate/membership-bot/internal/config"
	"github.com/clubgate/membership-bot/internal/store"
	"github.com/clubgate/membership-bot/pkg/telegram"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	// Load application configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Establish database connection with connection pool configuration
	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	dbConfig.MaxConns = 10
	dbConfig.MinConns = 2
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Connect to the Telegram Bot API
	tg, err := telegram.NewClient(cfg.BotToken, logger)
	if err != nil {
		logger.Error("failed to connect to Telegram", "error", err)
		os.Exit(1)
	}
	logger.Info("bot started", "username", tg.Username())

	// Initialize dependencies
	repository := store.NewRepository(dbpool)
	verifier := app.NewMembershipVerifier(tg, logger)
	granter := app.NewAccessGranter(repository, tg, logger)
	enforcer := app.NewEnforcer(repository, tg, verifier, logger,
		cfg.EnforcementInterval, cfg.SettleDelay, cfg.NotifyDelay)
	jobs := app.NewJobs(repository, tg, logger, cfg.ReminderDays)
	scheduler := app.NewScheduler(jobs, logger, cfg.ReminderJobSchedule)
	dialogue := bot.NewDialogue(repository, granter, tg, logger, cfg.SessionTimeout)
	pump := bot.NewBot(tg, dialogue, logger)

	// Start the enforcement loop and the reminder scheduler in the background
	enforcer.Start(ctx)
	logger.Info("enforcement loop started", "interval", cfg.EnforcementInterval)
	scheduler.Start()
	logger.Info("scheduler started")

	// Consume Telegram updates
	go pump.Run(ctx)

	// Serve the ops endpoints
	handler := api.NewHandler(enforcer)
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: api.NewRouter(handler),
	}
	go func() {
		logger.Info("ops server listening", "port", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", "error", err)
		}
	}()

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", "error", err)
	}

	stopCtx := scheduler.Stop()
	<-stopCtx.Done() // Wait for scheduler to fully stop
	logger.Info("stopped gracefully")
}
