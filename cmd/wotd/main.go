// Word of the Day bot server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/ashureev/wotd-bot/internal/api"
	"github.com/ashureev/wotd-bot/internal/config"
	"github.com/ashureev/wotd-bot/internal/feed"
	"github.com/ashureev/wotd-bot/internal/middleware"
	"github.com/ashureev/wotd-bot/internal/rotation"
	"github.com/ashureev/wotd-bot/internal/scheduler"
	"github.com/ashureev/wotd-bot/internal/store"
	"github.com/ashureev/wotd-bot/internal/telegram"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"telegram", cfg.TelegramEnabled(),
		"default_schedule", cfg.SendTime.String()+" UTC"+cfg.UTCOffset.String())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	hub := feed.NewHub(logger, feed.WithAllowedOrigins(cfg.CORSOrigins))
	announcers := rotation.MultiAnnouncer{hub}

	var tgAPI *tgbotapi.BotAPI
	if cfg.TelegramEnabled() {
		// The client timeout covers the 30s long poll and bounds hung sends.
		client := &http.Client{Timeout: 45 * time.Second}
		tgAPI, err = tgbotapi.NewBotAPIWithClient(cfg.TelegramToken, tgbotapi.APIEndpoint, client)
		if err != nil {
			slog.Error("Failed to connect to Telegram", "error", err)
			os.Exit(1)
		}
		slog.Info("Telegram bot authorized", "username", tgAPI.Self.UserName)
		announcers = append(announcers, telegram.NewAnnouncer(tgAPI))
	} else {
		slog.Info("Telegram disabled (TELEGRAM_TOKEN not set)")
	}

	engine := rotation.NewEngine(repo,
		rotation.WithAnnouncer(announcers),
		rotation.WithLogger(logger),
		rotation.WithMaxWordLength(cfg.MaxWordLength),
		rotation.WithDefaults(rotation.Defaults{
			SendTime:      cfg.SendTime,
			UTCOffset:     cfg.UTCOffset,
			RetentionDays: cfg.DefaultRetentionDays,
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(engine,
		scheduler.WithTimeout(cfg.TransitionTimeout),
		scheduler.WithLogger(logger))
	if err := sched.Start(ctx); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	botDone := make(chan struct{})
	if tgAPI != nil {
		bot := telegram.NewBot(tgAPI, engine,
			telegram.WithPendingInputTTL(cfg.PendingInputTTL),
			telegram.WithLogger(logger))
		if err := bot.RegisterCommands(); err != nil {
			slog.Warn("Failed to register bot commands", "error", err)
		}
		go func() {
			defer close(botDone)
			bot.Run(ctx)
		}()
	} else {
		close(botDone)
	}

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORSOrigins))
	}

	api.NewHealthHandler(repo).RegisterHealth(r)
	api.NewHandler(engine, hub).RegisterRoutes(r, middleware.AdminToken(cfg.AdminToken))
	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN not set, operator API is unauthenticated")
	}

	// No WriteTimeout: the feed websocket is long lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		slog.Error("Scheduler did not drain in time", "error", err)
	}
	select {
	case <-botDone:
	case <-shutdownCtx.Done():
		slog.Error("Bot did not stop in time")
	}
	hub.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
