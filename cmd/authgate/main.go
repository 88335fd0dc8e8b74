package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/authgate/authgate/internal/app"
	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/identity"
	"github.com/authgate/authgate/internal/platform/cache"
	"github.com/authgate/authgate/internal/platform/db"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The limiter fails open, so a missing redis degrades rather than
		// blocks startup.
		logger.Warn("redis unavailable, rate limiting disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	var provider identity.Provider
	if cfg.IDPProvider == "memory" {
		logger.Warn("using in-memory identity provider, accounts will not persist")
		provider = identity.NewMemoryProvider(cfg.AccessTokenTTL)
	} else {
		provider = identity.NewGoTrueClient(identity.GoTrueConfig{
			BaseURL:    cfg.IDPBaseURL,
			AnonKey:    cfg.IDPAnonKey,
			ServiceKey: cfg.IDPServiceKey,
			Timeout:    cfg.IDPTimeout,
		})
	}

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(logger, provider, authRepo)
	cookies := auth.NewCookieCodec(cfg.IsProduction(), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	limiter := auth.NewLoginLimiter(logger, redisClient, cfg.LoginRateLimit, cfg.LoginRateWindow)
	authHandler := auth.NewHandler(logger, authService, cookies, limiter)

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		AuthHandler: authHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
