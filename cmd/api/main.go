package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mwhitfield/bastion/internal/auth"
	"github.com/mwhitfield/bastion/internal/background"
	"github.com/mwhitfield/bastion/internal/cache"
	"github.com/mwhitfield/bastion/internal/config"
	"github.com/mwhitfield/bastion/internal/database"
	"github.com/mwhitfield/bastion/internal/handlers"
	"github.com/mwhitfield/bastion/internal/models"
	"github.com/mwhitfield/bastion/internal/repositories"
	"github.com/mwhitfield/bastion/internal/routes"
	"github.com/mwhitfield/bastion/internal/services"
	pkgauth "github.com/mwhitfield/bastion/pkg/auth"
	pkghttp "github.com/mwhitfield/bastion/pkg/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	userRepo := repositories.NewUserRepository(db)
	blockedIPRepo := repositories.NewBlockedIPRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)

	counterStore := cache.NewCounterStore(redisClient)
	tokenManager := auth.NewTokenManager(&cfg.Auth)

	ipGuard := services.NewIPGuardService(blockedIPRepo, counterStore, &cfg.Security, logger)
	attemptService := services.NewLoginAttemptService(attemptRepo, logger)
	captchaService := services.NewCaptchaService(&cfg.Captcha, logger)
	authService := services.NewAuthService(userRepo, ipGuard, captchaService, attemptService, tokenManager, &cfg.Security, logger)
	adminService := services.NewAdminService(ipGuard, blockedIPRepo, attemptService, logger)

	if err := ensureAdminUser(context.Background(), userRepo, logger); err != nil {
		return fmt.Errorf("failed to ensure admin user: %w", err)
	}

	cleanup := background.NewCleanupManager(blockedIPRepo, attemptRepo, &cfg.Security, logger)
	cleanup.Start()
	defer cleanup.Stop()

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipGuard, ipConfig, logger)
	adminHandler := handlers.NewAdminHandler(adminService, logger)

	router := routes.New(routes.Dependencies{
		AuthHandler:   authHandler,
		AdminHandler:  adminHandler,
		TokenManager:  tokenManager,
		HealthHandler: healthHandler(db, redisClient),
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port, "env", cfg.Server.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// healthHandler reports readiness of both stores.
func healthHandler(db *database.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "database": "ok", "redis": "ok"}
		code := http.StatusOK

		if err := db.HealthCheck(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = "unavailable"
			code = http.StatusServiceUnavailable
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			status["status"] = "degraded"
			status["redis"] = "unavailable"
			code = http.StatusServiceUnavailable
		}

		pkghttp.WriteJSON(w, code, status)
	}
}

// ensureAdminUser bootstraps the first administrator from the environment.
// Nothing happens when the variables are unset or the account exists.
func ensureAdminUser(ctx context.Context, users *repositories.UserRepository, logger *slog.Logger) error {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}

	if _, err := users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD does not meet requirements: %w", err)
	}

	hash, salt, err := pkgauth.HashPassword(password)
	if err != nil {
		return err
	}

	user, err := users.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
		PasswordSalt: salt,
		Name:         "Administrator",
		Role:         "admin",
		IsActive:     true,
	})
	if err != nil {
		return err
	}

	logger.Info("bootstrapped admin user", "user_id", user.ID)
	return nil
}
