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

	"marketplace/identity/internal/config"
	authdomain "marketplace/identity/internal/domain/auth"
	"marketplace/identity/internal/httpserver"
	"marketplace/identity/internal/infrastructure/idp"
	"marketplace/identity/internal/infrastructure/postgres"
	"marketplace/identity/internal/infrastructure/queue"
	"marketplace/identity/internal/infrastructure/token"
	authusecase "marketplace/identity/internal/usecase/auth"
	userusecase "marketplace/identity/internal/usecase/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Production() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	opts.Level = slog.LevelDebug
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg config.Config, logger *slog.Logger) error {
	rootCtx := context.Background()
	db, err := postgres.New(rootCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(rootCtx); err != nil {
		return err
	}

	users := postgres.NewUserRepository(db.Pool)
	profiles := postgres.NewCustomerProfileRepository(db.Pool)
	refreshTokens := postgres.NewRefreshTokenRepository(db.Pool, users)
	audit := postgres.NewAuditRepository(db.Pool)

	tokenManager, err := token.NewJWTManager(token.Config{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		ResetSecret:   cfg.JWT.ResetSecret,
		Issuer:        cfg.JWT.Issuer,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		ResetTTL:      cfg.JWT.ResetTTL,
	})
	if err != nil {
		return err
	}
	logger.Info("token lifetimes configured",
		"access_ttl", tokenManager.AccessTTL(),
		"refresh_ttl", tokenManager.RefreshTTL(),
	)

	tasks := authusecase.NewBackground(logger, authusecase.DefaultTaskTimeout)

	var mailer authdomain.MailSender
	if cfg.Queue.URL != "" {
		publisher := queue.NewMailPublisher(cfg.Queue.URL, cfg.Queue.MailQueue, logger)
		defer publisher.Close()
		mailer = publisher
	} else {
		logger.Warn("no message broker configured; password reset mail is only logged")
		mailer = queue.NewLogMailer(logger)
	}

	authService := authusecase.NewService(authusecase.Dependencies{
		Users:         users,
		Profiles:      profiles,
		RefreshTokens: refreshTokens,
		Tokens:        tokenManager,
		Audit:         audit,
		Mailer:        mailer,
		Tasks:         tasks,
		Logger:        logger,
	}, authusecase.Options{
		BcryptCost:       cfg.BcryptCost,
		ExposeResetToken: !cfg.Production(),
	})
	userService := userusecase.NewService(users, refreshTokens, audit, tasks, logger)

	// external stays a nil interface when disabled so the authenticator
	// rejects asymmetric tokens.
	var external authusecase.IdentityVerifier
	if cfg.ExternalIDP.Enabled() {
		keys := idp.NewKeySet(cfg.ExternalIDP.JWKSURL, &http.Client{Timeout: cfg.ExternalIDP.Timeout}, cfg.ExternalIDP.JWKSTTL)
		external = authusecase.NewExternalBridge(authusecase.ExternalBridgeConfig{
			Verifier: idp.NewVerifier(keys, idp.Config{
				Provider: cfg.ExternalIDP.Provider,
				Issuer:   cfg.ExternalIDP.Issuer,
				Audience: cfg.ExternalIDP.Audience,
			}),
			Users:      users,
			Audit:      audit,
			Tasks:      tasks,
			Logger:     logger,
			BcryptCost: cfg.BcryptCost,
		})
		logger.Info("external identity provider enabled", "provider", cfg.ExternalIDP.Provider, "jwks_url", cfg.ExternalIDP.JWKSURL)
	}
	authenticator := authusecase.NewAuthenticator(authusecase.NewLocalVerifier(tokenManager, users), external, logger)

	var limiter *httpserver.RateLimiter
	redisClient, err := config.NewRedisClient(rootCtx, cfg.Redis)
	switch {
	case err != nil:
		logger.Warn("redis unavailable; rate limiting disabled", "error", err)
	case redisClient == nil:
		logger.Info("redis not configured; rate limiting disabled")
	default:
		defer redisClient.Close()
		limiter = httpserver.NewRateLimiter(httpserver.NewRedisBucket(redisClient, cfg.RateLimit), cfg.RateLimit, logger)
		if len(cfg.RateLimit.TrustedProxies) == 0 {
			logger.Info("no trusted proxies configured; rate limiting keys on the peer address")
		}
	}

	server := httpserver.NewServer(cfg, httpserver.Dependencies{
		Auth:          authService,
		Users:         userService,
		Authenticator: authenticator,
		RateLimiter:   limiter,
		Logger:        logger,
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case <-shutdownCtx.Done():
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := tasks.Wait(ctx); err != nil {
		logger.Warn("background tasks did not drain", "error", err)
	}
	logger.Info("graceful shutdown completed")
	return nil
}
