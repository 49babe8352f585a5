package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"authbus/internal/auth"
	"authbus/internal/config"
	"authbus/internal/event"
	transporthttp "authbus/internal/http"
	"authbus/internal/listeners"
	"authbus/internal/platform/database"
	"authbus/internal/platform/logging"
	"authbus/internal/platform/migrate"
	"authbus/internal/profile"
	"authbus/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)
	bus := event.Default()

	sessionStore, profileRepo, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize stores", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	identity, err := auth.NewOIDCIdentity(ctx, cfg.OAuthProvider, cfg.OAuthIssuer, cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.RedirectURL(auth.CallbackPath))
	if err != nil {
		logger.Error("failed to initialize identity provider", "error", err)
		os.Exit(1)
	}

	provider := auth.NewProvider(bus, identity, cfg.OAuthProvider, cfg.PublicBaseURL, logger)
	sessions := session.NewManager(bus, sessionStore, logger, session.WithSkewTolerance(cfg.SessionSkew))
	profiles := profile.NewSyncer(bus, profileRepo, cfg.OAuthProvider, logger,
		profile.WithAttempts(cfg.SyncAttempts),
		profile.WithBaseDelay(cfg.SyncBaseDelay),
	)

	registry := listeners.NewRegistry(sessions, profiles, logger)
	registry.Init()
	defer registry.Stop()

	router := transporthttp.NewRouter(cfg, provider, sessions, bus, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		logger.Info("auth API listening", "addr", srv.Addr, "session_store", cfg.SessionStore, "profile_store", cfg.ProfileStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Store, profile.Repository, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var sessionStore session.Store
	switch cfg.SessionStore {
	case "redis":
		rdb, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		cleanups = append(cleanups, func() { _ = rdb.Close() })
		sessionStore = session.NewRedisStore(rdb)
		logger.Info("using redis session store")
	case "none":
		sessionStore = session.NoopStore{}
		logger.Info("session persistence disabled")
	default:
		sessionStore = session.NewMemoryStore()
		logger.Info("using in-memory session store")
	}

	var profileRepo profile.Repository
	if cfg.ProfileStore == "postgres" {
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		cleanups = append(cleanups, func() { _ = db.Close() })

		if err := migrate.Apply(ctx, db, logger); err != nil {
			cleanup()
			return nil, nil, nil, err
		}

		profileRepo = profile.NewPostgresRepository(db)
		logger.Info("connected to postgres profile store")
	} else {
		profileRepo = profile.NewMemoryRepository()
		logger.Info("using in-memory profile store")
	}

	return sessionStore, profileRepo, cleanup, nil
}
