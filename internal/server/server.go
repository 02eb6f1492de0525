// Package server wires handlers, middleware, services and the storage
// backend into one HTTP server.
//
// This is the composition root: every dependency edge in the app is drawn
// here (or in the helpers below), nowhere else. main.go only loads config
// and calls New/Start.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sakif/wikistore/internal/auth"
	"github.com/sakif/wikistore/internal/config"
	"github.com/sakif/wikistore/internal/handler"
	"github.com/sakif/wikistore/internal/metrics"
	"github.com/sakif/wikistore/internal/middleware"
	sqliteRepo "github.com/sakif/wikistore/internal/repository/sqlite"
	"github.com/sakif/wikistore/internal/service"
	"github.com/sakif/wikistore/internal/storage"
	"github.com/sakif/wikistore/internal/storage/cloudflarekv"
	"github.com/sakif/wikistore/internal/storage/githubstore"
	"github.com/sakif/wikistore/internal/storage/migrate"
	"github.com/sakif/wikistore/internal/storage/sqlitekv"
)

// Server owns the router and every resource that needs closing on shutdown.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	store   storage.Adapter
	closers []func() error
}

// New assembles the whole dependency graph:
//
//	config → storage backend → services → handlers → routes
//
// Construction order matters only for the closers slice: resources are
// closed in reverse order of creation during shutdown.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	store, err := s.buildStorage(cfg, collector)
	if err != nil {
		s.closeAll()
		return nil, err
	}
	s.store = store

	// User accounts always live in a local SQLite file, regardless of the
	// content backend.
	if err := os.MkdirAll(filepath.Dir(cfg.UserDBPath), 0755); err != nil {
		s.closeAll()
		return nil, fmt.Errorf("creating user db directory: %w", err)
	}
	users, err := sqliteRepo.New(cfg.UserDBPath)
	if err != nil {
		s.closeAll()
		return nil, fmt.Errorf("opening user database: %w", err)
	}
	s.closers = append(s.closers, users.Close)

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		s.closeAll()
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	github := auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)

	authService := service.NewAuthService(users, tokens, logger)
	contentService := service.NewContentService(store, cfg.ContentTypes, logger)
	verificationService := service.NewVerificationService(
		store,
		&service.LogSender{Logger: logger},
		time.Duration(cfg.VerificationTTLMinutes)*time.Minute,
		logger,
	)

	authHandler := handler.NewAuthHandler(github, authService, logger)
	contentHandler := handler.NewContentHandler(contentService, logger)
	verificationHandler := handler.NewVerificationHandler(verificationService, logger)
	healthHandler := handler.NewHealthHandler(store, logger)

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), logger)
	s.closers = append(s.closers, func() error { limiter.Close(); return nil })

	s.setupRoutes(authHandler, contentHandler, verificationHandler, healthHandler,
		tokens, limiter, registry)

	return s, nil
}

// buildStorage constructs the configured backend, wrapped with metrics.
// "migrate" composes two plain backends; each side keeps its own metrics
// label so a dashboard can watch traffic drain from source to target.
func (s *Server) buildStorage(cfg config.Config, collector *metrics.Collector) (storage.Adapter, error) {
	if cfg.StorageBackend != config.BackendMigrate {
		return s.buildPlainBackend(cfg, cfg.StorageBackend, collector)
	}

	source, err := s.buildPlainBackend(cfg, cfg.MigrationSource, collector)
	if err != nil {
		return nil, fmt.Errorf("building migration source: %w", err)
	}
	target, err := s.buildPlainBackend(cfg, cfg.MigrationTarget, collector)
	if err != nil {
		return nil, fmt.Errorf("building migration target: %w", err)
	}
	mode, err := migrate.ParseMode(cfg.MigrationMode)
	if err != nil {
		return nil, err
	}
	s.logger.Info("storage migration active",
		slog.String("source", cfg.MigrationSource),
		slog.String("target", cfg.MigrationTarget),
		slog.String("mode", string(mode)),
	)
	return migrate.New(source, target, mode, s.logger), nil
}

func (s *Server) buildPlainBackend(cfg config.Config, backend string, collector *metrics.Collector) (storage.Adapter, error) {
	switch backend {
	case config.BackendGitHub:
		store := githubstore.New(context.Background(), githubstore.Config{
			Token: cfg.GitHubToken,
			Owner: cfg.GitHubOwner,
			Repo:  cfg.GitHubRepo,
		}, s.logger)
		s.closers = append(s.closers, func() error { store.Close(); return nil })
		return storage.Instrument(store, "github", collector), nil

	case config.BackendCloudflare:
		kv := cloudflarekv.NewClient(cfg.CloudflareAccountID, cfg.CloudflareNamespaceID, cfg.CloudflareToken)
		store := cloudflarekv.New(kv, s.logger)
		return storage.Instrument(store, "cloudflare-kv", collector), nil

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
		store, err := sqlitekv.New(cfg.SQLitePath, s.logger)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite storage: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		return storage.Instrument(store, "sqlite", collector), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// setupRoutes configures middleware and routes.
//
// MIDDLEWARE ORDER:
//  1. RequestID, RealIP — request identity for logs and rate limit keys
//  2. Recoverer — panics become 500s, not crashes
//  3. Logger — one structured line per request
//  4. OptionalAuth — identity into context (rate limiter keys on it)
//  5. rate limiter
//
// Route-level RequireAuth then guards the endpoints that write or read
// private data.
func (s *Server) setupRoutes(
	authHandler *handler.AuthHandler,
	contentHandler *handler.ContentHandler,
	verificationHandler *handler.VerificationHandler,
	healthHandler *handler.HealthHandler,
	tokens *auth.TokenService,
	limiter *middleware.RateLimiter,
	registry *prometheus.Registry,
) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(auth.OptionalAuth(tokens))
	s.router.Use(limiter.Limit)

	// Operational endpoints — outside /api, no auth.
	s.router.Get("/healthz", healthHandler.HandleHealthz)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler(registry))

	// OAuth flow.
	s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
	s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	s.router.Post("/auth/logout", authHandler.HandleLogout)

	s.router.Route("/api", func(r chi.Router) {
		// Public reads.
		r.Get("/content/{type}/public", contentHandler.HandlePublic)
		r.Get("/entities/{entityID}/submissions", contentHandler.HandleSubmissions)

		// Everything else needs a session.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))

			r.Get("/me", authHandler.HandleMe)

			r.Get("/content/{type}", contentHandler.HandleList)
			r.Post("/content/{type}", contentHandler.HandleSave)
			r.Delete("/content/{type}/{id}", contentHandler.HandleDelete)

			r.Post("/entities/{entityID}/submissions", contentHandler.HandleSaveSubmission)

			r.Post("/verification/send", verificationHandler.HandleSend)
			r.Post("/verification/confirm", verificationHandler.HandleConfirm)
		})
	})
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully: stop accepting connections, drain in-flight requests (30s),
// close resources in reverse creation order.
func (s *Server) Start() error {
	defer s.closeAll()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("backend", s.config.StorageBackend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// closeAll closes owned resources in reverse creation order.
func (s *Server) closeAll() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("error closing resource", slog.String("error", err.Error()))
		}
	}
	s.closers = nil
}
