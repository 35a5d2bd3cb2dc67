// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It decides:
// - Which store backend holds identities (memory or sqlite)
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and builds the logger, then:
//
//	Server.New() creates:
//	  UserRepository (memory.UserStore | sqlite.DB)
//	  memory.ChallengeStore → memory.Janitor
//	  PasswordService, TokenService, sms.Sender
//	  → AuthService → AuthHandler → routes
//
// This is the "composition root" pattern: every dependency is wired here
// and nowhere else.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/collar-auth/internal/auth"
	"github.com/sakif/collar-auth/internal/config"
	"github.com/sakif/collar-auth/internal/handler"
	"github.com/sakif/collar-auth/internal/middleware"
	"github.com/sakif/collar-auth/internal/repository"
	"github.com/sakif/collar-auth/internal/repository/memory"
	sqliteRepo "github.com/sakif/collar-auth/internal/repository/sqlite"
	"github.com/sakif/collar-auth/internal/service"
	"github.com/sakif/collar-auth/internal/sms"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the challenge janitor goroutine and, with the sqlite
// backend, a database connection. Close releases both; Start calls it on
// the way out.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	janitor *memory.Janitor
	db      *sqliteRepo.DB // nil with the memory backend
}

// New builds the full dependency graph and starts the challenge janitor.
//
// IMPORT ALIAS:
// repository/sqlite is imported as `sqliteRepo` to keep it apart from the
// modernc.org/sqlite driver package.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}

	// === IDENTITY STORE ===
	var users repository.UserRepository
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		db, err := sqliteRepo.New(sqliteRepo.MemoryDSN)
		if err != nil {
			return nil, fmt.Errorf("opening user database: %w", err)
		}
		s.db = db
		users = db
	default:
		users = memory.NewUserStore()
	}

	// === CHALLENGE STORE ===
	var codes auth.CodeGenerator = auth.RandomCode
	if cfg.SMSFixedCode != "" {
		codes = auth.FixedCode(cfg.SMSFixedCode)
	}
	challenges := memory.NewChallengeStore(memory.ChallengeConfig{
		TTL:          cfg.SMSCodeTTL,
		SendInterval: cfg.SMSSendInterval,
		MaxAttempts:  cfg.SMSMaxAttempts,
	}, codes)

	// === CREDENTIALS ===
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.JWTIssuer)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordService(cfg.BcryptCost)

	// === SMS CHANNEL ===
	var sender sms.Sender = sms.Disabled{}
	if cfg.Sandbox {
		sender = sms.NewLogSender(logger)
		logger.Warn("sandbox mode: SMS codes are logged and /auth/password/set is mounted",
			slog.Bool("fixedCode", cfg.SMSFixedCode != ""),
		)
	}

	authService := service.NewAuthService(users, challenges, passwords, tokens, sender, cfg.Sandbox, logger)
	authHandler := handler.NewAuthHandler(authService, logger)

	s.setupRoutes(authHandler, tokens)

	s.janitor = memory.NewJanitor(challenges, cfg.SweepInterval, logger)
	s.janitor.Start()

	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                 → liveness
// POST   /auth/sms/send           → issue SMS challenge
// POST   /auth/login/sms          → redeem challenge for a token
// POST   /auth/login/password     → phone + password for a token
// POST   /auth/register/password  → create identity with password
// POST   /auth/register/sms       → create identity after SMS proof
// POST   /auth/password/change    → [Bearer] change own password
// POST   /auth/password/set       → sandbox only
// GET    /me                      → [Bearer] who am I
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info and the request id
// 4. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes(h *handler.AuthHandler, tokens *auth.TokenService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", handler.HandleHealth)

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/sms/send", h.HandleSendCode)
		r.Post("/login/sms", h.HandleSMSLogin)
		r.Post("/login/password", h.HandlePasswordLogin)
		r.Post("/register/password", h.HandlePasswordRegister)
		r.Post("/register/sms", h.HandleSMSRegister)

		r.With(auth.RequireAuth(tokens)).Post("/password/change", h.HandleChangePassword)

		if s.config.Sandbox {
			r.Post("/password/set", h.HandleSetPassword)
		}
	})

	s.router.With(auth.RequireAuth(tokens)).Get("/me", h.HandleMe)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops the janitor and closes the user database, if any. Safe to
// call more than once.
func (s *Server) Close() error {
	if s.janitor != nil {
		s.janitor.Stop()
	}
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Stop the janitor and close the database (deferred Close)
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("store", s.config.StoreBackend),
			slog.Bool("sandbox", s.config.Sandbox),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
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
