// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects the storefront backend
// client, the per-visitor sessions, the handlers and the middleware:
//
//	config.Config
//	  → sqlite.DB            (durable per-visitor storage)
//	  → backend.Client       (REST calls to the storefront backend)
//	  → inventory.Listener   (stock feed WebSockets)
//	  → session.Manager      (one Session per browser cookie)
//	  → handlers             (JSON + WebSocket endpoints)
//
// This is the "composition root": every dependency is built here and
// nowhere else.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/storefront/internal/backend"
	"github.com/sakif/storefront/internal/config"
	"github.com/sakif/storefront/internal/handler"
	"github.com/sakif/storefront/internal/inventory"
	"github.com/sakif/storefront/internal/middleware"
	"github.com/sakif/storefront/internal/session"
	"github.com/sakif/storefront/internal/storage"
	"github.com/sakif/storefront/internal/storage/sqlite"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the session manager's
// sweeper goroutine. Both are released by Close, which Start calls during
// graceful shutdown.
type Server struct {
	router   *chi.Mux
	config   config.Config
	logger   *slog.Logger
	db       *sqlite.DB
	client   *backend.Client
	listener *inventory.Listener
	sessions *session.Manager
}

// New creates a Server from cfg. The session sweeper is not running until
// Start (or Run) is called.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// === CREATE DATABASE ===
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// === BACKEND COLLABORATORS ===
	client, err := backend.New(cfg.BackendURL, logger, backend.WithTimeout(cfg.BackendTimeout))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating backend client: %w", err)
	}
	listener, err := inventory.NewListener(cfg.BackendURL, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating inventory listener: %w", err)
	}

	// === SESSIONS ===
	// Each browser id gets its own storage scope in the database.
	scopes := func(visitorID string) storage.Storage { return db.Scope(visitorID) }
	sessions := session.NewManager(scopes, client, session.ManagerConfig{
		IdleTimeout:   cfg.SessionIdleTimeout,
		SweepInterval: cfg.SweepInterval,
	}, logger)

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		db:       db,
		client:   client,
		listener: listener,
		sessions: sessions,
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /api/auth/login              → log in (identity + cart merge)
// POST   /api/auth/register           → create account
// POST   /api/auth/logout             → forget identity
// GET    /api/me                      → identity + cart count
// GET    /api/cart                    → cart (created on first use)
// GET    /api/cart/count              → recomputed item count
// POST   /api/cart/items              → add item
// PUT    /api/cart/items/{productId}  → set quantity
// DELETE /api/cart/items/{productId}  → remove item
// POST   /api/checkout                → payment handoff
// *      /api/wishlist...             → wishlist        [login required]
// GET    /api/orders, /api/profile    → account         [login required]
// GET    /api/categories, /api/products...  → catalog
// POST   /api/admin/...               → catalog editing [ADMIN only]
// GET    /ws/inventory/{productId}    → live stock relay
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID, RealIP, Recoverer (chi)
// 2. Logger, which reads the request id
// 3. CORS, so preflight requests never create sessions
// 4. Sessions, which resolves the storefront_sid cookie
func (s *Server) setupRoutes() {
	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           600,
	}))

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	authHandler := handler.NewAuthHandler(s.logger)
	cartHandler := handler.NewCartHandler(s.logger)
	accountHandler := handler.NewAccountHandler()
	catalogHandler := handler.NewCatalogHandler(s.client)
	adminHandler := handler.NewAdminHandler(s.logger)
	inventoryHandler := handler.NewInventoryHandler(s.client, s.listener, s.config.AllowedOrigins, s.logger)

	requireAuth := session.RequireAuth(handler.WriteError)
	requireAdmin := session.RequireAdmin(handler.WriteError)

	s.router.Group(func(r chi.Router) {
		r.Use(s.sessions.Middleware(s.config.CookieSecure))

		r.Route("/api", func(r chi.Router) {
			r.Post("/auth/login", authHandler.HandleLogin)
			r.Post("/auth/register", authHandler.HandleRegister)
			r.Post("/auth/logout", authHandler.HandleLogout)
			r.Get("/me", authHandler.HandleMe)

			r.Get("/cart", cartHandler.HandleGet)
			r.Get("/cart/count", cartHandler.HandleCount)
			r.Post("/cart/items", cartHandler.HandleAdd)
			r.Put("/cart/items/{productId}", cartHandler.HandleUpdate)
			r.Delete("/cart/items/{productId}", cartHandler.HandleRemove)
			r.Post("/checkout", cartHandler.HandleCheckout)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/wishlist", accountHandler.HandleWishlist)
				r.Get("/wishlist/{productId}", accountHandler.HandleWishlistStatus)
				r.Post("/wishlist/{productId}", accountHandler.HandleWishlistAdd)
				r.Delete("/wishlist/{productId}", accountHandler.HandleWishlistRemove)
				r.Get("/orders", accountHandler.HandleOrders)
				r.Get("/orders/{id}", accountHandler.HandleOrder)
				r.Get("/profile", accountHandler.HandleProfile)
			})

			r.Get("/categories", catalogHandler.HandleCategories)
			r.Get("/products", catalogHandler.HandleProducts)
			r.Get("/products/search", catalogHandler.HandleSearch)
			r.Get("/products/{id}", catalogHandler.HandleProduct)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/categories", adminHandler.HandleCreateCategory)
				r.Post("/products", adminHandler.HandleCreateProduct)
				r.Put("/products/{id}", adminHandler.HandleUpdateProduct)
			})
		})

		r.Get("/ws/inventory/{productId}", inventoryHandler.HandleRelay)
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Close stops the session manager and closes the database.
func (s *Server) Close() error {
	s.sessions.Stop()
	return s.db.Close()
}

// Start starts the HTTP server and blocks until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is done, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Stop the session sweeper and close the database
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	s.sessions.Start()

	// WriteTimeout does not reach inventory relays: the WebSocket
	// upgrade takes over the connection's deadlines.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("backend", s.config.BackendURL),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
