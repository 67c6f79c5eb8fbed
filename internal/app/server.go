package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dkrasnove/kbase/internal/api/handlers"
	"github.com/dkrasnove/kbase/internal/api/middlewares"
	"github.com/dkrasnove/kbase/internal/config"
	"github.com/dkrasnove/kbase/internal/core"
	"github.com/dkrasnove/kbase/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, db core.DbClient, store core.ObjectStore, ingestor *services.Ingestor, chat *services.ChatService, logger *slog.Logger) *Server {
	authHandler := handlers.NewAuthHandler(db, cfg.JWTSecret)
	docHandler := handlers.NewDocumentHandler(db, store, ingestor, logger)
	crawlHandler := handlers.NewCrawlHandler(db, ingestor, logger)
	chatHandler := handlers.NewChatHandler(chat, logger)
	settingsHandler := handlers.NewSettingsHandler(db, cfg, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", handlers.Health)

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(middlewares.JWT(cfg.JWTSecret))

			protected.Post("/documents/upload", docHandler.Upload)
			protected.Get("/documents", docHandler.List)
			protected.Get("/documents/{id}", docHandler.Get)
			protected.Post("/documents/{id}/rescan", docHandler.Rescan)
			protected.Delete("/documents/{id}", docHandler.Delete)

			protected.Post("/crawls", crawlHandler.Create)
			protected.Get("/crawls", crawlHandler.List)
			protected.Get("/crawls/{id}", crawlHandler.Get)

			protected.Post("/chat/query", chatHandler.Query)

			protected.Get("/settings", settingsHandler.Get)
			protected.Put("/settings", settingsHandler.Update)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
