// Package server exposes a small HTTP API over a running dev session:
// task status, stored evaluation runs, and a WebSocket feed of task
// output lines.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/supervisor"
)

// Server is the HTTP server for the crucible dev API.
type Server struct {
	sup    supervisor.Supervisor
	store  storage.Store // may be nil when persistence is not configured
	hub    *hub
	router chi.Router
	http   *http.Server
	log    *zap.Logger
}

// New creates a new Server. store may be nil.
func New(sup supervisor.Supervisor, store storage.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		sup:    sup,
		store:  store,
		hub:    newHub(log),
		router: chi.NewRouter(),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)

		r.Get("/status", s.handleStatus)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})

	// WebSocket (no JSON content-type)
	r.Get("/ws", s.handleWebSocket)

	r.Handle("/*", indexHandler())
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// BroadcastLine forwards one task output line to all WebSocket clients.
// It has the supervisor.LineFunc signature so it can be installed as the
// line hook directly.
func (s *Server) BroadcastLine(task, line string) {
	s.hub.broadcast(task, line)
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.log.Info("dev server listening", zap.String("addr", "http://localhost"+addr))
	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(shutdownCtx)
}
