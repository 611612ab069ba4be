package server

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/flatchores/internal/chore"
	"github.com/dukerupert/flatchores/internal/handler"
	"github.com/dukerupert/flatchores/internal/middleware"
	"github.com/dukerupert/flatchores/internal/store"
)

// Mutations per user per minute.
const (
	writeLimit  = 60
	writeWindow = time.Minute
)

type Server struct {
	taskH        *handler.TaskHandler
	instanceH    *handler.InstanceHandler
	healthH      *handler.HealthHandler
	sessionStore *store.SessionStore
	rateLimiter  *middleware.RateLimiter
	logger       *slog.Logger
}

func New(db *sql.DB, engine *chore.Engine, sessionStore *store.SessionStore, logger *slog.Logger) *Server {
	return &Server{
		taskH:        handler.NewTaskHandler(engine, logger.With("component", "task")),
		instanceH:    handler.NewInstanceHandler(engine, logger.With("component", "instance")),
		healthH:      handler.NewHealthHandler(db),
		sessionStore: sessionStore,
		rateLimiter:  middleware.NewRateLimiter(writeLimit, writeWindow),
		logger:       logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthH.Health)

	// Protected routes
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	limit := middleware.RateLimit(s.rateLimiter, middleware.UserKey)
	outerMux.Handle("/", middleware.RequireAuth(s.sessionStore)(limit(protectedMux)))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Templates
	mux.HandleFunc("POST /api/apartments/{apartment_id}/tasks", s.taskH.Create)
	mux.HandleFunc("PATCH /api/apartments/{apartment_id}/tasks/{id}", s.taskH.Update)
	mux.HandleFunc("DELETE /api/apartments/{apartment_id}/tasks/{id}", s.taskH.Delete)
	mux.HandleFunc("GET /api/apartments/{apartment_id}/tasks/{id}/history", s.taskH.History)

	// Instances
	mux.HandleFunc("POST /api/apartments/{apartment_id}/instances", s.instanceH.Create)
	mux.HandleFunc("GET /api/apartments/{apartment_id}/instances", s.instanceH.List)
	mux.HandleFunc("POST /api/apartments/{apartment_id}/instances/{id}/complete", s.instanceH.Complete)
	mux.HandleFunc("POST /api/apartments/{apartment_id}/instances/{id}/reopen", s.instanceH.Reopen)
	mux.HandleFunc("POST /api/apartments/{apartment_id}/instances/{id}/skip", s.instanceH.Skip)
	mux.HandleFunc("DELETE /api/apartments/{apartment_id}/instances/{id}", s.instanceH.Delete)

	// Points
	mux.HandleFunc("GET /api/apartments/{apartment_id}/points", s.instanceH.Points)
}
