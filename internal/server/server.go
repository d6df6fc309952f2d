package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/michaelbrown/scriptforge/internal/config"
	"github.com/michaelbrown/scriptforge/internal/engine"
	"github.com/michaelbrown/scriptforge/internal/events"
	"github.com/michaelbrown/scriptforge/internal/sandbox"
	"github.com/michaelbrown/scriptforge/internal/storage"
)

// Settings are the runtime-adjustable execution knobs, changed through the
// settings endpoints without a restart.
type Settings struct {
	mu             sync.RWMutex
	Policy         sandbox.Policy
	TimeoutSeconds int
	SkipChecks     bool
}

func (s *Settings) Get() (sandbox.Policy, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Policy, s.TimeoutSeconds, s.SkipChecks
}

// Set applies the non-zero fields; skipChecks is a tristate so false can be
// set explicitly.
func (s *Settings) Set(policy sandbox.Policy, timeoutSeconds int, skipChecks *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if policy != "" {
		s.Policy = policy
	}
	if timeoutSeconds > 0 {
		s.TimeoutSeconds = timeoutSeconds
	}
	if skipChecks != nil {
		s.SkipChecks = *skipChecks
	}
}

// Server is the HTTP server for the web API.
type Server struct {
	cfg      *config.Config
	store    storage.Store
	engine   *engine.Engine
	bus      *events.Bus
	sessions *SessionManager
	settings *Settings
	router   chi.Router
	http     *http.Server
}

// New creates a new Server.
func New(cfg *config.Config, store storage.Store, eng *engine.Engine, bus *events.Bus) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		engine:   eng,
		bus:      bus,
		sessions: NewSessionManager(),
		settings: &Settings{
			Policy:         sandbox.Policy(cfg.Engine.Policy),
			TimeoutSeconds: cfg.Engine.TimeoutSeconds,
		},
		router: chi.NewRouter(),
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

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)

		// Generation & execution
		r.Post("/generate", s.handleGenerate)
		r.Post("/execute", s.handleExecute)
		r.Post("/execute/input", s.handleExecuteInput)
		r.Post("/execute/kill", s.handleExecuteKill)

		// Standalone checks
		r.Post("/check/lint", s.handleCheckLint)
		r.Post("/check/security", s.handleCheckSecurity)

		// Script history & run records
		r.Get("/scripts", s.handleListScripts)
		r.Get("/scripts/{name}", s.handleGetScript)
		r.Get("/runs", s.handleListRuns)
		r.Get("/stats", s.handleStats)

		// Runtime settings
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)

		// Sessions
		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Get("/sessions/{id}/messages", s.handleGetMessages)

		// Providers & models
		r.Get("/providers", s.handleListProviders)
		r.Get("/models/{provider}", s.handleListModels)

		// Live event stream (no JSON content-type)
		r.Get("/events", s.handleEvents)
	})

	// Built-in console page
	r.Handle("/*", consoleHandler())
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Printf("scriptforge server starting on http://localhost%s", addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")
	s.sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
