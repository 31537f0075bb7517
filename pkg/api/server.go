// Package api implements the host HTTP API the console talks to.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tcmartin/flowconsole/pkg/clock"
	"github.com/tcmartin/flowconsole/pkg/config"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/middleware"
	"github.com/tcmartin/flowconsole/pkg/runtime"
	"github.com/tcmartin/flowconsole/pkg/session"
	"github.com/tcmartin/flowconsole/pkg/storage"
)

// Dependencies are the collaborators of the host API
type Dependencies struct {
	Trees   storage.TreeStore
	Locks   storage.LockStore
	Runtime runtime.JobRuntime

	// Tokens validates bearer tokens; nil disables authentication
	Tokens *session.TokenService

	Clock  clock.Clock
	Logger logging.Logger
}

// Server represents the HTTP API server
type Server struct {
	config  *config.Config
	router  *mux.Router
	server  *http.Server
	trees   storage.TreeStore
	locks   storage.LockStore
	runtime runtime.JobRuntime
	tokens  *session.TokenService
	ws      *WebSocketManager
	clock   clock.Clock
	logger  logging.Logger
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}

	s := &Server{
		config:  cfg,
		router:  mux.NewRouter(),
		trees:   deps.Trees,
		locks:   deps.Locks,
		runtime: deps.Runtime,
		tokens:  deps.Tokens,
		clock:   deps.Clock,
		logger:  deps.Logger,
	}
	s.ws = NewWebSocketManager(deps.Runtime, deps.Logger)

	s.setupRoutes()
	return s
}

// Handler returns the router, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server", logging.F("addr", addr))

	var err error
	if s.config.Server.TLS.Enabled {
		err = s.server.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	} else {
		err = s.server.ListenAndServe()
	}

	// If the server was shut down gracefully, this error is expected
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)

	authenticated := api.PathPrefix("").Subrouter()
	if s.tokens != nil {
		authenticated.Use(middleware.NewAuthMiddleware(s.tokens).Authenticate)
	}

	// Executions
	authenticated.HandleFunc("/execute", s.handleExecute).Methods(http.MethodPost, http.MethodOptions)
	authenticated.HandleFunc("/execution/{id}/status", s.handleExecutionStatus).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/execution/{id}/logs", s.handleExecutionLogs).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/execution/{id}/cancel", s.handleCancelExecution).Methods(http.MethodPost, http.MethodOptions)

	// Locks
	authenticated.HandleFunc("/lockStatus", s.handleLockStatus).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/lockAcquire", s.handleLockAcquire).Methods(http.MethodPost, http.MethodOptions)
	authenticated.HandleFunc("/lockRelease", s.handleLockRelease).Methods(http.MethodPost, http.MethodOptions)

	// Trees
	trees := authenticated.PathPrefix("/trees").Subrouter()
	trees.HandleFunc("", s.handleListTrees).Methods(http.MethodGet, http.MethodOptions)
	trees.HandleFunc("", s.handleCreateTree).Methods(http.MethodPost, http.MethodOptions)
	trees.HandleFunc("/{id}", s.handleGetTree).Methods(http.MethodGet, http.MethodOptions)
	trees.HandleFunc("/{id}", s.handleUpdateTree).Methods(http.MethodPut, http.MethodOptions)
	trees.HandleFunc("/{id}/full", s.handleGetFullTree).Methods(http.MethodGet, http.MethodOptions)
	trees.HandleFunc("/{id}/batch", s.handleSaveBatch).Methods(http.MethodPost, http.MethodOptions)
	trees.HandleFunc("/{id}/nodes", s.handleSaveNode).Methods(http.MethodPost, http.MethodOptions)
	trees.HandleFunc("/{id}/nodes/{itemId}", s.handleSaveNode).Methods(http.MethodPut, http.MethodOptions)
	trees.HandleFunc("/{id}/nodes/{itemId}", s.handleDeleteNode).Methods(http.MethodDelete, http.MethodOptions)
	trees.HandleFunc("/{id}/edges", s.handleSaveEdge).Methods(http.MethodPost, http.MethodOptions)
	trees.HandleFunc("/{id}/edges/{itemId}", s.handleSaveEdge).Methods(http.MethodPut, http.MethodOptions)
	trees.HandleFunc("/{id}/edges/{itemId}", s.handleDeleteEdge).Methods(http.MethodDelete, http.MethodOptions)

	// Execution stream
	authenticated.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	s.router.Use(s.logRequests)
	s.router.Use(middleware.CORS)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("Request", logging.F("method", r.Method), logging.F("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   s.clock.Now().Format(time.RFC3339),
	})
}

// handleWebSocket upgrades the connection to the execution stream
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := "anonymous"
	if claims, ok := middleware.GetClaims(r); ok {
		userID = claims.UserID
	}
	s.ws.HandleWebSocket(w, r, userID)
}

// writeJSON writes v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON request body into v
func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
