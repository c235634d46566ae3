// Package control exposes the scheduler over a local HTTP/JSON API and
// provides the client used by the CLI commands.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/autokey/internal/auth"
	"github.com/goodtune/autokey/internal/scheduler"
	"github.com/goodtune/autokey/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Scheduler is the subset of scheduler.Scheduler the API drives.
type Scheduler interface {
	Start(ctx context.Context, opts scheduler.Options) error
	Stop()
	Reset()
	Snapshot() scheduler.Snapshot
}

// Verifier is the subset of auth.Gate the API drives.
type Verifier interface {
	Check(ctx context.Context) auth.Verdict
	Refresh(ctx context.Context)
	Reset()
}

// Config holds the control server configuration.
type Config struct {
	ListenAddr string
}

// Server is the control HTTP server.
type Server struct {
	config   Config
	sched    Scheduler
	gate     Verifier
	store    storage.SettingsStore
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates a control server.
func NewServer(cfg Config, sched Scheduler, gate Verifier, store storage.SettingsStore, logger zerolog.Logger) *Server {
	s := &Server{
		config: cfg,
		sched:  sched,
		gate:   gate,
		store:  store,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "control").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/start", s.handleStart).Methods("POST")
	s.router.HandleFunc("/stop", s.handleStop).Methods("POST")
	s.router.HandleFunc("/reset", s.handleReset).Methods("POST")
	s.router.HandleFunc("/verify", s.handleVerify).Methods("POST")
	s.router.HandleFunc("/settings", s.handleListSettings).Methods("GET")
	s.router.HandleFunc("/settings/{key}", s.handleSetSetting).Methods("PUT")
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the control server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting control server")

	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.config.ListenAddr)
		if err != nil {
			return fmt.Errorf("control listen: %w", err)
		}
	} else {
		s.logger.Debug().Msg("Using systemd socket-activated control listener")
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Control server error")
		}
	}()

	return nil
}

// Stop gracefully stops the control server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping control server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("control server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": s.sched.Snapshot().Running,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	var opts scheduler.Options
	switch {
	case req.AutoStop != "":
		d, err := time.ParseDuration(req.AutoStop)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid auto_stop duration: %q", req.AutoStop))
			return
		}
		opts.AutoStop = d
	case req.Timer:
		d, err := storage.LoadAutoStop(r.Context(), s.store)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to read auto-stop settings")
			writeError(w, http.StatusInternalServerError, "Failed to read auto-stop settings")
			return
		}
		opts.AutoStop = d
	}

	err := s.sched.Start(r.Context(), opts)

	var authErr *scheduler.AuthorizationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.sched.Snapshot())
	case errors.Is(err, scheduler.ErrNoActionConfigured):
		writeError(w, http.StatusConflict, "Set at least one action key")
	case errors.As(err, &authErr):
		writeError(w, http.StatusForbidden, authErr.Error())
	default:
		s.logger.Error().Err(err).Msg("Failed to start scheduler")
		writeError(w, http.StatusInternalServerError, "Failed to start scheduler")
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.sched.Stop()
	writeJSON(w, http.StatusOK, s.sched.Snapshot())
}

// handleReset clears persisted settings and all in-memory state, then
// requests a fresh authorization check.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.sched.Stop()

	if err := s.store.Clear(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear settings")
		writeError(w, http.StatusInternalServerError, "Failed to clear settings")
		return
	}

	s.sched.Reset()
	s.gate.Reset()
	s.gate.Refresh(context.Background())

	s.logger.Info().Msg("State reset, re-verifying")
	writeJSON(w, http.StatusOK, s.sched.Snapshot())
}

// handleVerify detaches from the request context: the check is shared with
// background refreshes and its verdict is stored for every caller.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gate.Check(context.Background()))
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	stored, err := s.store.All(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read settings")
		writeError(w, http.StatusInternalServerError, "Failed to read settings")
		return
	}

	resp := SettingsResponse{Settings: make([]Setting, 0, len(storage.Keys))}
	for _, key := range storage.Keys {
		def, _ := storage.Default(key)
		value, set := stored[key]
		if !set {
			value = def
		}
		resp.Settings = append(resp.Settings, Setting{Key: key, Value: value, Default: def, Set: set})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	def, known := storage.Default(key)
	if !known {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown setting: %s", key))
		return
	}

	var req SettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	value, err := storage.ValidateSetting(key, req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.Set(r.Context(), key, value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to store setting")
		writeError(w, http.StatusInternalServerError, "Failed to store setting")
		return
	}

	s.logger.Info().Str("key", key).Str("value", value).Msg("Setting updated")
	writeJSON(w, http.StatusOK, Setting{Key: key, Value: value, Default: def, Set: true})
}
