package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/kburn/internal/admin/api"
	"github.com/goodtune/kburn/web"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the admin server configuration.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	UI             bool
}

// Deps are the components the admin API reads from and writes to.
type Deps struct {
	Ledger     api.LedgerView
	Controller api.ControllerView
	Quota      api.QuotaView
	Settings   api.SettingsStore
	History    api.TransferHistory
}

// Server represents the admin HTTP server.
type Server struct {
	config   Config
	deps     Deps
	server   *http.Server
	router   *mux.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new admin server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config: cfg,
		deps:   deps,
		router: router,
		logger: logger.With().Str("component", "admin").Logger(),
	}

	// Setup routes
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Apply global middleware
	s.router.Use(LoggingMiddleware(s.logger))

	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(CORSMiddleware(s.config.AllowedOrigins))
	}

	systemHandler := api.NewSystemHandler(s.deps.Controller, s.logger)
	s.router.HandleFunc("/health", systemHandler.GetHealth).Methods("GET")
	s.router.HandleFunc("/api/system/info", systemHandler.GetSystemInfo).Methods("GET")

	statusHandler := api.NewStatusHandler(s.deps.Ledger, s.deps.Controller, s.deps.Quota, s.logger)
	s.router.HandleFunc("/api/status", statusHandler.Get).Methods("GET")

	if s.deps.Settings != nil {
		settingsHandler := api.NewSettingsHandler(s.deps.Settings, s.logger)
		s.router.HandleFunc("/api/settings", settingsHandler.Get).Methods("GET")
		s.router.HandleFunc("/api/settings", settingsHandler.Update).Methods("POST", "PUT", "OPTIONS")
		s.router.HandleFunc("/api/settings/reload", settingsHandler.Reload).Methods("POST")
	}

	if s.deps.History != nil {
		transfersHandler := api.NewTransfersHandler(s.deps.History, s.logger)
		s.router.HandleFunc("/api/transfers", transfersHandler.List).Methods("GET")
	}

	// Browser dashboard
	if s.config.UI {
		ui := web.Handler()
		for _, p := range web.Paths() {
			s.router.Handle(p, ui).Methods("GET")
		}
		s.router.PathPrefix("/static/").Handler(ui).Methods("GET")
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "Not found")
	})
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the admin HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting admin server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated admin listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Admin server error")
		}
	}()

	return nil
}

// Stop gracefully stops the admin HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping admin server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}

	return nil
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
