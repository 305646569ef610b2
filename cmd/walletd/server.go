package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/walletmesh/bridge/internal/adapter"
	"github.com/walletmesh/bridge/internal/discovery"
	"github.com/walletmesh/bridge/internal/discovery/protocol"
	"github.com/walletmesh/bridge/internal/gateway"
	"github.com/walletmesh/bridge/internal/health"
	"github.com/walletmesh/bridge/internal/platform/storage"
	"github.com/walletmesh/bridge/internal/registry"
	"github.com/walletmesh/bridge/internal/session"
	"github.com/walletmesh/bridge/internal/wallet"
)

// Server holds walletd API dependencies.
type Server struct {
	cfg    *Config
	logger *slog.Logger

	directory *registry.Directory
	adapters  map[wallet.ChainType]adapter.Adapter
	discovery map[wallet.ChainType]*discovery.Service
	wrapper   *protocol.Wrapper
	sessions  *session.Service
	analyzer  *health.Analyzer
	history   *storage.HistoryStore
	gw        *gateway.Gateway
}

// NewServer creates a walletd API server.
func NewServer(cfg *Config, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger.With("component", "walletd-api"),
		adapters:  make(map[wallet.ChainType]adapter.Adapter),
		discovery: make(map[wallet.ChainType]*discovery.Service),
	}
}

// Router returns the HTTP handler for walletd.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/api/v1/wallets", s.handleWallets)
	mux.HandleFunc("/api/v1/wallets/detect", s.handleDetect)
	mux.HandleFunc("/api/v1/wallets/history", s.handleHistory)
	mux.HandleFunc("/api/v1/discovery/run", s.handleDiscoveryRun)
	mux.HandleFunc("/api/v1/discovery/protocol", s.handleProtocolDiscovery)
	mux.HandleFunc("/api/v1/connect", s.handleConnect)
	mux.HandleFunc("/api/v1/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/v1/session", s.handleSession)
	mux.HandleFunc("/api/v1/session/chain", s.handleSwitchChain)
	mux.HandleFunc("/api/v1/session/account", s.handleSwitchAccount)
	mux.HandleFunc("/api/v1/recovery/metrics", s.handleRecoveryMetrics)

	if s.gw != nil {
		mux.Handle("/ws", s.gw)
	}

	return s.loggingMiddleware(mux)
}

// loggingMiddleware logs all requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"degraded":  s.directory != nil && s.directory.Degraded(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleWallets returns the wallet directory manifest.
func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	manifest := s.directory.Manifest(r.Context())

	if chain := r.URL.Query().Get("chain"); chain != "" {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"chain":   chain,
			"wallets": s.directory.ByChain(r.Context(), wallet.ChainType(chain)),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, manifest)
}

// handleDetect probes the adapter for a chain family without connecting.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chain := wallet.ChainType(r.URL.Query().Get("chain"))
	a, ok := s.adapters[chain]
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "unsupported chain",
			"chain": string(chain),
		})
		return
	}

	result := a.Detect(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"chain":     string(chain),
		"installed": result.Installed,
		"ready":     result.Ready,
		"metadata":  result.Metadata,
	})
}

// handleHistory returns the most recently connected wallets and the
// overall preferred wallet from the connection history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.history == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": "connection history not configured",
		})
		return
	}

	recent, err := s.history.Recent(r.Context(), 10)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	preferred, err := s.history.Preferred(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"recent":    recent,
		"preferred": preferred,
	})
}

// handleDiscoveryRun runs one window-bounded discovery round.
func (s *Server) handleDiscoveryRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chain := wallet.ChainType(r.URL.Query().Get("chain"))
	svc, ok := s.discovery[chain]
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "unsupported chain",
			"chain": string(chain),
		})
		return
	}

	results, err := svc.Discover(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"chain":   string(chain),
		"outcome": string(svc.LastOutcome()),
		"wallets": results.AllWallets(),
	})
}

// handleProtocolDiscovery runs a timeout-bounded cross-process round.
func (s *Server) handleProtocolDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.wrapper == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": "discovery protocol not configured",
		})
		return
	}

	responders, err := s.wrapper.StartDiscovery(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	if responders == nil && s.wrapper.IsDiscovering() {
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "discovery already in progress",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"responders": responders,
		"count":      len(responders),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		WalletID string `json:"wallet_id"`
		ChainID  string `json:"chain_id,omitempty"`
		Force    bool   `json:"force,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
		return
	}

	result := s.sessions.Connect(r.Context(), session.ConnectOptions{
		WalletID: body.WalletID,
		ChainID:  body.ChainID,
		Force:    body.Force,
	})
	if !result.Success {
		s.writeJSON(w, statusForError(result.Err), map[string]interface{}{
			"error":    result.Err.Error(),
			"attempts": result.Attempts,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":  result.Session,
		"attempts": result.Attempts,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		RetainSession bool `json:"retain_session,omitempty"`
		Force         bool `json:"force,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": "invalid request body",
			})
			return
		}
	}

	result := s.sessions.Disconnect(r.Context(), session.DisconnectOptions{
		RetainSession: body.RetainSession,
		Force:         body.Force,
	})
	if !result.Success {
		s.writeJSON(w, statusForError(result.Err), map[string]interface{}{
			"error": result.Err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "disconnected",
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := s.sessions.ActiveSession(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if sess == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": "no active session",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSwitchChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		ChainID string `json:"chain_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChainID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "chain_id is required",
		})
		return
	}

	if err := s.sessions.SwitchChain(r.Context(), body.ChainID); err != nil {
		s.writeJSON(w, statusForError(err), map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "switched",
		"chain_id": body.ChainID,
	})
}

func (s *Server) handleSwitchAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Account string `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Account == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "account is required",
		})
		return
	}

	if err := s.sessions.SwitchAccount(r.Context(), body.Account); err != nil {
		s.writeJSON(w, statusForError(err), map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "switched",
		"account": body.Account,
	})
}

func (s *Server) handleRecoveryMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.analyzer.Snapshot())
}

// statusForError maps the typed wallet errors onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, wallet.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrUserRejected):
		return http.StatusForbidden
	case errors.Is(err, wallet.ErrConnectionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("JSON encode error", "error", err)
	}
}
