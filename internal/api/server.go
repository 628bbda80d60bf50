package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/pkg/interfaces"
	"github.com/Neomon11/LibLocker/pkg/types"
)

const maxHistoryLimit = 500

// Registry exposes connection statistics for the health endpoint
type Registry interface {
	GetStats() map[string]int
}

// HealthChecker reports store health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// TariffDefaults fill tariff fields an admin start request leaves out
type TariffDefaults struct {
	FreeMode   bool
	HourlyRate float64
}

// ARCHITECTURAL DISCOVERY: HTTP API layer is a pure interface between the admin
// console and the session manager; no session logic lives here
type Server struct {
	sessions  interfaces.SessionManager
	store     HealthChecker
	registry  Registry
	tariff    TariffDefaults
	logger    zerolog.Logger
	startedAt time.Time
	router    *http.ServeMux
}

// NewServer wires the admin routes
func NewServer(sessions interfaces.SessionManager, store HealthChecker, registry Registry, tariff TariffDefaults, logger zerolog.Logger) *Server {
	s := &Server{
		sessions:  sessions,
		store:     store,
		registry:  registry,
		tariff:    tariff,
		logger:    logger.With().Str("component", "api").Logger(),
		startedAt: time.Now(),
		router:    http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: CORS and JSON middleware wrap every route
func (s *Server) setupRoutes() {
	routes := map[string]http.HandlerFunc{
		"GET /health":                              s.healthCheck,
		"GET /api/clients":                         s.listClients,
		"GET /api/clients/{id}":                    s.getClient,
		"DELETE /api/clients/{id}":                 s.deleteClient,
		"POST /api/clients/{id}/session":           s.startSession,
		"DELETE /api/clients/{id}/session":         s.stopSession,
		"PUT /api/clients/{id}/session/time":       s.updateSessionTime,
		"PUT /api/clients/{id}/session/tariff":     s.updateSessionTariff,
		"POST /api/clients/{id}/unlock":            s.unlockClient,
		"POST /api/clients/{id}/shutdown":          s.shutdownClient,
		"GET /api/clients/{id}/sessions":           s.sessionHistory,
		"GET /api/sessions/active":                 s.listActiveSessions,
		"OPTIONS /":                                func(w http.ResponseWriter, r *http.Request) {},
	}
	for pattern, handler := range routes {
		s.router.Handle(pattern, s.corsMiddleware(s.jsonMiddleware(handler)))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type StartSessionRequest struct {
	DurationMinutes int      `json:"duration_minutes"`
	FreeMode        *bool    `json:"free_mode,omitempty"`
	CostPerHour     *float64 `json:"cost_per_hour,omitempty"`
}

// UpdateTimeRequest requires duration_minutes; 0 explicitly means unlimited
type UpdateTimeRequest struct {
	DurationMinutes *int `json:"duration_minutes"`
}

type UpdateTariffRequest struct {
	FreeMode    bool    `json:"free_mode"`
	CostPerHour float64 `json:"cost_per_hour"`
	Reason      string  `json:"reason"`
}

// SessionResponse is returned by every mutating session call
type SessionResponse struct {
	Session   *types.Session `json:"session"`
	Delivered bool           `json:"delivered"`
}

type DeliveryResponse struct {
	Delivered bool `json:"delivered"`
}

type ClientsResponse struct {
	Clients []*types.ClientView `json:"clients"`
}

type SessionsResponse struct {
	Sessions []*types.Session `json:"sessions"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) listClients(w http.ResponseWriter, r *http.Request) {
	views, err := s.sessions.ListClientViews(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, ClientsResponse{Clients: views})
}

func (s *Server) getClient(w http.ResponseWriter, r *http.Request) {
	view, err := s.sessions.GetClientView(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, view)
}

func (s *Server) deleteClient(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.DeleteClient(r.Context(), r.PathValue("id")); err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"message": "Client deleted"})
}

// startSession fills omitted tariff fields from the configured defaults
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	freeMode := s.tariff.FreeMode
	if req.FreeMode != nil {
		freeMode = *req.FreeMode
	}
	costPerHour := s.tariff.HourlyRate
	if req.CostPerHour != nil {
		costPerHour = *req.CostPerHour
	}

	session, delivery, err := s.sessions.StartSession(r.Context(), r.PathValue("id"), req.DurationMinutes, freeMode, costPerHour)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, SessionResponse{Session: session, Delivered: delivery == types.Delivered})
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		reason = types.StopReasonManual
	}

	session, delivery, err := s.sessions.StopSession(r.Context(), r.PathValue("id"), reason)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SessionResponse{Session: session, Delivered: delivery == types.Delivered})
}

func (s *Server) updateSessionTime(w http.ResponseWriter, r *http.Request) {
	var req UpdateTimeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.DurationMinutes == nil {
		s.sendError(w, "invalid_request", "duration_minutes is required", http.StatusBadRequest)
		return
	}

	session, delivery, err := s.sessions.UpdateSessionTime(r.Context(), r.PathValue("id"), *req.DurationMinutes)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SessionResponse{Session: session, Delivered: delivery == types.Delivered})
}

func (s *Server) updateSessionTariff(w http.ResponseWriter, r *http.Request) {
	var req UpdateTariffRequest
	if !s.decode(w, r, &req) {
		return
	}

	session, delivery, err := s.sessions.UpdateSessionTariff(r.Context(), r.PathValue("id"), req.FreeMode, req.CostPerHour, req.Reason)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SessionResponse{Session: session, Delivered: delivery == types.Delivered})
}

func (s *Server) unlockClient(w http.ResponseWriter, r *http.Request) {
	delivery, err := s.sessions.UnlockClient(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, DeliveryResponse{Delivered: delivery == types.Delivered})
}

func (s *Server) shutdownClient(w http.ResponseWriter, r *http.Request) {
	delivery, err := s.sessions.ShutdownClient(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, DeliveryResponse{Delivered: delivery == types.Delivered})
}

func (s *Server) sessionHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			s.sendError(w, "invalid_request", fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := s.sessions.SessionHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions})
}

func (s *Server) listActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListActiveSessions(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions})
}

// healthCheck returns 503 when the store is unreachable
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		},
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

// decode reads a JSON body, answering 400 itself on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.sendError(w, "invalid_request", "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// StatusFor maps the error taxonomy onto HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrClientUnknown):
		return http.StatusNotFound
	case errors.Is(err, types.ErrClientBusy), errors.Is(err, types.ErrNoActiveSession):
		return http.StatusConflict
	case types.ErrorCode(err) == "invalid_request":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendFailure(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Admin request failed")
	}
	s.sendError(w, types.ErrorCode(err), err.Error(), code)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, errCode, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   errCode,
		Code:    code,
		Message: message,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write response")
	}
}

// ARCHITECTURAL DISCOVERY: CORS middleware lets a browser console on another
// origin drive the API
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
