package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-routing-core/internal/alerts"
	"github.com/tributary-ai/llm-routing-core/internal/health"
	"github.com/tributary-ai/llm-routing-core/internal/metrics"
	"github.com/tributary-ai/llm-routing-core/internal/middleware"
	"github.com/tributary-ai/llm-routing-core/internal/routing"
)

// Core bundles the components the server exposes.
type Core struct {
	ProviderStats *metrics.Store
	ServiceStats  *metrics.Store
	Tracker       *metrics.Tracker
	Health        *health.Tracker
	Alerts        *alerts.Engine
	Routing       *routing.Engine
	Journal       *routing.Journal
}

// Config holds server configuration.
type Config struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// Server is the HTTP operational surface over the routing core.
type Server struct {
	core       Core
	httpServer *http.Server
	logger     *logrus.Logger
	config     Config
	validation *middleware.ValidationMiddleware
	registry   *prometheus.Registry
}

// NewServer creates a new server instance.
func NewServer(core Core, config Config, validation *middleware.ValidationMiddleware, collector prometheus.Collector, logger *logrus.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	if collector != nil {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metrics collector: %w", err)
		}
	}

	return &Server{
		core:       core,
		logger:     logger,
		config:     config,
		validation: validation,
		registry:   registry,
	}, nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        r,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting routing core server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping routing core server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogging(s.logger))
	r.Use(s.contentTypeMiddleware)
	if s.validation != nil {
		r.Use(s.validation.Middleware)
	}

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/route", s.handleRoute).Methods("POST")
	api.HandleFunc("/requests/start", s.handleRequestStart).Methods("POST")
	api.HandleFunc("/requests/{id}/complete", s.handleRequestComplete).Methods("POST")
	api.HandleFunc("/providers", s.handleListProviders).Methods("GET")
	api.HandleFunc("/stats/{subject}", s.handleSubjectStats).Methods("GET")
	api.HandleFunc("/dashboard", s.handleDashboard).Methods("GET")
	api.HandleFunc("/alerts", s.handleListAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id}/resolve", s.handleResolveAlert).Methods("POST")
	api.HandleFunc("/export", s.handleExport).Methods("GET")

	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	s.setupDocsRoutes(r)

	return r
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" || r.Method == "PUT" {
			contentType := r.Header.Get("Content-Type")
			if contentType != "application/json" && contentType != "" {
				s.writeErrorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// routeRequest is the wire form of a routing request. Durations are carried
// in milliseconds.
type routeRequest struct {
	RequestID         string   `json:"request_id"`
	Service           string   `json:"service"`
	Model             string   `json:"model,omitempty"`
	Urgency           string   `json:"urgency,omitempty"`
	MaxResponseTimeMS int64    `json:"max_response_time_ms,omitempty"`
	MinQuality        float64  `json:"min_quality,omitempty"`
	MinReliability    float64  `json:"min_reliability,omitempty"`
	Preferred         []string `json:"preferred_providers,omitempty"`
}

// handleRoute returns a routing decision for the supplied requirements.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	if req.RequestID == "" {
		req.RequestID = middleware.RequestIDFrom(r.Context())
	}

	decision, err := s.core.Routing.SelectProvider(
		routing.RequestContext{
			RequestID: req.RequestID,
			Service:   req.Service,
			Model:     req.Model,
			Urgency:   req.Urgency,
		},
		routing.Requirements{
			MaxResponseTime:    time.Duration(req.MaxResponseTimeMS) * time.Millisecond,
			MinQuality:         req.MinQuality,
			MinReliability:     req.MinReliability,
			PreferredProviders: req.Preferred,
		},
	)
	if err != nil {
		if errors.Is(err, routing.ErrNoProviders) {
			s.writeErrorResponse(w, http.StatusServiceUnavailable, "No providers available")
			return
		}
		s.writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Routing failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(decision)
}

type requestStartBody struct {
	RequestID string `json:"request_id"`
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	Service   string `json:"service,omitempty"`
}

// handleRequestStart registers an in-flight request reported by the caller.
func (s *Server) handleRequestStart(w http.ResponseWriter, r *http.Request) {
	var body requestStartBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if body.Provider == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "provider is required")
		return
	}
	if body.RequestID == "" {
		body.RequestID = middleware.RequestIDFrom(r.Context())
	}

	s.core.Tracker.TrackStart(body.RequestID, body.Provider, body.Model, body.Service)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"request_id": body.RequestID,
		"tracked":    true,
	})
}

type requestCompleteBody struct {
	Success   bool    `json:"success"`
	ErrorType string  `json:"error_type,omitempty"`
	Quality   float64 `json:"quality,omitempty"`
	Provider  string  `json:"provider,omitempty"`
}

// handleRequestComplete finishes a tracked request and feeds the health
// state machine.
func (s *Server) handleRequestComplete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body requestCompleteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	// The provider is resolved from the active table before completion so
	// health can still be recorded when the caller omits it.
	provider := body.Provider
	if provider == "" {
		for _, req := range s.core.Tracker.ActiveRequests() {
			if req.ID == id {
				provider = req.Provider
				break
			}
		}
	}

	s.core.Tracker.TrackComplete(id, body.Success, body.ErrorType, body.Quality)

	if provider != "" {
		if body.Success {
			s.core.Health.RecordSuccess(provider)
		} else {
			s.core.Health.RecordFailure(provider)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"request_id": id,
		"completed":  true,
	})
}

// handleListProviders lists all registered providers.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.core.Routing.ListProviders()

	response := map[string]interface{}{
		"providers": providers,
		"count":     len(providers),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSubjectStats returns the statistics for one provider or service.
func (s *Server) handleSubjectStats(w http.ResponseWriter, r *http.Request) {
	subject := mux.Vars(r)["subject"]

	snap, ok := s.core.ProviderStats.Get(subject)
	if !ok && s.core.ServiceStats != nil {
		snap, ok = s.core.ServiceStats.Get(subject)
	}
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Subject %s not found", subject))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// handleDashboard returns the aggregate operational snapshot.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"overall":         s.core.ProviderStats.Aggregate(),
		"providers":       s.core.ProviderStats.All(),
		"services":        s.core.ServiceStats.All(),
		"health":          s.core.Health.Snapshot(),
		"active_requests": s.core.Tracker.ActiveRequests(),
		"recent_history":  s.core.Tracker.RecentHistory(50),
		"active_alerts":   s.core.Alerts.Active(),
		"timestamp":       time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleListAlerts lists alerts; ?all=true includes resolved ones.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	var list []alerts.Alert
	if r.URL.Query().Get("all") == "true" {
		list = s.core.Alerts.All()
	} else {
		list = s.core.Alerts.Active()
	}

	response := map[string]interface{}{
		"alerts": list,
		"count":  len(list),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleResolveAlert resolves one alert by ID.
func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !s.core.Alerts.Resolve(id) {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Alert %s not found or already resolved", id))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"resolved": true,
		"alert_id": id,
	})
}

// handleExport dumps the full core state for external persistence.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	recorded, dropped := int64(0), int64(0)
	var decisions []routing.Decision
	if s.core.Journal != nil {
		recorded, dropped = s.core.Journal.Counts()
		decisions = s.core.Journal.Recent(100)
	}

	response := map[string]interface{}{
		"exported_at":     time.Now(),
		"overall":         s.core.ProviderStats.Aggregate(),
		"providers":       s.core.ProviderStats.All(),
		"services":        s.core.ServiceStats.All(),
		"health":          s.core.Health.Snapshot(),
		"active_requests": s.core.Tracker.ActiveRequests(),
		"history":         s.core.Tracker.RecentHistory(0),
		"alerts":          s.core.Alerts.All(),
		"decisions":       decisions,
		"journal": map[string]int64{
			"recorded": recorded,
			"dropped":  dropped,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleHealthCheck returns the overall health status.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	snapshot := s.core.Health.Snapshot()

	overall := "healthy"
	statusCode := http.StatusOK
	for _, status := range snapshot {
		if status.State == health.StateUnhealthy {
			overall = "unhealthy"
			statusCode = http.StatusServiceUnavailable
			break
		}
		if status.State == health.StateDegraded {
			overall = "degraded"
		}
	}

	response := map[string]interface{}{
		"status":    overall,
		"providers": snapshot,
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// writeErrorResponse writes a JSON error body.
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    statusCode,
		},
		"timestamp": time.Now().Unix(),
	}

	json.NewEncoder(w).Encode(errorResp)
}
