package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"robotcontrol/internal/journal"
	"robotcontrol/internal/session"
	"robotcontrol/pkg/plugin"
	"robotcontrol/pkg/robot"
)

// DefaultHistoryLimit is used when /api/history has no limit parameter.
const DefaultHistoryLimit = 50

// MaxHistoryLimit is the largest limit /api/history accepts.
const MaxHistoryLimit = journal.MaxRecent

// Server provides HTTP API endpoints for the robot control service
type Server struct {
	session  *session.Session
	registry *plugin.Registry
	logger   *zap.Logger
	router   chi.Router
	server   *http.Server
}

// NewServer creates a new API server. registry may be nil.
func NewServer(sess *session.Session, registry *plugin.Registry, logger *zap.Logger, port int) *Server {
	s := &Server{
		session:  sess,
		registry: registry,
		logger:   logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/", s.handleSitemap)
	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/robots", s.handleListRobots)
		r.Post("/initialize", s.handleInitialize)
		r.Post("/execute", s.handleExecute)
		r.Get("/status", s.handleStatus)
		r.Post("/speed", s.handleSetSpeed)
		r.Get("/history", s.handleHistory)
		r.Get("/plugins", s.handleListPlugins)
		r.Get("/plugins/{name}", s.handleGetPlugin)
	})
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": s.session.Status().Connected,
	})
}

func (s *Server) handleListRobots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"robots": s.session.ListRobots()})
}

// InitializeRequest is the body of POST /api/initialize.
type InitializeRequest struct {
	Code    string         `json:"code"`
	IP      string         `json:"ip"`
	Options map[string]any `json:"options"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	res := s.session.Initialize(r.Context(), req.Code, req.IP, robot.Options(req.Options))
	status := http.StatusOK
	if !res.Connected {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

// ExecuteRequest is the body of POST /api/execute.
type ExecuteRequest struct {
	Text string `json:"text"`
}

// handleExecute always answers 200 once the body is valid; the result carries
// success or failure of the command itself.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.session.Execute(r.Context(), req.Text))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed *float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Speed == nil {
		writeError(w, http.StatusBadRequest, "speed is required")
		return
	}
	v, err := s.session.SetSpeed(*req.Speed)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"speed": v})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > MaxHistoryLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must not exceed %d", MaxHistoryLimit))
			return
		}
		limit = n
	}

	entries, err := s.session.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeJSON(w, http.StatusOK, map[string]any{"plugins": []plugin.Info{}})
		return
	}
	var types []plugin.Type
	for _, t := range r.URL.Query()["type"] {
		types = append(types, plugin.Type(t))
	}
	plugins := s.registry.ListPlugins(types...)
	if plugins == nil {
		plugins = []plugin.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugins": plugins})
}

// PluginResponse is the body of GET /api/plugins/{name}.
type PluginResponse struct {
	Metadata plugin.Metadata `json:"metadata"`
	State    plugin.State    `json:"state"`
	Status   map[string]any  `json:"status"`
}

func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version := r.URL.Query().Get("version")
	if s.registry == nil {
		writeError(w, http.StatusNotFound, "plugin not found: "+name)
		return
	}
	p, ok := s.registry.Get(name, version)
	if !ok {
		writeError(w, http.StatusNotFound, "plugin not found: "+name)
		return
	}
	st, _ := s.registry.State(name, version)
	writeJSON(w, http.StatusOK, PluginResponse{
		Metadata: p.Metadata(),
		State:    st,
		Status:   p.Status(),
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// Endpoints lists every route served by the API.
var Endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap"},
	{Path: "/health", Method: "GET", Description: "Health check"},
	{Path: "/api/robots", Method: "GET", Description: "Supported robot codes"},
	{Path: "/api/initialize", Method: "POST", Description: `Connect a robot: {"code": "unitree_go2", "ip": "192.168.12.1"}`},
	{Path: "/api/execute", Method: "POST", Description: `Run a command: {"text": "stand up and then wave"}`},
	{Path: "/api/status", Method: "GET", Description: "Connection, battery and pose of the active robot"},
	{Path: "/api/speed", Method: "POST", Description: `Set linear speed: {"speed": 0.5}`},
	{Path: "/api/history", Method: "GET", Description: "Recent commands, newest first (?limit=N)"},
	{Path: "/api/plugins", Method: "GET", Description: "Registered plugins (?type=sensor)"},
	{Path: "/api/plugins/{name}", Method: "GET", Description: "Metadata, state and status of one plugin"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Robot Control API\n")
	fmt.Fprintf(w, "=================\n\n")
	fmt.Fprintf(w, "Available endpoints:\n\n")
	for _, ep := range Endpoints {
		fmt.Fprintf(w, "  %-6s %-22s %s\n", ep.Method, ep.Path, ep.Description)
	}
	fmt.Fprintf(w, "\nExamples:\n\n")
	fmt.Fprintf(w, "  curl -X POST -d '{\"code\":\"unitree_go2\"}' http://localhost:8080/api/initialize\n")
	fmt.Fprintf(w, "  curl -X POST -d '{\"text\":\"forward 2\"}' http://localhost:8080/api/execute\n")
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
