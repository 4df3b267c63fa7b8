package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/collection"
	"github.com/ZephireNZ/home-assistant-core/internal/integrations/metservice"
	"github.com/ZephireNZ/home-assistant-core/internal/integrations/template"
	"github.com/ZephireNZ/home-assistant-core/internal/loop"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// TemplateService manages template binary sensors.
type TemplateService interface {
	List() []string
	Items(ctx context.Context) ([]collection.Item, error)
	Create(ctx context.Context, data collection.Item) (collection.Item, error)
	Update(ctx context.Context, id string, data collection.Item) (collection.Item, error)
	Delete(ctx context.Context, id string) error
	Reload(ctx context.Context) error
}

// WeatherService reports the weather entities.
type WeatherService interface {
	Records() []metservice.Record
}

// Options configures a Server. Nil services answer 503.
type Options struct {
	Templates TemplateService
	Weather   WeatherService
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
	Port      int
}

// Server provides the HTTP API of the bridge
type Server struct {
	templates TemplateService
	weather   WeatherService
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		templates: opts.Templates,
		weather:   opts.Weather,
		logger:    opts.Logger.Named("api"),
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", s.handleSitemap)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("GET /api/template/list", s.handleTemplateList)
	mux.HandleFunc("GET /api/template/binary_sensor", s.handleTemplateItems)
	mux.HandleFunc("POST /api/template/binary_sensor", s.handleTemplateCreate)
	mux.HandleFunc("PATCH /api/template/binary_sensor/{id}", s.handleTemplateUpdate)
	mux.HandleFunc("DELETE /api/template/binary_sensor/{id}", s.handleTemplateDelete)
	mux.HandleFunc("POST /api/template/reload", s.handleTemplateReload)
	mux.HandleFunc("GET /api/weather", s.handleWeather)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps err to a status code: validation errors are 400, unknown
// ids 404 and a stopped event loop 503.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, collection.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, collection.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, loop.ErrStopped), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) templatesAvailable(w http.ResponseWriter) bool {
	if s.templates == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "template integration not loaded"})
		return false
	}
	return true
}

func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	if !s.templatesAvailable(w) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.templates.List())
}

func (s *Server) handleTemplateItems(w http.ResponseWriter, r *http.Request) {
	if !s.templatesAvailable(w) {
		return
	}
	items, err := s.templates.Items(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if items == nil {
		items = []collection.Item{}
	}
	s.writeJSON(w, http.StatusOK, items)
}

func decodeItem(r *http.Request) (collection.Item, error) {
	var item collection.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		return nil, &template.ValidationError{Message: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	if item == nil {
		item = collection.Item{}
	}
	return item, nil
}

func (s *Server) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	if !s.templatesAvailable(w) {
		return
	}
	data, err := decodeItem(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	item, err := s.templates.Create(r.Context(), data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Template sensor created", zap.String("id", item.ID()))
	s.writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleTemplateUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.templatesAvailable(w) {
		return
	}
	data, err := decodeItem(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := r.PathValue("id")
	item, err := s.templates.Update(r.Context(), id, data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Template sensor updated", zap.String("id", id))
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleTemplateDelete(w http.ResponseWriter, r *http.Request) {
	if !s.templatesAvailable(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.templates.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Template sensor deleted", zap.String("id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTemplateReload(w http.ResponseWriter, r *http.Request) {
	if !s.templatesAvailable(w) {
		return
	}
	if err := s.templates.Reload(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	if s.weather == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "metservice integration not loaded"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.weather.Records())
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/health", Method: "GET", Description: "Health check endpoint - returns {\"status\": \"ok\"}"},
	{Path: "/api/template/list", Method: "GET", Description: "Entity ids of every template binary sensor"},
	{Path: "/api/template/binary_sensor", Method: "GET", Description: "Editable template binary sensors"},
	{Path: "/api/template/binary_sensor", Method: "POST", Description: "Create an editable template binary sensor"},
	{Path: "/api/template/binary_sensor/{id}", Method: "PATCH", Description: "Update an editable template binary sensor"},
	{Path: "/api/template/binary_sensor/{id}", Method: "DELETE", Description: "Delete an editable template binary sensor"},
	{Path: "/api/template/reload", Method: "POST", Description: "Reload template sensors from configuration.yaml"},
	{Path: "/api/weather", Method: "GET", Description: "Current MetService weather entities"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Only handle requests to the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accept := r.Header.Get("Accept")
	preferHTML := strings.HasPrefix(accept, "text/html") || strings.HasPrefix(accept, "*/*")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		// 404 for automation compatibility, with a helpful body
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>hassbridge API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>hassbridge API</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "hassbridge API\n")
		fmt.Fprintf(w, "==============\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-7s %-34s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExamples:\n\n")
		fmt.Fprintf(w, "  curl http://localhost:8081/api/template/list\n")
		fmt.Fprintf(w, "  curl -X POST http://localhost:8081/api/template/reload\n")
		fmt.Fprintf(w, "  curl http://localhost:8081/api/weather | jq\n\n")
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Run serves HTTP requests until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
		return s.Stop()
	}
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
