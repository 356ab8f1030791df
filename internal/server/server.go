// Package server is the development server: it serves the site with every
// HTML page rendered through the resource processor, serves locally
// published bundles and tells connected browsers to reload when a rebuild
// finishes.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/assetmin/internal/build"
	"github.com/conneroisu/assetmin/internal/logging"
	"github.com/conneroisu/assetmin/internal/monitoring"
	"github.com/conneroisu/assetmin/internal/site"
	"github.com/conneroisu/assetmin/internal/urlpath"
	"github.com/conneroisu/assetmin/internal/version"
	"github.com/conneroisu/assetmin/internal/websocket"
)

const reloadScript = `<script>(function(){var s=location.protocol==="https:"?"wss:":"ws:";` +
	`var ws=new WebSocket(s+"//"+location.host+"/ws");` +
	`ws.onmessage=function(e){var m=JSON.parse(e.data);if(m.type==="reload"){location.reload();}};})();</script>`

// Config wires a Server.
type Config struct {
	Addr    string
	BaseURL string
	// PublishDir and PublishURL mount a local publisher's directory. Leave
	// PublishDir empty when bundles are served from elsewhere.
	PublishDir string
	PublishURL string

	Site        *site.Site
	Coordinator *build.Coordinator
	// Reload enables live reload when set.
	Reload  *websocket.Manager
	Metrics *monitoring.Metrics
	Logger  logging.Logger
}

// Server serves a site for development.
type Server struct {
	cfg    Config
	logger logging.Logger

	httpServer  *http.Server
	serverMutex sync.RWMutex
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.PublishURL = strings.TrimRight(cfg.PublishURL, "/")
	return &Server{cfg: cfg, logger: cfg.Logger.WithComponent("server")}
}

// Handler returns the router of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/stats", s.handleStats)
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}
	if s.cfg.Reload != nil {
		r.Get("/ws", s.cfg.Reload.HandleWebSocket)
	}

	if s.cfg.PublishDir != "" && strings.HasPrefix(s.cfg.PublishURL, "/") {
		assets := http.StripPrefix(s.cfg.PublishURL, http.FileServer(http.Dir(s.cfg.PublishDir)))
		r.With(immutable).Handle(s.cfg.PublishURL+"/*", assets)
	}

	if s.cfg.BaseURL != "" {
		r.Get(s.cfg.BaseURL, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, s.cfg.BaseURL+"/", http.StatusMovedPermanently)
		})
	}
	r.Get(s.cfg.BaseURL+"/*", s.handleSite)

	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.serverMutex.Lock()
	s.httpServer = server
	s.serverMutex.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Development server listening", "addr", s.cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the HTTP server and the live reload connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMutex.RLock()
	server := s.httpServer
	s.serverMutex.RUnlock()

	var errs []error
	if s.cfg.Reload != nil {
		errs = append(errs, s.cfg.Reload.Shutdown(ctx))
	}
	if server != nil {
		errs = append(errs, server.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Reload tells connected browsers to reload.
func (s *Server) Reload(target string) {
	if s.cfg.Reload != nil {
		s.cfg.Reload.Reload(target)
	}
}

func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(path.Clean("/"+urlpath.StripPrefix(r.URL.Path, s.cfg.BaseURL)), "/")
	full := filepath.Join(s.cfg.Site.RootDir(), filepath.FromSlash(rel))

	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		rel = path.Join(rel, "index.html")
		full = filepath.Join(full, "index.html")
		info, err = os.Stat(full)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error(r.Context(), err, "Stat failed", "path", full)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	switch strings.ToLower(path.Ext(rel)) {
	case ".html", ".htm":
	default:
		f, err := os.Open(full)
		if err != nil {
			s.logger.Error(r.Context(), err, "Open failed", "path", full)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
		return
	}

	var buf bytes.Buffer
	if _, err := s.cfg.Site.Render(r.Context(), rel, &buf); err != nil {
		s.logger.Error(r.Context(), err, "Page render failed", "page", rel)
		http.Error(w, "Page render failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	body := buf.Bytes()
	if s.cfg.Reload != nil {
		body = injectReload(body)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version.GetShortVersion(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Coordinator == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, s.cfg.Coordinator.Stats())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// immutable marks fingerprinted bundles as cacheable forever.
func immutable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		next.ServeHTTP(w, r)
	})
}

func injectReload(body []byte) []byte {
	i := bytes.LastIndex(body, []byte("</body>"))
	if i < 0 {
		return append(body, reloadScript...)
	}
	out := make([]byte, 0, len(body)+len(reloadScript))
	out = append(out, body[:i]...)
	out = append(out, reloadScript...)
	return append(out, body[i:]...)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
