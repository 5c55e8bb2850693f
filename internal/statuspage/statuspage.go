// Package statuspage serves a read-only HTML view of the browser pool:
// GET /browsers renders the dashboard, GET /browsers?instance_id=x the
// detail page for one instance. It observes registry state and never
// mutates it.
package statuspage

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tzafon/warmpool/internal/metrics"
	"github.com/tzafon/warmpool/internal/registry"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	// maxItems caps both dashboard tables.
	maxItems = 30
	// cacheTTL is how long a rendered dashboard is reused.
	cacheTTL = 1 * time.Second

	dashboardCacheKey = "dashboard"
)

var (
	dashboardTmpl = template.Must(template.ParseFS(templateFS, "templates/dashboard.html"))
	instanceTmpl  = template.Must(template.ParseFS(templateFS, "templates/instance.html"))
)

// Server renders registry state over HTTP.
type Server struct {
	store  *registry.Store
	cache  *expirable.LRU[string, string]
	now    func() time.Time
	logger *zap.Logger
	sf     singleflight.Group

	// Metrics, when set before Handler is called, is exposed at /metrics.
	Metrics *metrics.Collector
}

// NewServer creates a status page over the store. The clock is injectable
// for tests; pass nil for time.Now.
func NewServer(store *registry.Store, now func() time.Time, logger *zap.Logger) *Server {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:  store,
		cache:  expirable.NewLRU[string, string](1, nil, cacheTTL),
		now:    now,
		logger: logger,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/browsers", s.handleBrowsers)
	if s.Metrics != nil {
		mux.HandleFunc("/metrics", s.serveMetrics)
	}
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("Status page listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status page: %w", err)
	}
	return nil
}

func (s *Server) handleBrowsers(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("instance_id"); id != "" {
		s.serveInstance(w, id)
		return
	}
	s.serveDashboard(w)
}

func (s *Server) serveDashboard(w http.ResponseWriter) {
	if html, ok := s.cache.Get(dashboardCacheKey); ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
		return
	}

	// Concurrent misses render once and share the result.
	v, err, _ := s.sf.Do(dashboardCacheKey, func() (any, error) {
		html, err := s.renderDashboard()
		if err != nil {
			return "", err
		}
		s.cache.Add(dashboardCacheKey, html)
		return html, nil
	})
	if err != nil {
		s.logger.Error("Failed to render dashboard", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, v.(string))
}

func (s *Server) serveMetrics(w http.ResponseWriter, _ *http.Request) {
	s.Metrics.WritePrometheus(w, s.store.Snapshot())
}

func (s *Server) serveInstance(w http.ResponseWriter, id string) {
	d, err := s.store.Get(id)
	if err != nil {
		http.Error(w, "instance not found", http.StatusNotFound)
		return
	}
	html, err := s.renderInstance(d)
	if err != nil {
		s.logger.Error("Failed to render instance page", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}
