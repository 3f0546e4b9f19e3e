// Package server exposes a call graph over a JSON HTTP API for renderers and
// editor integrations.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/abramin/callscope/internal/callgraph"
	"github.com/abramin/callscope/internal/config"
	"github.com/abramin/callscope/internal/index"
	"github.com/abramin/callscope/internal/store"
	"github.com/abramin/callscope/internal/telemetry"
)

// GraphSource hands out the graph to answer a request from. Every call may
// return a different immutable graph; *callgraph.Workspace is a GraphSource.
type GraphSource interface {
	Snapshot() *callgraph.Graph
}

// GraphFunc adapts a function to GraphSource.
type GraphFunc func() *callgraph.Graph

// Snapshot calls f.
func (f GraphFunc) Snapshot() *callgraph.Graph { return f() }

// Static returns a source that always serves g.
func Static(g *callgraph.Graph) GraphSource {
	return GraphFunc(func() *callgraph.Graph { return g })
}

// Config holds server configuration.
type Config struct {
	Port     int
	UIDir    string         // Renderer bundle; empty searches the default locations
	Analysis *config.Config // Tagging, entry symbols and noise symbols
	Debug    bool
}

// Server is the callscope HTTP server.
type Server struct {
	cfg        *config.Config
	source     GraphSource
	router     *gin.Engine
	httpServer *http.Server
	port       int

	mu    sync.Mutex
	views *graphViews
}

// graphViews are the tags and entrypoints derived from one graph value.
type graphViews struct {
	graph       *callgraph.Graph
	tags        map[string][]string
	tagCount    int
	entrypoints []store.Entrypoint
}

// New creates a new server instance.
func New(cfg Config, source GraphSource) *Server {
	analysis := cfg.Analysis
	if analysis == nil {
		analysis = config.Default()
	}
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    analysis,
		source: source,
		port:   cfg.Port,
	}

	router := gin.New()
	// Node ids contain slashes; clients escape them as %2F.
	router.UseRawPath = true
	router.UnescapePathValues = true
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(telemetry.ServiceName))
	router.Use(metricsMiddleware(), corsMiddleware())
	if cfg.Debug {
		router.Use(requestLogger())
	}

	api := router.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/graph", s.handleGraph)
	api.GET("/graph/root/:id", s.handleGraphRoot)
	api.GET("/graph/spine/:id", s.handleSpine)
	api.GET("/nodes/:id", s.handleNode)
	api.GET("/nodes/:id/reachable", s.handleReachable)
	api.GET("/nodes/:id/callers", s.handleCallers)
	api.GET("/path", s.handlePath)
	api.GET("/topo", s.handleTopo)
	api.GET("/diagnostics", s.handleDiagnostics)
	api.GET("/entrypoints", s.handleEntrypoints)
	api.GET("/search", s.handleSearch)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.NoRoute(gin.WrapH(UIHandler(cfg.UIDir)))

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", slog.String("addr", fmt.Sprintf("http://localhost:%d", s.port)))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// viewsFor returns the derived views of g, recomputing them when the source
// has moved on to a new graph.
func (s *Server) viewsFor(g *callgraph.Graph) *graphViews {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.views != nil && s.views.graph == g {
		return s.views
	}

	tags := index.NewTagger(s.cfg).Tag(g)
	entries := index.NewEntrypointDetector(s.cfg.GraphOptions()).Detect(g)
	eps := make([]store.Entrypoint, len(entries.Entrypoints))
	for i, ep := range entries.Entrypoints {
		ep.ID = store.EntrypointID(i + 1)
		eps[i] = ep
	}
	s.views = &graphViews{
		graph:       g,
		tags:        tags.ByFunction(),
		tagCount:    tags.TotalTags,
		entrypoints: eps,
	}
	return s.views
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// metricsMiddleware records request latency by route template.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		telemetry.QueryDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}
