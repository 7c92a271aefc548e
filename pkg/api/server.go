// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/catalog"
	"github.com/phenomenon0/parlay-agents/pkg/pipeline"
)

// Service runs pipeline requests.
type Service interface {
	BuildParlay(ctx context.Context, req pipeline.ParlayRequest) (*core.ParlayResult, error)
	SuggestPicks(ctx context.Context, req pipeline.PicksRequest) (*pipeline.PicksResult, error)
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// Server holds the handler dependencies.
type Server struct {
	svc     Service
	cat     *catalog.Catalog
	metrics http.Handler
	stream  http.HandlerFunc
	checks  map[string]Check
	pprof   bool
	mode    string
	log     logrus.FieldLogger
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves Prometheus metrics on /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithStream serves progress events on /ws.
func WithStream(h http.HandlerFunc) Option { return func(s *Server) { s.stream = h } }

// WithReadinessCheck adds a dependency to /ready.
func WithReadinessCheck(name string, c Check) Option {
	return func(s *Server) { s.checks[name] = c }
}

// WithPprof registers the pprof handlers under /debug/pprof.
func WithPprof(enabled bool) Option { return func(s *Server) { s.pprof = enabled } }

// WithMode sets the gin mode.
func WithMode(mode string) Option { return func(s *Server) { s.mode = mode } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(s *Server) { s.log = l } }

// NewServer creates a Server.
func NewServer(svc Service, cat *catalog.Catalog, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		cat:    cat,
		checks: make(map[string]Check),
		mode:   gin.ReleaseMode,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "api")
	return s
}

// Router builds the gin engine.
//
// Public: /health, /ready, /metrics, /ws
// API:    /api/v1/parlays, /api/v1/picks, /api/v1/catalog, /api/v1/odds/combine
func (s *Server) Router() *gin.Engine {
	gin.SetMode(s.mode)

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", s.ready)

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	if s.stream != nil {
		r.GET("/ws", gin.WrapF(s.stream))
	}
	if s.pprof {
		pprof.Register(r)
	}

	v1 := r.Group("/api/v1")
	v1.POST("/parlays", s.buildParlay)
	v1.POST("/picks", s.suggestPicks)
	v1.GET("/catalog", s.catalog)
	v1.POST("/odds/combine", s.combineOdds)

	return r
}

func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "errors": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}
