package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/roach88/skinscan/internal/analytics"
	"github.com/roach88/skinscan/internal/engine"
	"github.com/roach88/skinscan/internal/observability"
)

// ServiceName identifies the HTTP server in traces.
const ServiceName = "skinscan"

// LegacyPrefix is the route prefix of the original mobile client.
const LegacyPrefix = "/api/predict"

// DefaultMaxUploadBytes caps the multipart body of POST /predict.
const DefaultMaxUploadBytes = 10 << 20

// Ingester runs one classification request end to end.
type Ingester interface {
	Ingest(ctx context.Context, req engine.Request) (engine.Result, error)
}

// Queries answers history and stats requests.
type Queries interface {
	Page(ctx context.Context, userID string, page, limit int) (analytics.PageResult, error)
	Stats(ctx context.Context, userID, kind string) (any, error)
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Ingester Ingester
	Queries  Queries

	// Metrics is optional. Gatherer, when set, is served on /metrics.
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer

	// Ping reports backing-store health for /health. Optional.
	Ping func(ctx context.Context) error

	// PoolStats reports executor occupancy for /health. Optional.
	PoolStats func() engine.PoolStats

	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

// NewServer creates a Server. Missing optional deps get defaults.
func NewServer(deps Deps) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, logger: logger.With(slog.String("component", "api"))}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	router.Use(s.observe())

	router.GET("/health", s.health)
	if s.deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	s.register(router.Group(""))
	legacy := router.Group(LegacyPrefix)
	legacy.POST("", s.predict)
	legacy.POST("/", s.predict)
	s.register(legacy)

	return router
}

func (s *Server) register(g *gin.RouterGroup) {
	g.POST("/predict", s.predict)
	g.GET("/history/:userId", s.history)
	g.GET("/stats/:userId/:kind", s.stats)
}

// observe records request count and latency per route pattern.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.deps.Metrics.HTTPRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK

	if s.deps.Ping != nil {
		if err := s.deps.Ping(c.Request.Context()); err != nil {
			body["status"] = "degraded"
			body["store"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if s.deps.PoolStats != nil {
		body["executor"] = s.deps.PoolStats()
	}
	c.JSON(status, body)
}
