package gin

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/jwt"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// ServerBuilder provides a fluent API for building HTTP servers.
type ServerBuilder struct {
	config       *Config
	logger       logger.Logger
	setupRoutes  func(*gin.Engine)
	healthChecks map[string]HealthChecker
	httpMetrics  *metrics.HTTPMetrics
	gatherer     prometheus.Gatherer
}

// NewServerBuilder starts a builder for serviceName listening on port.
func NewServerBuilder(serviceName string, port int) *ServerBuilder {
	return &ServerBuilder{
		config:       NewConfig(serviceName, port),
		healthChecks: make(map[string]HealthChecker),
	}
}

func (b *ServerBuilder) WithLogger(log logger.Logger) *ServerBuilder {
	b.logger = log
	return b
}

func (b *ServerBuilder) WithDebug(debug bool) *ServerBuilder {
	b.config.Debug = debug
	return b
}

func (b *ServerBuilder) WithVersion(version string) *ServerBuilder {
	b.config.ServiceVersion = version
	return b
}

func (b *ServerBuilder) WithCORSOrigins(origins []string) *ServerBuilder {
	if len(origins) > 0 {
		b.config.CORS.AllowedOrigins = origins
	}
	return b
}

// WithTimeouts sets read, write and idle timeouts. Zero keeps the default.
func (b *ServerBuilder) WithTimeouts(read, write, idle time.Duration) *ServerBuilder {
	if read > 0 {
		b.config.ReadTimeout = read
	}
	if write > 0 {
		b.config.WriteTimeout = write
	}
	if idle > 0 {
		b.config.IdleTimeout = idle
	}
	return b
}

// WithHealthCheck adds a named dependency check to /health.
func (b *ServerBuilder) WithHealthCheck(name string, checker HealthChecker) *ServerBuilder {
	b.healthChecks[name] = checker
	return b
}

// WithRedisHealthCheck reports Redis as degraded, not unhealthy, when down.
func (b *ServerBuilder) WithRedisHealthCheck(pingFunc func() error) *ServerBuilder {
	return b.WithHealthCheck("redis", PingHealthChecker("Redis", pingFunc, HealthStatusDegraded))
}

// WithDatabaseHealthCheck reports the history database as degraded when down.
func (b *ServerBuilder) WithDatabaseHealthCheck(pingFunc func() error) *ServerBuilder {
	return b.WithHealthCheck("database", PingHealthChecker("Database", pingFunc, HealthStatusDegraded))
}

// WithMetrics instruments every route and serves gatherer on GET /metrics.
func (b *ServerBuilder) WithMetrics(m *metrics.HTTPMetrics, gatherer prometheus.Gatherer) *ServerBuilder {
	b.httpMetrics = m
	b.gatherer = gatherer
	return b
}

func (b *ServerBuilder) WithRoutes(setupRoutes func(*gin.Engine)) *ServerBuilder {
	b.setupRoutes = setupRoutes
	return b
}

// Build creates the server. Health routes are registered before service routes.
func (b *ServerBuilder) Build() *Server {
	if b.logger == nil {
		b.logger = logger.Must(logger.Config{Development: b.config.Debug})
	}

	setup := func(router *gin.Engine) {
		if b.httpMetrics != nil {
			router.Use(b.httpMetrics.Middleware())
			router.GET("/metrics", gin.WrapH(metrics.Handler(b.gatherer)))
		}
		RegisterHealthRoutes(router, HealthOptions{
			ServiceName:    b.config.ServiceName,
			ServiceVersion: b.config.ServiceVersion,
			Checks:         b.healthChecks,
		})
		if b.setupRoutes != nil {
			b.setupRoutes(router)
		}
	}

	return NewServer(b.config, b.logger, setup)
}

// ProtectedGroup creates a router group guarded by JWT auth. An empty secret
// leaves the group locked: every request is rejected.
func ProtectedGroup(router gin.IRouter, path, jwtSecret string) *gin.RouterGroup {
	group := router.Group(path)
	group.Use(jwt.Middleware(jwtSecret))
	return group
}
