package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	infragin "github.com/jonesrussell/north-cloud/likechat/infrastructure/gin"
	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	inframetrics "github.com/jonesrussell/north-cloud/likechat/infrastructure/metrics"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/monitoring"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/sse"
	"github.com/jonesrussell/north-cloud/likechat/internal/config"
	"github.com/jonesrussell/north-cloud/likechat/internal/handler"
	"github.com/jonesrussell/north-cloud/likechat/internal/middleware"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// ServerDeps are the collaborators the HTTP server needs. RedisPing and
// DatabasePing add health checks when set.
type ServerDeps struct {
	Handler      *handler.Handler
	Registry     *prometheus.Registry
	Live         sse.Broker
	Memory       *monitoring.MemoryMonitor
	RedisPing    func() error
	DatabasePing func() error
	// Done stops background work owned by middleware.
	Done <-chan struct{}
}

// NewServer creates the HTTP server.
func NewServer(cfg *config.Config, deps ServerDeps, log infralogger.Logger) *infragin.Server {
	var limiter gin.HandlerFunc
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = middleware.RateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL, deps.Done)
	}

	builder := infragin.NewServerBuilder(cfg.Service.Name, cfg.Service.Port).
		WithLogger(log).
		WithDebug(cfg.Service.Debug).
		WithVersion(cfg.Service.Version).
		WithCORSOrigins(cfg.Service.CORSOrigins).
		WithTimeouts(defaultReadTimeout, defaultWriteTimeout, defaultIdleTimeout)

	if deps.Registry != nil {
		builder = builder.WithMetrics(inframetrics.NewHTTPMetrics(deps.Registry, "likechat"), deps.Registry)
	}
	if deps.RedisPing != nil {
		builder = builder.WithRedisHealthCheck(deps.RedisPing)
	}
	if deps.DatabasePing != nil {
		builder = builder.WithDatabaseHealthCheck(deps.DatabasePing)
	}

	return builder.
		WithRoutes(func(router *gin.Engine) {
			SetupRoutes(router, RouteOptions{
				RateLimit: limiter,
				JWTSecret: cfg.Auth.JWTSecret,
				Live:      deps.Live,
				Memory:    deps.Memory,
				Handler:   deps.Handler,
				Log:       log,
			})
		}).
		Build()
}
