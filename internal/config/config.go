// Package config loads likechat configuration.
package config

import (
	"fmt"
	"time"

	infraconfig "github.com/jonesrussell/north-cloud/likechat/infrastructure/config"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/profiling"
	infraredis "github.com/jonesrussell/north-cloud/likechat/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/sse"
	"github.com/jonesrussell/north-cloud/likechat/internal/chain"
	"github.com/jonesrussell/north-cloud/likechat/internal/gate"
	"github.com/jonesrussell/north-cloud/likechat/internal/purchase"
	"github.com/jonesrussell/north-cloud/likechat/internal/queue"
	"github.com/jonesrussell/north-cloud/likechat/internal/social"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Default configuration values.
const (
	defaultServiceName = "likechat"
	defaultServicePort = 8095
	defaultVersion     = "0.1.0"
	defaultKeyPrefix   = "likechat"
	defaultDBName      = "likechat"

	defaultRatePerSecond = 5
	defaultRateBurst     = 10
	defaultRateIdleTTL   = 10 * time.Minute

	defaultVerifyAttempts     = 3
	defaultVerifyInitialDelay = 250 * time.Millisecond
	defaultVerifyMaxDelay     = 2 * time.Second
	defaultStrategyTimeout    = 8 * time.Second

	defaultMemoryThreshold = 2.0
	defaultMemoryInterval  = 5 * time.Minute
)

// Config holds the application configuration.
type Config struct {
	Service    ServiceConfig              `yaml:"service"`
	Storage    StorageConfig              `yaml:"storage"`
	Redis      infraredis.Config          `yaml:"redis"`
	Database   infraconfig.DatabaseConfig `yaml:"database"`
	Social     social.Config              `yaml:"social"`
	Chain      chain.Config               `yaml:"chain"`
	Verify     VerifyConfig               `yaml:"verify"`
	Purchase   PurchaseConfig             `yaml:"purchase"`
	RateLimit  RateLimitConfig            `yaml:"rate_limit"`
	Events     EventsConfig               `yaml:"events"`
	Live       sse.Config                 `yaml:"live"`
	Auth       AuthConfig                 `yaml:"auth"`
	Monitoring MonitoringConfig           `yaml:"monitoring"`
	Profiling  profiling.Config           `yaml:"profiling"`
	Logging    infraconfig.LoggingConfig  `yaml:"logging"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name            string   `yaml:"name"`
	Version         string   `yaml:"version"`
	Port            int      `env:"LIKECHAT_PORT"             yaml:"port"`
	Debug           bool     `env:"APP_DEBUG"                 yaml:"debug"`
	CORSOrigins     []string `env:"LIKECHAT_CORS_ORIGINS"     yaml:"cors_origins"`
	QueueCapacity   int      `env:"LIKECHAT_QUEUE_CAPACITY"   yaml:"queue_capacity"`
	ListLimit       int      `yaml:"list_limit"`
	RequiredActions int      `env:"LIKECHAT_REQUIRED_ACTIONS" yaml:"required_actions"`
	RequirePurchase bool     `env:"LIKECHAT_REQUIRE_PURCHASE" yaml:"require_purchase"`
}

// StorageConfig selects where queue and progress state live.
type StorageConfig struct {
	Backend string `env:"LIKECHAT_STORAGE" yaml:"backend"`
}

// VerifyConfig tunes verification retries.
type VerifyConfig struct {
	StrategyTimeout time.Duration `yaml:"strategy_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
}

// PurchaseConfig tunes the purchase watcher.
type PurchaseConfig struct {
	BlocksPerCheck uint64        `yaml:"blocks_per_check"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	// RetryDelays is the client retry schedule; its length is the attempt cap.
	RetryDelays []time.Duration `yaml:"retry_delays"`
}

// RateLimitConfig holds per-user HTTP rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64       `env:"LIKECHAT_RATE_LIMIT_RPS" yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	IdleTTL           time.Duration `yaml:"idle_ttl"`
}

// EventsConfig holds the Redis stream publisher settings.
type EventsConfig struct {
	Enabled bool   `env:"LIKECHAT_EVENTS_ENABLED" yaml:"enabled"`
	Stream  string `yaml:"stream"`
	MaxLen  int64  `yaml:"max_len"`
}

// AuthConfig holds operator authentication.
type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET" yaml:"jwt_secret"` //nolint:gosec // config field
}

// MonitoringConfig holds the memory leak monitor settings.
type MonitoringConfig struct {
	MemoryThreshold float64       `yaml:"memory_threshold"`
	CheckInterval   time.Duration `yaml:"check_interval"`
}

// Load loads configuration from the specified path.
func Load(path string) (*Config, error) {
	cfg, err := infraconfig.LoadWithDefaults[Config](path, setDefaults)
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageMemory
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = defaultKeyPrefix
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = defaultDBName
	}
	cfg.Database.SetDefaults()
	cfg.Social.SetDefaults()
	cfg.Chain.SetDefaults()
	setVerifyDefaults(&cfg.Verify)
	setPurchaseDefaults(&cfg.Purchase)
	setRateLimitDefaults(&cfg.RateLimit)
	cfg.Live.SetDefaults()
	setMonitoringDefaults(&cfg.Monitoring)
	cfg.Logging.SetDefaults()
}

func setServiceDefaults(svc *ServiceConfig) {
	if svc.Name == "" {
		svc.Name = defaultServiceName
	}
	if svc.Version == "" {
		svc.Version = defaultVersion
	}
	if svc.Port == 0 {
		svc.Port = defaultServicePort
	}
	if svc.QueueCapacity == 0 {
		svc.QueueCapacity = queue.DefaultCapacity
	}
	if svc.ListLimit == 0 {
		svc.ListLimit = queue.DefaultListLimit
	}
	if svc.RequiredActions == 0 {
		svc.RequiredActions = gate.DefaultRequiredActions
	}
}

func setVerifyDefaults(v *VerifyConfig) {
	if v.StrategyTimeout == 0 {
		v.StrategyTimeout = defaultStrategyTimeout
	}
	if v.MaxAttempts == 0 {
		v.MaxAttempts = defaultVerifyAttempts
	}
	if v.InitialDelay == 0 {
		v.InitialDelay = defaultVerifyInitialDelay
	}
	if v.MaxDelay == 0 {
		v.MaxDelay = defaultVerifyMaxDelay
	}
}

func setPurchaseDefaults(p *PurchaseConfig) {
	if p.BlocksPerCheck == 0 {
		p.BlocksPerCheck = purchase.DefaultBlocksPerCheck
	}
	if p.ConfirmTimeout == 0 {
		p.ConfirmTimeout = purchase.DefaultConfirmTimeout
	}
	if p.PollInterval == 0 {
		p.PollInterval = purchase.DefaultPollInterval
	}
	if len(p.RetryDelays) == 0 {
		p.RetryDelays = append([]time.Duration(nil), purchase.DefaultRetryDelays...)
	}
}

func setRateLimitDefaults(rl *RateLimitConfig) {
	if rl.RequestsPerSecond == 0 {
		rl.RequestsPerSecond = defaultRatePerSecond
	}
	if rl.Burst == 0 {
		rl.Burst = defaultRateBurst
	}
	if rl.IdleTTL == 0 {
		rl.IdleTTL = defaultRateIdleTTL
	}
}

func setMonitoringDefaults(m *MonitoringConfig) {
	if m.MemoryThreshold == 0 {
		m.MemoryThreshold = defaultMemoryThreshold
	}
	if m.CheckInterval == 0 {
		m.CheckInterval = defaultMemoryInterval
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := infraconfig.ValidatePort("service.port", c.Service.Port); err != nil {
		return err
	}
	if err := infraconfig.ValidatePositive("service.queue_capacity", c.Service.QueueCapacity); err != nil {
		return err
	}
	if err := infraconfig.ValidatePositive("service.list_limit", c.Service.ListLimit); err != nil {
		return err
	}
	if err := infraconfig.ValidatePositive("service.required_actions", c.Service.RequiredActions); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageRedis:
		if err := infraconfig.ValidateRequired("redis.address", c.Redis.Address); err != nil {
			return err
		}
	default:
		return &infraconfig.ValidationError{Field: "storage.backend", Message: "must be memory or redis"}
	}

	if c.Events.Enabled && c.Redis.Address == "" {
		return &infraconfig.ValidationError{Field: "events.enabled", Message: "requires redis.address"}
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return &infraconfig.ValidationError{Field: "rate_limit.requests_per_second", Message: "must not be negative"}
	}
	if err := infraconfig.ValidatePositive("verify.max_attempts", c.Verify.MaxAttempts); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Storage.Backend == StorageRedis || c.Events.Enabled
}
