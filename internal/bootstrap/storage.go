package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	infraredis "github.com/jonesrussell/north-cloud/likechat/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/likechat/internal/config"
	"github.com/jonesrussell/north-cloud/likechat/internal/history"
	"github.com/jonesrussell/north-cloud/likechat/internal/progress"
	"github.com/jonesrussell/north-cloud/likechat/internal/queue"
)

// Stores holds the queue and progress stores plus the connections behind them.
type Stores struct {
	Queue    *queue.Queue
	Progress *progress.Store
	// Redis is nil unless a component needs it.
	Redis *redis.Client
}

// Close releases the Redis connection.
func (s *Stores) Close() error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Close()
}

// SetupStores opens Redis when configured and builds the queue and progress
// stores on the selected backend.
func SetupStores(ctx context.Context, cfg *config.Config, log infralogger.Logger) (*Stores, error) {
	s := &Stores{}
	if cfg.UsesRedis() {
		client, err := infraredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.Redis = client
		log.Info("Connected to Redis", infralogger.String("address", cfg.Redis.Address))
	}

	var (
		queueBackend    queue.Backend
		progressBackend progress.Backend
	)
	switch cfg.Storage.Backend {
	case config.StorageRedis:
		queueBackend = queue.NewRedisBackend(s.Redis, queue.NewKeys(cfg.Redis.KeyPrefix))
		progressBackend = progress.NewRedisBackend(s.Redis, progress.NewKeys(cfg.Redis.KeyPrefix))
	default:
		queueBackend = queue.NewMemoryBackend()
		progressBackend = progress.NewMemoryBackend()
	}

	q, err := queue.New(queueBackend, queue.Options{
		Capacity:  cfg.Service.QueueCapacity,
		ListLimit: cfg.Service.ListLimit,
	}, log)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create queue: %w", err)
	}
	s.Queue = q
	s.Progress = progress.New(progressBackend, nil, log)

	log.Info("Stores initialized",
		infralogger.String("backend", cfg.Storage.Backend),
		infralogger.Int("capacity", q.Capacity()),
	)
	return s, nil
}

// SetupDatabase connects the history database. It returns nil when the
// database is disabled.
func SetupDatabase(ctx context.Context, cfg *config.Config, log infralogger.Logger) (*sqlx.DB, error) {
	if !cfg.Database.Enabled {
		log.Info("History database disabled")
		return nil, nil
	}
	db, err := history.Connect(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info("Connected to history database",
		infralogger.String("host", cfg.Database.Host),
		infralogger.String("database", cfg.Database.Database),
	)
	return db, nil
}
