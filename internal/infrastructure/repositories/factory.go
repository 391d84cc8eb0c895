package repositories

import (
	"context"

	"depthcap/internal/core/ports"
	"depthcap/internal/infrastructure/repositories/memory"
	redisrepo "depthcap/internal/infrastructure/repositories/redis"
	"depthcap/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to
// in-memory repositories when it is unreachable.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.Connect(context.Background(), redisrepo.ClientConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory spool journal",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis spool journal")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory spool journal")
	}

	return factory
}

// CreateSpoolJournal creates a spool journal (Redis or memory with fallback)
func (f *RepositoryFactory) CreateSpoolJournal() ports.SpoolJournal {
	if f.useRedis && f.redisClient != nil {
		return NewGuardedSpoolJournal(
			redisrepo.NewRedisSpoolJournal(f.redisClient),
			DefaultJournalRetry(),
			DefaultJournalBreaker(),
			f.logger,
		)
	}
	return memory.NewMemorySpoolJournal()
}

// UsingRedis reports whether repositories are backed by Redis
func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsingRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
