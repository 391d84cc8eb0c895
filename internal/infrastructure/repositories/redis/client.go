package redis

import (
	"context"
	"time"

	apperrors "depthcap/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultConnectTimeout = 5 * time.Second

// ClientConfig describes the Redis instance holding the spool journal
type ClientConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	// ConnectTimeout bounds the first ping and the schema migration. Zero
	// means five seconds.
	ConnectTimeout time.Duration
}

// options sizes the pool for the journal's traffic: one small command per
// spooled or uploaded frame, issued by at most two stages at a time.
func (c ClientConfig) options() *redis.Options {
	poolSize := c.PoolSize
	if poolSize <= 0 {
		poolSize = 2
	}
	return &redis.Options{
		Addr:         c.Address,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     poolSize,
		MinIdleConns: 1,
		MaxRetries:   1,
		DialTimeout:  c.connectTimeout(),
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

func (c ClientConfig) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return defaultConnectTimeout
}

// Connect dials the journal store and brings its schema up to date. The
// client is closed again when either step fails.
func Connect(ctx context.Context, cfg ClientConfig, logger *zap.SugaredLogger) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.connectTimeout())
	defer cancel()

	client := redis.NewClient(cfg.options())

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperrors.NewLocalIOError("journal store unreachable", err).WithContext("address", cfg.Address)
	}
	if err := Migrate(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, apperrors.NewLocalIOError("migrate journal schema", err).WithContext("address", cfg.Address)
	}

	if logger != nil {
		logger.Infow("spool journal store connected", "address", cfg.Address, "db", cfg.DB)
	}
	return client, nil
}
