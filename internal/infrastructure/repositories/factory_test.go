package repositories

import (
	"context"
	"testing"

	"depthcap/internal/infrastructure/repositories/memory"
	"depthcap/pkg/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRepositoryFactory_MemoryWhenRedisDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	f := NewRepositoryFactory(cfg, zap.NewNop().Sugar())

	assert.False(t, f.UsingRedis())
	assert.IsType(t, &memory.MemorySpoolJournal{}, f.CreateSpoolJournal())
	assert.NoError(t, f.HealthCheck(context.Background()))
	assert.NoError(t, f.Close())
}

func TestRepositoryFactory_FallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f := NewRepositoryFactory(cfg, zap.NewNop().Sugar())

	assert.False(t, f.UsingRedis())
	assert.IsType(t, &memory.MemorySpoolJournal{}, f.CreateSpoolJournal())
}
