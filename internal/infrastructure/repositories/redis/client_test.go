package redis

import (
	"context"
	"net"
	"testing"
	"time"

	apperrors "depthcap/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfig_Options(t *testing.T) {
	opts := ClientConfig{Address: "cache:6379", DB: 3}.options()
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 2, opts.PoolSize)
	assert.Equal(t, defaultConnectTimeout, opts.DialTimeout)

	opts = ClientConfig{PoolSize: 8, ConnectTimeout: time.Second}.options()
	assert.Equal(t, 8, opts.PoolSize)
	assert.Equal(t, time.Second, opts.DialTimeout)
}

func TestConnect_UnreachableStoreIsLocalIOError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	start := time.Now()
	client, err := Connect(context.Background(), ClientConfig{Address: addr, ConnectTimeout: 500 * time.Millisecond}, nil)
	assert.Nil(t, client)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeLocalIO))
	assert.Equal(t, addr, apperrors.GetAppError(err).Context["address"])
	assert.Less(t, time.Since(start), 5*time.Second)
}
