package cache

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/recordkeeper/pkg/config"
)

func TestOptionsFailFast(t *testing.T) {
	opts := options(config.RedisConfig{Host: "cache.local", Port: 6380, Password: "pw", DB: 2})

	assert.Equal(t, "cache.local:6380", opts.Addr)
	assert.Equal(t, "recordkeeper", opts.ClientName)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 1, opts.MaxRetries)
	assert.LessOrEqual(t, opts.ReadTimeout, time.Second)
	assert.LessOrEqual(t, opts.WriteTimeout, time.Second)
}

func TestNewRedisUnreachable(t *testing.T) {
	// grab a free port and release it so nothing is listening there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	start := time.Now()
	client, err := NewRedis(config.RedisConfig{Host: "127.0.0.1", Port: port})

	assert.Nil(t, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile cache unavailable at 127.0.0.1:")
	assert.Less(t, time.Since(start), 5*time.Second)
}
