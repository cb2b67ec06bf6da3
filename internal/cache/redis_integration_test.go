//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

func TestRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	addr, err := ctr.PortEndpoint(ctx, "6379/tcp", "")
	require.NoError(t, err)

	client, err := NewClient(ctx, Config{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedis(client, zaptest.NewLogger(t))
	require.NoError(t, c.Ping(ctx))

	_, ok, err := c.Get(ctx, "address:suggest:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "address:suggest:main st", []byte(`["1 Main St"]`), time.Minute))
	got, ok, err := c.Get(ctx, "address:suggest:main st")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["1 Main St"]`, string(got))

	ttl, err := client.TTL(ctx, "address:suggest:main st").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestNewClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := NewClient(ctx, Config{Addr: "127.0.0.1:1"})
	require.Error(t, err)
}
