package lease

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRedisLocker(t *testing.T) {
	client := setupRedis(t)
	locker := NewRedisLocker(client)
	ctx := t.Context()

	require.NoError(t, locker.HealthCheck(ctx))

	token, ok, err := locker.Acquire(ctx, "exec-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.Acquire(ctx, "exec-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.PTTL(ctx, keyPrefix+"exec-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	assert.ErrorIs(t, locker.Release(ctx, "exec-1", "stale-token"), ErrNotHeld)
	require.NoError(t, locker.Release(ctx, "exec-1", token))

	_, ok, err = locker.Acquire(ctx, "exec-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_Expiry(t *testing.T) {
	client := setupRedis(t)
	locker := NewRedisLocker(client)
	ctx := t.Context()

	_, ok, err := locker.Acquire(ctx, "tick", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok, err := locker.Acquire(ctx, "tick", time.Minute)

		return err == nil && ok
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRedisLocker_Extend(t *testing.T) {
	client := setupRedis(t)
	locker := NewRedisLocker(client)
	ctx := t.Context()

	token, ok, err := locker.Acquire(ctx, "exec-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locker.Extend(ctx, "exec-1", token, time.Minute))

	ttl, err := client.PTTL(ctx, keyPrefix+"exec-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	assert.ErrorIs(t, locker.Extend(ctx, "exec-1", "stale-token", time.Minute), ErrNotHeld)
	assert.ErrorIs(t, locker.Extend(ctx, "missing", token, time.Minute), ErrNotHeld)
}
