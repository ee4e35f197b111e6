package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sophanos/saga-sub015/internal/testutil"
)

func TestRedisCacheRepo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)
	defer client.Close()

	repo := NewRedisCacheRepo(client)
	ctx := context.Background()

	t.Run("set get delete", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "saga:test:1", []byte("v"), time.Minute))
		got, err := repo.Get(ctx, "saga:test:1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		ttl := client.TTL(ctx, "saga:test:1").Val()
		assert.True(t, ttl > 0 && ttl <= time.Minute)

		deleted, err := repo.Delete(ctx, "saga:test:1")
		require.NoError(t, err)
		assert.True(t, deleted)

		got, err = repo.Get(ctx, "saga:test:1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("set if not exists", func(t *testing.T) {
		ok, err := repo.SetIfNotExists(ctx, "saga:lock", []byte("a"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.SetIfNotExists(ctx, "saga:lock", []byte("b"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("release only by owner", func(t *testing.T) {
		_, err := repo.SetIfNotExists(ctx, "saga:owned", []byte("token-a"), time.Minute)
		require.NoError(t, err)

		released, err := repo.ReleaseIfOwner(ctx, "saga:owned", []byte("token-b"))
		require.NoError(t, err)
		assert.False(t, released)

		released, err = repo.ReleaseIfOwner(ctx, "saga:owned", []byte("token-a"))
		require.NoError(t, err)
		assert.True(t, released)
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := repo.Get(ctx, "")
		assert.Error(t, err)
	})

	require.NoError(t, repo.Health(ctx))
}
