package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/agentflow/errors"
	"github.com/kart-io/agentflow/interfaces"
)

var _ interfaces.SessionStore = (*Store)(nil)

func testStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := NewFromClient(client, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestSetGetDelete(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "sess-1", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "sess-1", "planning_context", map[string]interface{}{
		"environment": "production",
		"retries":     float64(3),
	}))

	v, ok, err := s.Get(ctx, "sess-1", "planning_context")
	require.NoError(t, err)
	require.True(t, ok)
	got, ok := v.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "production", got["environment"])
	assert.Equal(t, float64(3), got["retries"])

	require.NoError(t, s.Delete(ctx, "sess-1", "planning_context"))
	_, ok, err = s.Get(ctx, "sess-1", "planning_context")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyLayout(t *testing.T) {
	s, mr := testStore(t, WithPrefix("custom"))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "sess", "key", "value"))
	assert.True(t, mr.Exists("custom:sess:key"))
}

func TestTTLApplied(t *testing.T) {
	s, mr := testStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "sess", "key", "value"))
	ttl := mr.TTL("agentflow:session:sess:key")
	assert.Greater(t, ttl, time.Duration(0))

	// Expiry removes the entry.
	mr.FastForward(2 * time.Minute)
	_, ok, err := s.Get(ctx, "sess", "key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteSession(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, "sess-1", key, key))
	}
	require.NoError(t, s.Set(ctx, "sess-2", "a", "other"))

	require.NoError(t, s.DeleteSession(ctx, "sess-1"))

	for _, key := range []string{"a", "b", "c"} {
		_, ok, err := s.Get(ctx, "sess-1", key)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	_, ok, err := s.Get(ctx, "sess-2", "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCorruptValueSurfacesSerializationError(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("agentflow:session:sess:key", "{not json"))
	_, _, err := s.Get(ctx, "sess", "key")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStoreSerialization))
}

func TestConnectionFailure(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()

	mr.Close()
	err := s.Set(ctx, "sess", "key", "value")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStoreConnection))
}

func TestPing(t *testing.T) {
	s, mr := testStore(t)
	require.NoError(t, s.Ping(context.Background()))
	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}
