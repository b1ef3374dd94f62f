package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/agentflow/interfaces"
)

var _ interfaces.SessionStore = (*Store)(nil)

func TestSetGetDelete(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "sess-1", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "sess-1", "planning_context", map[string]interface{}{"env": "prod"}))

	v, ok, err := s.Get(ctx, "sess-1", "planning_context")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"env": "prod"}, v)

	require.NoError(t, s.Delete(ctx, "sess-1", "planning_context"))
	_, ok, err = s.Get(ctx, "sess-1", "planning_context")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionsAreIsolated(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", "key", "value-a"))
	require.NoError(t, s.Set(ctx, "b", "key", "value-b"))

	v, ok, err := s.Get(ctx, "a", "key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value-a", v)

	s.DeleteSession("a")
	_, ok, _ = s.Get(ctx, "a", "key")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "b", "key")
	assert.True(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	s := New(WithTTL(10 * time.Millisecond))
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "sess", "key", "value"))
	_, ok, _ := s.Get(ctx, "sess", "key")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok, err := s.Get(ctx, "sess", "key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweep(t *testing.T) {
	s := New(WithTTL(5 * time.Millisecond))
	defer s.Close()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, "sess", key, key))
	}
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Set(ctx, "sess", "fresh", "still here"))

	assert.Equal(t, 3, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestBackgroundSweeper(t *testing.T) {
	s := New(WithTTL(5*time.Millisecond), WithSweepInterval(5*time.Millisecond))
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "sess", "key", "value"))
	assert.Eventually(t, func() bool {
		return s.Len() == 0
	}, time.Second, 5*time.Millisecond)
}
