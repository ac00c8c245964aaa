package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func backends(t *testing.T) map[string]Cache {
	t.Helper()

	mr := miniredis.RunT(t)
	rc, err := NewRedis(RedisConfig{Addr: mr.Addr(), DefaultTTL: time.Hour}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	mem := NewMemory(time.Hour, zap.NewNop())
	t.Cleanup(func() { mem.Close() })

	return map[string]Cache{"memory": mem, "redis": rc}
}

func TestCache_SetGet(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, c.SetDefault(ctx, "greeting", "hello"))
			val, err := c.Get(ctx, "greeting")
			require.NoError(t, err)
			assert.Equal(t, "hello", val)
		})
	}
}

func TestCache_MissAndDelete(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := c.Get(ctx, "absent")
			assert.True(t, IsCacheMiss(err))

			require.NoError(t, c.SetDefault(ctx, "doomed", "x"))
			require.NoError(t, c.Delete(ctx, "doomed"))
			_, err = c.Get(ctx, "doomed")
			assert.True(t, IsCacheMiss(err))
		})
	}
}

func TestCache_ClosedRejects(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Close())
			require.NoError(t, c.Close()) // 幂等

			_, err := c.Get(context.Background(), "k")
			assert.ErrorIs(t, err, ErrCacheClosed)
			assert.ErrorIs(t, c.SetDefault(context.Background(), "k", "v"), ErrCacheClosed)
		})
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory(time.Hour, zap.NewNop())
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "short", "lived", 20*time.Millisecond))

	val, err := m.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, "lived", val)

	time.Sleep(30 * time.Millisecond)
	_, err = m.Get(ctx, "short")
	assert.True(t, IsCacheMiss(err))
}

func TestRedis_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedis(RedisConfig{Addr: mr.Addr(), DefaultTTL: time.Hour}, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "short", "lived", time.Second))

	mr.FastForward(2 * time.Second)
	_, err = c.Get(ctx, "short")
	assert.True(t, IsCacheMiss(err))
}

func TestNewRedis_UnreachableFails(t *testing.T) {
	_, err := NewRedis(RedisConfig{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Error(t, err)
}

type countingRecorder struct {
	hits   map[string]int
	misses map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{hits: map[string]int{}, misses: map[string]int{}}
}

func (r *countingRecorder) RecordCacheHit(backend string)  { r.hits[backend]++ }
func (r *countingRecorder) RecordCacheMiss(backend string) { r.misses[backend]++ }

func TestInstrumented_CountsHitsAndMisses(t *testing.T) {
	rec := newCountingRecorder()
	c := NewInstrumented(NewMemory(time.Hour, zap.NewNop()), rec, "memory")
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.SetDefault(ctx, "present", "v"))

	_, err := c.Get(ctx, "present")
	require.NoError(t, err)
	_, err = c.Get(ctx, "absent")
	assert.True(t, IsCacheMiss(err))
	_, err = c.Get(ctx, "absent")
	assert.True(t, IsCacheMiss(err))

	assert.Equal(t, 1, rec.hits["memory"])
	assert.Equal(t, 2, rec.misses["memory"])
}

func TestInstrumented_ClosedErrorIsNotAMiss(t *testing.T) {
	rec := newCountingRecorder()
	mem := NewMemory(time.Hour, zap.NewNop())
	c := NewInstrumented(mem, rec, "memory")
	require.NoError(t, c.Close())

	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheClosed)
	assert.Empty(t, rec.misses)
}
