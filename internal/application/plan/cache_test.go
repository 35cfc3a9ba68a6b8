package plan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	payload := []byte(`{"summary":{"goal":"bulk"}}`)

	require.NoError(t, c.Set(ctx, "fp", payload, time.Hour))

	got, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache()
	_, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	now := time.Now()
	c.SetClock(func() time.Time { return now })
	require.NoError(t, c.Set(ctx, "fp", []byte("v"), 24*time.Hour))

	_, ok, _ := c.Get(ctx, "fp")
	assert.True(t, ok)

	// TTL 内仍命中
	now = now.Add(23 * time.Hour)
	_, ok, _ = c.Get(ctx, "fp")
	assert.True(t, ok)

	// TTL 过后失效
	now = now.Add(2 * time.Hour)
	_, ok, _ = c.Get(ctx, "fp")
	assert.False(t, ok)
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "fp", []byte("v"), time.Hour))
	require.NoError(t, c.Delete(ctx, "fp"))

	_, ok, _ := c.Get(ctx, "fp")
	assert.False(t, ok)
}

func TestMemoryCacheOverwrite(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "fp", []byte("old"), time.Hour))
	require.NoError(t, c.Set(ctx, "fp", []byte("new"), time.Hour))

	got, ok, _ := c.Get(ctx, "fp")
	assert.True(t, ok)
	assert.Equal(t, []byte("new"), got)
}
