package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsynth/backend/pkg/config"
	"github.com/docsynth/backend/pkg/retry"
)

type cachedAnswer struct {
	Question string   `json:"question"`
	Themes   []string `json:"themes"`
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	c, err := NewClient(context.Background(), config.RedisConfig{Host: mr.Host(), Port: port}, time.Hour, retry.Policy{MaxAttempts: 1})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c, mr
}

func TestQueryCache_RoundTripIgnoresCaseAndSpacing(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	var got cachedAnswer
	hit, err := c.GetQuery(ctx, "What are the penalties?", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	want := cachedAnswer{Question: "What are the penalties?", Themes: []string{"Late fees"}}
	require.NoError(t, c.SetQuery(ctx, "What are the penalties?", want))

	hit, err = c.GetQuery(ctx, "  what ARE the   penalties?", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want, got)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, time.Hour, mr.TTL(keys[0]))
}

func TestInvalidateDocumentCache_KeepsOtherKeys(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetQuery(ctx, "one", cachedAnswer{Question: "one"}))
	require.NoError(t, c.SetQuery(ctx, "two", cachedAnswer{Question: "two"}))
	require.NoError(t, mr.Set("session:abc", "x"))

	require.NoError(t, c.InvalidateDocumentCache(ctx))

	var got cachedAnswer
	hit, err := c.GetQuery(ctx, "one", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	assert.Equal(t, []string{"session:abc"}, mr.Keys())
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	_, err = NewClient(context.Background(), config.RedisConfig{Host: mr.Host(), Port: port}, time.Minute,
		retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond})
	assert.ErrorContains(t, err, "failed to connect to redis")
}
