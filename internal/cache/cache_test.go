package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	ID    string `json:"id"`
	RegNo string `json:"regNo"`
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	var got []entry
	hit, err := c.GetJSON(ctx, "roster:sem1", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.SetJSON(ctx, "roster:sem1", []entry{{ID: "a", RegNo: "7"}}, 0))
	hit, err = c.GetJSON(ctx, "roster:sem1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []entry{{ID: "a", RegNo: "7"}}, got)

	require.NoError(t, c.Del(ctx, "roster:sem1"))
	hit, _ = c.GetJSON(ctx, "roster:sem1", &got)
	assert.False(t, hit)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "k", 1, 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	var v int
	hit, err := c.GetJSON(ctx, "k", &v)
	require.NoError(t, err)
	assert.False(t, hit)
}
