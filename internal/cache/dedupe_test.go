package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDedupe(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewMemoryDedupe(time.Minute)
	d.now = func() time.Time { return now }

	seen, err := d.Seen(ctx, "PRV-1:SUCCESS")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "PRV-1:SUCCESS"))

	seen, err = d.Seen(ctx, "PRV-1:SUCCESS")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = d.Seen(ctx, "PRV-1:FAILED")
	require.NoError(t, err)
	assert.False(t, seen, "status is part of the key")

	now = now.Add(2 * time.Minute)
	seen, err = d.Seen(ctx, "PRV-1:SUCCESS")
	require.NoError(t, err)
	assert.False(t, seen, "entry expires after ttl")
}

func TestNewRedisDedupe_Prefix(t *testing.T) {
	assert.Equal(t, "wallet:webhook:k", NewRedisDedupe(nil, "", time.Minute).key("k"))
	assert.Equal(t, "svc:k", NewRedisDedupe(nil, "svc:", time.Minute).key("k"))
}
