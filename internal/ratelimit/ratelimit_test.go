package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireAllowsUpToLimit(t *testing.T) {
	l := New(map[string]Config{"scope": {Limit: 2, Period: time.Minute}})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Acquire(ctx, "scope"))
	require.NoError(t, l.Acquire(ctx, "scope"))
	require.Error(t, l.Acquire(ctx, "scope")) // third blocks until ctx deadline
}

func TestAcquireUnknownScopeIsNoop(t *testing.T) {
	l := New(map[string]Config{"scope": {Limit: 1, Period: time.Minute}})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx, "other"))
	}
}

func TestAcquireUnblocksAfterWindowAges(t *testing.T) {
	l := New(map[string]Config{"scope": {Limit: 1, Period: 50 * time.Millisecond}})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Acquire(ctx, "scope"))
	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "scope"))
	require.True(t, time.Since(start) >= 40*time.Millisecond)
}

func TestScopeForURL(t *testing.T) {
	require.Equal(t, ScopeTorrent, ScopeForURL("https://api.example.com/torrents/add"))
	require.Equal(t, ScopeGlobal, ScopeForURL("https://api.example.com/user"))
}
