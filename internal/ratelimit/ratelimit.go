// Package ratelimit implements the FIFO sliding-window limiter described for
// debrid-client traffic: a named scope (e.g. "global", "torrent") tracks the
// timestamps of its recent acquisitions and blocks callers once the window is
// full, until the oldest timestamp ages out.
//
// This is deliberately not built on golang.org/x/time/rate: that package
// implements a token bucket, which doesn't give the explicit "N requests per
// rolling window, sleep until the oldest falls out" behavior the debrid
// clients rely on.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Scope names used by debrid clients.
const (
	ScopeGlobal  = "global"
	ScopeTorrent = "torrent"
)

type window struct {
	mu         sync.Mutex
	limit      int
	period     time.Duration
	timestamps []time.Time
}

// Limiter maintains one FIFO window per named scope.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Config describes the limit and period for a single scope.
type Config struct {
	Limit  int
	Period time.Duration
}

// DefaultConfigs returns 250 req/60s for "global" and 1 req/1s for
// "torrent" (the latter applied only to URLs whose path contains "torrents").
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		ScopeGlobal:  {Limit: 250, Period: 60 * time.Second},
		ScopeTorrent: {Limit: 1, Period: time.Second},
	}
}

// New creates a Limiter from the given per-scope configuration.
func New(configs map[string]Config) *Limiter {
	l := &Limiter{windows: make(map[string]*window, len(configs))}
	for scope, cfg := range configs {
		l.windows[scope] = &window{limit: cfg.Limit, period: cfg.Period}
	}
	return l
}

// ScopeForURL returns ScopeTorrent if the URL path contains "torrents",
// otherwise ScopeGlobal.
func ScopeForURL(url string) string {
	if strings.Contains(url, "torrents") {
		return ScopeTorrent
	}
	return ScopeGlobal
}

// Acquire blocks (respecting ctx) until a slot in the named scope's window is
// available, then records the acquisition. Unknown scopes are treated as
// unbounded (no-op) so callers don't need every scope configured.
func (l *Limiter) Acquire(ctx context.Context, scope string) error {
	l.mu.Lock()
	w, ok := l.windows[scope]
	l.mu.Unlock()
	if !ok {
		return nil
	}

	for {
		w.mu.Lock()
		now := time.Now()
		w.prune(now)
		if len(w.timestamps) < w.limit {
			w.timestamps = append(w.timestamps, now)
			w.mu.Unlock()
			return nil
		}
		oldest := w.timestamps[0]
		wait := w.period - now.Sub(oldest)
		w.mu.Unlock()
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops timestamps older than period. Caller must hold w.mu.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.period)
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		w.timestamps = w.timestamps[i:]
	}
}
