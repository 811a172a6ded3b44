// Package cache implements the shared cache store: a Redis-backed
// key/value+TTL store with non-blocking distributed locks. The Store
// prefers Redis when configured, falls back to an on-disk BadgerDB tier so
// cached media/stream results survive a restart on a single-node
// deployment, and only drops to pure in-process go-cache when neither is
// configured.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// InvalidationsChannel is the pub/sub channel a process publishes to when it
// sets a cache-invalidation flag (force_refresh:all, global_update_needed:*),
// so any other process sharing this Redis can react immediately instead of
// only discovering the flag on its next read.
const InvalidationsChannel = "invalidations"

// Store is the shared KV+TTL+lock backend used by the orchestrator and
// playback resolver.
type Store struct {
	rdb    *redis.Client
	bdb    *badger.DB
	local  *gocache.Cache
	logger *zap.Logger
}

// New builds a Store. bdb may be nil (pure in-memory operation); rdb may be
// nil (single-node operation, locks degrade to in-process mutual exclusion).
func New(rdb *redis.Client, bdb *badger.DB, logger *zap.Logger) *Store {
	return &Store{
		rdb:    rdb,
		bdb:    bdb,
		local:  gocache.New(30*time.Minute, 10*time.Minute),
		logger: logger,
	}
}

// OpenBadger opens (creating if needed) the on-disk BadgerDB used as the
// persistent fallback tier when no Redis address is configured.
func OpenBadger(path string, logger *zap.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(newBadgerLogger(logger)).
		WithLoggingLevel(badger.WARNING).
		WithSyncWrites(false)
	return badger.Open(opts)
}

// SetJSON JSON-encodes v and stores it under key with the given TTL (0
// means no expiry).
func (s *Store) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("couldn't encode value for %q: %w", key, err)
	}
	if s.rdb != nil {
		return s.rdb.Set(ctx, key, b, ttl).Err()
	}
	if s.bdb != nil {
		return s.bdb.Update(func(txn *badger.Txn) error {
			e := badger.NewEntry([]byte(key), b)
			if ttl > 0 {
				e = e.WithTTL(ttl)
			}
			return txn.SetEntry(e)
		})
	}
	s.local.Set(key, b, ttl)
	return nil
}

// GetJSON decodes the stored JSON value for key into target. found is false
// when the key doesn't exist (or has expired); this is not an error.
func (s *Store) GetJSON(ctx context.Context, key string, target interface{}) (found bool, err error) {
	var b []byte
	switch {
	case s.rdb != nil:
		v, err := s.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return false, nil
		} else if err != nil {
			return false, err
		}
		b = []byte(v)
	case s.bdb != nil:
		err := s.bdb.View(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(key))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				b = append([]byte(nil), val...)
				return nil
			})
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		} else if err != nil {
			return false, err
		}
	default:
		vi, ok := s.local.Get(key)
		if !ok {
			return false, nil
		}
		b = vi.([]byte)
	}
	if err := json.Unmarshal(b, target); err != nil {
		return true, fmt.Errorf("couldn't decode value for %q: %w", key, err)
	}
	return true, nil
}

// SetFlag writes a presence-only marker (e.g. working:<store>:<hash>,
// force_refresh:all) with the given TTL.
func (s *Store) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	return s.SetJSON(ctx, key, true, ttl)
}

// HasFlag reports whether a marker set by SetFlag is still present.
func (s *Store) HasFlag(ctx context.Context, key string) (bool, error) {
	var v bool
	found, err := s.GetJSON(ctx, key, &v)
	return found, err
}

// Delete removes key unconditionally.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.rdb != nil {
		return s.rdb.Del(ctx, key).Err()
	}
	if s.bdb != nil {
		return s.bdb.Update(func(txn *badger.Txn) error {
			err := txn.Delete([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		})
	}
	s.local.Delete(key)
	return nil
}

// AcquireLock attempts a non-blocking SETNX-style lock with the given TTL.
// Returns false, nil if the lock is already held by someone else.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if s.rdb != nil {
		return s.rdb.SetNX(ctx, key, "1", ttl).Result()
	}
	if _, ok := s.local.Get(key); ok {
		return false, nil
	}
	s.local.Set(key, "1", ttl)
	return true, nil
}

// ReleaseLock drops a previously acquired lock.
func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	return s.Delete(ctx, key)
}

// PollUntil polls key every interval until found, ctx is done, or deadline
// elapses, decoding into target on success.
func (s *Store) PollUntil(ctx context.Context, key string, target interface{}, interval, deadline time.Duration) (bool, error) {
	timeout := time.After(deadline)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		found, err := s.GetJSON(ctx, key, target)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timeout:
			return false, nil
		case <-ticker.C:
		}
	}
}

// Publish broadcasts message on channel so any other process sharing this
// Redis can react to a cache invalidation instead of only discovering it on
// its next read. A no-op when no
// Redis is configured: a single-node deployment has nothing else to notify.
func (s *Store) Publish(ctx context.Context, channel, message string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe opens a Redis subscription on channel, returning the message
// stream and its Closer. Returns a nil channel and nil closer when no Redis
// is configured, since there is no cross-process bus to subscribe to.
func (s *Store) Subscribe(ctx context.Context, channel string) (<-chan *redis.Message, io.Closer, error) {
	if s.rdb == nil {
		return nil, nil, nil
	}
	sub := s.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	return sub.Channel(), sub, nil
}

