package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrCacheMiss indicates no live entry exists for the requested key.
var ErrCacheMiss = errors.New("cache miss")

// Redis key prefixes for entries and per-fingerprint claims.
const (
	entryKeyPrefix = "serp:cache:"
	claimKeyPrefix = "serp:claim:"
)

// Manager handles response store operations against Redis.
type Manager struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewManager creates a response store manager.
func NewManager(redisClient *redis.Client, logger zerolog.Logger) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis:  redisClient,
		logger: logger,
	}
}

// Get retrieves the live entry for (client, key).
// Returns ErrCacheMiss when no entry exists. A corrupted entry is logged
// and reported as a miss; lookups never fail on decode problems.
func (m *Manager) Get(ctx context.Context, client, key string) (*Entry, error) {
	data, err := m.redis.Get(ctx, entryKey(client, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			Misses.Inc()
			return nil, ErrCacheMiss
		}
		Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		Errors.WithLabelValues("get").Inc()
		m.logger.Error().
			Err(err).
			Str("client", client).
			Str("cache_key", key).
			Msg("Corrupted cache entry, treating as miss")
		Misses.Inc()
		return nil, ErrCacheMiss
	}

	Hits.WithLabelValues(client).Inc()
	return &entry, nil
}

// Put writes an entry, replacing any live entry under the same
// (ClientName, CacheKey). A zero TTL stores the entry without expiry.
func (m *Manager) Put(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.ClientName == "" || entry.CacheKey == "" {
		return fmt.Errorf("cache entry requires client name and cache key")
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		Errors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, entryKey(entry.ClientName, entry.CacheKey), data, entry.TTL).Err(); err != nil {
		Errors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	Writes.WithLabelValues(entry.ClientName).Inc()
	WrittenBytes.WithLabelValues(entry.ClientName).Add(float64(len(data)))

	m.logger.Debug().
		Str("client", entry.ClientName).
		Str("cache_key", entry.CacheKey).
		Str("endpoint", entry.Endpoint).
		Dur("ttl", entry.TTL).
		Msg("Cached response")
	return nil
}

// Delete removes the live entry for (client, key).
func (m *Manager) Delete(ctx context.Context, client, key string) error {
	if err := m.redis.Del(ctx, entryKey(client, key)).Err(); err != nil {
		Errors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Claim takes a short-lease advisory claim on a fingerprint so concurrent
// identical misses collapse to one upstream call. Returns false when another
// caller already holds the claim. The claim expires on its own; holding it
// is best-effort and never required for correctness.
func (m *Manager) Claim(ctx context.Context, client, key string, lease time.Duration) (bool, error) {
	ok, err := m.redis.SetNX(ctx, claimKey(client, key), 1, lease).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx claim: %w", err)
	}
	return ok, nil
}

// Unclaim releases a claim before its lease expires.
func (m *Manager) Unclaim(ctx context.Context, client, key string) error {
	if err := m.redis.Del(ctx, claimKey(client, key)).Err(); err != nil {
		return fmt.Errorf("redis del claim: %w", err)
	}
	return nil
}

func entryKey(client, key string) string {
	return entryKeyPrefix + client + ":" + key
}

func claimKey(client, key string) string {
	return claimKeyPrefix + client + ":" + key
}
