// Package task persists pending asynchronous provider tasks so that a
// later delivery can be reconciled back to the cache entry the original
// request was fingerprinted under.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound indicates no pending task exists for the requested id.
var ErrNotFound = errors.New("pending task not found")

const redisKeyPrefix = "serp:task:"

// Pending is a provider task awaiting delivery.
// The cache key is computed at creation time from the search parameters
// only; delivery flags never contribute to it.
type Pending struct {
	TaskID     string    `json:"task_id"`
	ClientName string    `json:"client_name"`
	CacheKey   string    `json:"cache_key"`
	Endpoint   string    `json:"endpoint"`
	Version    string    `json:"version"`
	Credits    string    `json:"credits,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists pending tasks in Redis.
//
// Records are stored without expiry: the design defines no reconciliation
// timeout for tasks that never receive a delivery. Delete exists so an
// operator can garbage-collect out of band.
type Store struct {
	redis *redis.Client
}

// NewStore creates a pending-task store.
func NewStore(redisClient *redis.Client) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Store{redis: redisClient}
}

// Put records a pending task, overwriting any record with the same id.
func (s *Store) Put(ctx context.Context, p *Pending) error {
	if p == nil {
		return fmt.Errorf("pending task cannot be nil")
	}
	if p.TaskID == "" || p.ClientName == "" {
		return fmt.Errorf("pending task requires task id and client name")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending task: %w", err)
	}
	if err := s.redis.Set(ctx, taskKey(p.ClientName, p.TaskID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get retrieves a pending task by id. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, client, taskID string) (*Pending, error) {
	data, err := s.redis.Get(ctx, taskKey(client, taskID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var p Pending
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pending task: %w", err)
	}
	return &p, nil
}

// Delete removes a pending task record.
func (s *Store) Delete(ctx context.Context, client, taskID string) error {
	if err := s.redis.Del(ctx, taskKey(client, taskID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func taskKey(client, taskID string) string {
	return redisKeyPrefix + client + ":" + taskID
}
