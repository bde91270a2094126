package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis creates a test Redis client for unit tests. Tests are
// skipped when no local Redis is available; the integration suite covers
// the same paths against a containerized instance.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(setupTestRedis(t), zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil, zerolog.Nop())
}

func TestManager_PutAndGet(t *testing.T) {
	manager := testManager(t)
	ctx := context.Background()

	cost := 0.0025
	entry := &Entry{
		ClientName:  "dataforseo",
		CacheKey:    "abc123",
		Endpoint:    "serp/google/organic/task_post",
		Version:     "v3",
		Params:      map[string]any{"keyword": "go caching"},
		RawResponse: []byte(`{"status_code":20000}`),
		Cost:        &cost,
		TaskID:      "00000000-0000-0000-0000-000000000001",
		Credits:     "2",
	}

	if err := manager.Put(ctx, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := manager.Get(ctx, "dataforseo", "abc123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if string(got.RawResponse) != string(entry.RawResponse) {
		t.Errorf("RawResponse mismatch: got %s, want %s", got.RawResponse, entry.RawResponse)
	}
	if got.Endpoint != entry.Endpoint {
		t.Errorf("Endpoint = %q, want %q", got.Endpoint, entry.Endpoint)
	}
	if got.Cost == nil || *got.Cost != cost {
		t.Errorf("Cost = %v, want %v", got.Cost, cost)
	}
	if got.TaskID != entry.TaskID {
		t.Errorf("TaskID = %q, want %q", got.TaskID, entry.TaskID)
	}
	if got.StoredAt.IsZero() {
		t.Error("StoredAt should be set on Put")
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	manager := testManager(t)

	_, err := manager.Get(context.Background(), "dataforseo", "nonexistent")
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

// TestManager_Put_Upsert verifies cache idempotence: a second write under
// the same (client, key) leaves exactly one live entry holding the latest
// payload.
func TestManager_Put_Upsert(t *testing.T) {
	manager := testManager(t)
	ctx := context.Background()

	first := &Entry{
		ClientName:  "dataforseo",
		CacheKey:    "abc123",
		RawResponse: []byte(`{"pending":true}`),
	}
	if err := manager.Put(ctx, first); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}

	second := &Entry{
		ClientName:  "dataforseo",
		CacheKey:    "abc123",
		RawResponse: []byte(`{"result":"final"}`),
	}
	if err := manager.Put(ctx, second); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := manager.Get(ctx, "dataforseo", "abc123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.RawResponse) != `{"result":"final"}` {
		t.Errorf("Get returned %s, want the overwritten payload", got.RawResponse)
	}
}

func TestManager_Get_CorruptedEntry(t *testing.T) {
	redisClient := setupTestRedis(t)
	manager := NewManager(redisClient, zerolog.New(os.Stderr).Level(zerolog.Disabled))
	ctx := context.Background()

	// Write garbage where an entry should be. Lookups must degrade to a
	// miss, never raise.
	if err := redisClient.Set(ctx, entryKey("dataforseo", "bad"), "not json", 0).Err(); err != nil {
		t.Fatalf("seed corrupted entry: %v", err)
	}

	_, err := manager.Get(ctx, "dataforseo", "bad")
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss for corrupted entry, got %v", err)
	}
}

func TestManager_Put_TTL(t *testing.T) {
	redisClient := setupTestRedis(t)
	manager := NewManager(redisClient, zerolog.New(os.Stderr).Level(zerolog.Disabled))
	ctx := context.Background()

	entry := &Entry{
		ClientName:  "dataforseo",
		CacheKey:    "expiring",
		RawResponse: []byte(`{}`),
		TTL:         time.Hour,
	}
	if err := manager.Put(ctx, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ttl, err := redisClient.TTL(ctx, entryKey("dataforseo", "expiring")).Result()
	if err != nil {
		t.Fatalf("TTL lookup failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("stored TTL = %v, want (0, 1h]", ttl)
	}

	// Zero TTL means no expiry.
	forever := &Entry{
		ClientName:  "dataforseo",
		CacheKey:    "forever",
		RawResponse: []byte(`{}`),
	}
	if err := manager.Put(ctx, forever); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	ttl, err = redisClient.TTL(ctx, entryKey("dataforseo", "forever")).Result()
	if err != nil {
		t.Fatalf("TTL lookup failed: %v", err)
	}
	// Redis reports a negative TTL for keys without expiry.
	if ttl > 0 {
		t.Errorf("entry without TTL got expiry %v", ttl)
	}
}

func TestManager_Put_Validation(t *testing.T) {
	manager := testManager(t)
	ctx := context.Background()

	if err := manager.Put(ctx, nil); err == nil {
		t.Error("Put(nil) should return error")
	}
	if err := manager.Put(ctx, &Entry{CacheKey: "k"}); err == nil {
		t.Error("Put without client name should return error")
	}
	if err := manager.Put(ctx, &Entry{ClientName: "c"}); err == nil {
		t.Error("Put without cache key should return error")
	}
}

func TestManager_Delete(t *testing.T) {
	manager := testManager(t)
	ctx := context.Background()

	entry := &Entry{
		ClientName:  "dataforseo",
		CacheKey:    "abc123",
		RawResponse: []byte(`{}`),
	}
	if err := manager.Put(ctx, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := manager.Delete(ctx, "dataforseo", "abc123"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := manager.Get(ctx, "dataforseo", "abc123"); err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestManager_Claim(t *testing.T) {
	manager := testManager(t)
	ctx := context.Background()

	ok, err := manager.Claim(ctx, "dataforseo", "abc123", time.Minute)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if !ok {
		t.Fatal("first Claim should succeed")
	}

	ok, err = manager.Claim(ctx, "dataforseo", "abc123", time.Minute)
	if err != nil {
		t.Fatalf("second Claim failed: %v", err)
	}
	if ok {
		t.Error("second Claim should be refused while the lease is held")
	}

	if err := manager.Unclaim(ctx, "dataforseo", "abc123"); err != nil {
		t.Fatalf("Unclaim failed: %v", err)
	}

	ok, err = manager.Claim(ctx, "dataforseo", "abc123", time.Minute)
	if err != nil {
		t.Fatalf("Claim after Unclaim failed: %v", err)
	}
	if !ok {
		t.Error("Claim after Unclaim should succeed")
	}
}
