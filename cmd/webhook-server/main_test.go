package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/serpcache/serp-api-client/pkg/cache"
	"github.com/serpcache/serp-api-client/pkg/errlog"
	"github.com/serpcache/serp-api-client/pkg/fingerprint"
	"github.com/serpcache/serp-api-client/pkg/task"
	"github.com/serpcache/serp-api-client/pkg/webhook"
)

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

func setupReconciler(t *testing.T) *webhook.Reconciler {
	t.Helper()

	redisClient := setupTestRedis(t)
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	r, err := webhook.NewReconciler(webhook.Config{
		Store:  cache.NewManager(redisClient, logger),
		Tasks:  task.NewStore(redisClient),
		Keys:   fingerprint.New(),
		Errors: errlog.NewSink(redisClient, logger),
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("Failed to create reconciler: %v", err)
	}
	return r
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	redisClient := setupTestRedis(t)
	handler := readyHandler(redisClient)

	t.Run("ready", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/ready", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Result().StatusCode)
		}
	})

	t.Run("not_ready_redis_down", func(t *testing.T) {
		broken := redis.NewClient(&redis.Options{Addr: "localhost:1"})
		defer broken.Close()

		req := httptest.NewRequest("GET", "/ready", nil)
		w := httptest.NewRecorder()

		readyHandler(broken)(w, req)

		if w.Result().StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Result().StatusCode)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	promhttp.Handler().ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
}

func TestPostbackHandler_Validation(t *testing.T) {
	handler := postbackHandler(setupReconciler(t))

	t.Run("wrong_method", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/postback/dataforseo", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		if w.Result().StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Expected status 405, got %d", w.Result().StatusCode)
		}
	})

	t.Run("missing_client", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/postback/", strings.NewReader(""))
		w := httptest.NewRecorder()

		handler(w, req)

		if w.Result().StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Result().StatusCode)
		}
	})

	t.Run("undecodable_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/postback/dataforseo", strings.NewReader("not gzip"))
		w := httptest.NewRecorder()

		handler(w, req)

		if w.Result().StatusCode != http.StatusInternalServerError {
			t.Errorf("Expected status 500, got %d", w.Result().StatusCode)
		}
	})
}

func TestPingbackHandler_Validation(t *testing.T) {
	handler := pingbackHandler(setupReconciler(t))

	t.Run("missing_id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/pingback/dataforseo?endpoint=serp/google/organic/task_get/regular", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		resp := w.Result()
		body, _ := io.ReadAll(resp.Body)

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", resp.StatusCode)
		}
		if !strings.Contains(string(body), `"id"`) {
			t.Errorf("Expected error to name the missing parameter, got %s", string(body))
		}
	})

	t.Run("missing_endpoint", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/pingback/dataforseo?id=task-1", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		if w.Result().StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Result().StatusCode)
		}
	})
}

func TestPathClient(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		want   string
	}{
		{"/postback/dataforseo", "/postback/", "dataforseo"},
		{"/postback/dataforseo/", "/postback/", "dataforseo"},
		{"/postback/", "/postback/", ""},
		{"/other/dataforseo", "/postback/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := pathClient(tt.path, tt.prefix); got != tt.want {
				t.Errorf("pathClient(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
