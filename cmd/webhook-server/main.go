package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/serpcache/serp-api-client/pkg/client"
	"github.com/serpcache/serp-api-client/pkg/envelope"
	"github.com/serpcache/serp-api-client/pkg/logging"
	"github.com/serpcache/serp-api-client/pkg/webhook"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	// Configuration from environment
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	port := getEnv("PORT", "8080")
	baseURL := getEnv("BASE_URL", "https://api.dataforseo.com")
	login := os.Getenv("API_LOGIN")
	password := os.Getenv("API_PASSWORD")
	logLevel := getEnv("LOG_LEVEL", "info")
	cacheTTL := getDurationEnv("CACHE_TTL", 0)

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(logLevel),
		Output: os.Stderr,
	})

	if login == "" || password == "" {
		log.Fatal("API_LOGIN and API_PASSWORD are required")
	}

	// Setup Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	logger.Info().Str("addr", redisURL).Msg("Connected to Redis")

	cfg := client.DefaultConfig(redisClient, login, password)
	cfg.BaseURL = baseURL
	cfg.CacheTTL = cacheTTL

	serpClient, err := client.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create serp client: %v", err)
	}

	reconciler, err := webhook.NewReconciler(webhook.Config{
		Store:   serpClient.Store(),
		Tasks:   serpClient.Tasks(),
		Keys:    serpClient.Keys(),
		Errors:  serpClient.Errors(),
		Fetcher: serpClient,
		Version: cfg.Version,
		TTL:     cacheTTL,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("Failed to create reconciler: %v", err)
	}

	// HTTP Server
	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/ready", readyHandler(redisClient))
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/postback/", postbackHandler(reconciler))
	http.HandleFunc("/pingback/", pingbackHandler(reconciler))

	addr := ":" + port
	logger.Info().Str("addr", addr).Msg("Starting webhook server")

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, fmt.Sprintf("Redis unavailable: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// postbackHandler accepts push deliveries at /postback/{client}. The body is
// the gzip-compressed result envelope.
func postbackHandler(reconciler *webhook.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		clientName := pathClient(r.URL.Path, "/postback/")
		if clientName == "" {
			http.Error(w, "client name missing from path", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		delivery, err := reconciler.HandlePostback(ctx, clientName, r.Body)
		if err != nil {
			writeDeliveryError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "reconciled task %s", delivery.TaskID)
	}
}

// pingbackHandler accepts pull-delivery signals at /pingback/{client}. The
// query carries id, endpoint, and optionally tag; parameters are handed to
// the reconciler explicitly.
func pingbackHandler(reconciler *webhook.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		clientName := pathClient(r.URL.Path, "/pingback/")
		if clientName == "" {
			http.Error(w, "client name missing from path", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		delivery, err := reconciler.HandlePingback(ctx, clientName, r.URL.Query())
		if err != nil {
			writeDeliveryError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "reconciled task %s", delivery.TaskID)
	}
}

// writeDeliveryError maps reconciliation failures onto HTTP status codes:
// malformed deliveries are the sender's fault, provider failures are not.
func writeDeliveryError(w http.ResponseWriter, err error) {
	var badErr *webhook.BadDeliveryError
	if errors.As(err, &badErr) {
		http.Error(w, badErr.Error(), http.StatusBadRequest)
		return
	}
	var provErr *envelope.ProviderError
	if errors.As(err, &provErr) {
		http.Error(w, provErr.Error(), http.StatusBadGateway)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func pathClient(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path {
		return ""
	}
	return strings.Trim(rest, "/")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid %s value %q: %v", key, value, err)
	}
	return d
}
