// Package client implements the standard-method protocol used by every
// caller-facing endpoint: fingerprint the request, serve from the response
// store when possible, and otherwise create an asynchronous provider task
// behind the admission controller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/serpcache/serp-api-client/pkg/cache"
	"github.com/serpcache/serp-api-client/pkg/envelope"
	"github.com/serpcache/serp-api-client/pkg/errlog"
	"github.com/serpcache/serp-api-client/pkg/fingerprint"
	"github.com/serpcache/serp-api-client/pkg/ratelimit"
	"github.com/serpcache/serp-api-client/pkg/task"
)

// Prometheus metrics for upstream calls and standard-method outcomes.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serp_upstream_requests_total",
		Help: "Total upstream provider requests by endpoint and status",
	}, []string{"endpoint", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "serp_upstream_request_duration_seconds",
		Help:    "Upstream provider request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	standardResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serp_standard_results_total",
		Help: "Standard-method outcomes by status (resolved, absent, pending)",
	}, []string{"status"})
)

// Status is the outcome of one standard-method invocation.
type Status string

const (
	// StatusResolved means the response store held a live entry.
	StatusResolved Status = "resolved"

	// StatusAbsent means a miss with task creation disabled. Not an error.
	StatusAbsent Status = "absent"

	// StatusPending means an asynchronous task was created (or is already
	// in flight); the result arrives via a later delivery.
	StatusPending Status = "pending"
)

// StandardRequest is one caller-facing standard-method invocation.
type StandardRequest struct {
	// ClientName identifies the provider integration the request bills to.
	ClientName string

	// Endpoint is the base logical path, e.g. "serp/google/organic".
	Endpoint string

	// SearchType is the response-shape selector. Validated against the
	// endpoint definition and folded into the endpoint string, not the
	// parameter set.
	SearchType string

	// Params are the search parameters in any casing convention.
	Params map[string]any

	// PostTaskIfNotCached creates an asynchronous task on a cache miss.
	// When false a miss returns StatusAbsent.
	PostTaskIfNotCached bool

	// PostbackURL/PingbackURL are delivery endpoints forwarded to the
	// provider. They never contribute to the request fingerprint.
	PostbackURL string
	PingbackURL string

	// Credits is the caller's billing correlation identifier. Persisted on
	// the entry and the pending-task record for downstream accounting;
	// never part of the fingerprint.
	Credits string
}

// StandardResult is the outcome of a standard-method invocation.
type StandardResult struct {
	Status   Status
	CacheKey string

	// Entry is the live cache entry on StatusResolved, or the stored
	// task-creation acknowledgment on StatusPending (nil when another
	// caller holds the creation claim).
	Entry *cache.Entry

	// TaskID is set on StatusPending when this call created the task.
	TaskID string
}

// Config holds the client configuration.
type Config struct {
	// Redis backs the response store, rate-limit windows, and task records.
	Redis *redis.Client

	// BaseURL of the provider API.
	BaseURL string

	// Login and Password authenticate against the provider (basic auth).
	Login    string
	Password string

	// Version is the provider API version folded into fingerprints and
	// request paths.
	Version string

	// UserAgent sent with every upstream request.
	UserAgent string

	// RateLimit is the fallback admission policy per client.
	RateLimit ratelimit.Policy

	// CacheTTL applied to stored entries. Zero means entries never expire.
	CacheTTL time.Duration

	// ClaimLease bounds how long a creation claim suppresses duplicate
	// upstream calls for the same fingerprint.
	ClaimLease time.Duration

	// HTTPTimeout bounds each upstream call.
	HTTPTimeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redisClient *redis.Client, login, password string) Config {
	return Config{
		Redis:       redisClient,
		BaseURL:     "https://api.dataforseo.com",
		Login:       login,
		Password:    password,
		Version:     "v3",
		UserAgent:   "serp-api-client/0.1.0",
		RateLimit:   ratelimit.DefaultPolicy(),
		ClaimLease:  30 * time.Second,
		HTTPTimeout: 30 * time.Second,
	}
}

// Client orchestrates the standard-method protocol.
type Client struct {
	httpClient *http.Client
	config     Config
	limiter    *ratelimit.Limiter
	store      *cache.Manager
	tasks      *task.Store
	keys       *fingerprint.Generator
	registry   *Registry
	errors     *errlog.Sink
	logger     zerolog.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Login == "" || cfg.Password == "" {
		return nil, fmt.Errorf("provider credentials are required")
	}
	if cfg.Version == "" {
		cfg.Version = "v3"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 30 * time.Second
	}
	if cfg.RateLimit.MaxAttempts <= 0 {
		cfg.RateLimit = ratelimit.DefaultPolicy()
	}

	logger := log.With().Str("component", "serp-client").Logger()

	return &Client{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		config:     cfg,
		limiter:    ratelimit.NewLimiter(cfg.Redis, cfg.RateLimit, logger),
		store:      cache.NewManager(cfg.Redis, logger),
		tasks:      task.NewStore(cfg.Redis),
		keys:       fingerprint.New(),
		registry:   NewRegistry(),
		errors:     errlog.NewSink(cfg.Redis, logger),
		logger:     logger,
	}, nil
}

// Store exposes the response store (shared with the webhook reconciler).
func (c *Client) Store() *cache.Manager { return c.store }

// Tasks exposes the pending-task store.
func (c *Client) Tasks() *task.Store { return c.tasks }

// Limiter exposes the admission controller.
func (c *Client) Limiter() *ratelimit.Limiter { return c.limiter }

// Keys exposes the fingerprint generator.
func (c *Client) Keys() *fingerprint.Generator { return c.keys }

// Errors exposes the error-record sink.
func (c *Client) Errors() *errlog.Sink { return c.errors }

// Registry exposes the endpoint definition table.
func (c *Client) Registry() *Registry { return c.registry }

// Standard runs the cache-or-create protocol for one request.
//
// A cache hit returns immediately with no upstream traffic and no
// admission check. A miss with task creation disabled returns StatusAbsent.
// A miss with task creation enabled creates an asynchronous provider task
// behind the admission controller, tagged with the request fingerprint so
// a later delivery reconciles back to this exact entry.
func (c *Client) Standard(ctx context.Context, req StandardRequest) (*StandardResult, error) {
	if req.ClientName == "" {
		return nil, &ValidationError{Field: "client_name", Reason: "is required"}
	}

	def, ok := c.registry.Get(req.Endpoint)
	if !ok {
		return nil, &ValidationError{Field: "endpoint",
			Reason: fmt.Sprintf("%q is not a registered endpoint", req.Endpoint)}
	}

	searchType, err := def.ResolveSearchType(req.SearchType)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(req.Params); err != nil {
		return nil, err
	}

	// The selector folds into the logical endpoint, not the parameter set.
	logical := req.Endpoint
	if searchType != "" {
		logical = req.Endpoint + "/" + searchType
	}

	key := c.keys.Key(req.ClientName, logical, req.Params, http.MethodPost, c.config.Version)

	entry, err := c.store.Get(ctx, req.ClientName, key)
	if err == nil {
		standardResultsTotal.WithLabelValues(string(StatusResolved)).Inc()
		c.logger.Debug().
			Str("client", req.ClientName).
			Str("endpoint", logical).
			Str("cache_key", key).
			Msg("Standard request served from cache")
		return &StandardResult{Status: StatusResolved, CacheKey: key, Entry: entry}, nil
	}
	if err != cache.ErrCacheMiss {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	if !req.PostTaskIfNotCached {
		standardResultsTotal.WithLabelValues(string(StatusAbsent)).Inc()
		return &StandardResult{Status: StatusAbsent, CacheKey: key}, nil
	}

	return c.createTask(ctx, req, def, logical, searchType, key)
}

// createTask runs the miss path: claim, admission gate, upstream task_post,
// then persistence of the acknowledgment and the pending-task record.
func (c *Client) createTask(ctx context.Context, req StandardRequest, def Definition, logical, searchType, key string) (*StandardResult, error) {
	// Best-effort claim so concurrent identical misses collapse to one
	// upstream call. A Redis failure here falls through unclaimed rather
	// than failing the request.
	claimed, err := c.store.Claim(ctx, req.ClientName, key, c.config.ClaimLease)
	if err != nil {
		c.logger.Warn().Err(err).Str("cache_key", key).
			Msg("Claim check failed, proceeding unclaimed")
		claimed = true
	}
	if !claimed {
		// Another caller is creating this task; re-check in case its
		// acknowledgment already landed.
		if entry, err := c.store.Get(ctx, req.ClientName, key); err == nil {
			standardResultsTotal.WithLabelValues(string(StatusPending)).Inc()
			return &StandardResult{Status: StatusPending, CacheKey: key, Entry: entry, TaskID: entry.TaskID}, nil
		}
		standardResultsTotal.WithLabelValues(string(StatusPending)).Inc()
		return &StandardResult{Status: StatusPending, CacheKey: key}, nil
	}

	if err := c.limiter.Check(ctx, req.ClientName); err != nil {
		_ = c.store.Unclaim(ctx, req.ClientName, key)
		return nil, err
	}
	if err := c.limiter.Increment(ctx, req.ClientName, 1); err != nil {
		_ = c.store.Unclaim(ctx, req.ClientName, key)
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	payload := c.keys.Canonical(req.Params)
	payload["tag"] = key
	if req.PostbackURL != "" {
		payload["postback_url"] = req.PostbackURL
		payload["postback_data"] = searchType
	}
	if req.PingbackURL != "" {
		payload["pingback_url"] = req.PingbackURL
	}

	creationPath := req.Endpoint + "/task_post"
	resp, raw, err := c.post(ctx, creationPath, []map[string]any{payload})
	if err != nil {
		_ = c.store.Unclaim(ctx, req.ClientName, key)
		return nil, err
	}

	created := envelope.First(resp)
	if created == nil || created.Failed() {
		_ = c.store.Unclaim(ctx, req.ClientName, key)
		return nil, c.providerFailure(ctx, req.ClientName, resp, raw, created)
	}

	entry := &cache.Entry{
		ClientName:  req.ClientName,
		CacheKey:    key,
		Endpoint:    logical,
		Version:     c.config.Version,
		Params:      c.keys.Canonical(req.Params),
		RawResponse: raw,
		Cost:        taskCost(resp, created),
		TaskID:      created.ID,
		Credits:     req.Credits,
		TTL:         c.config.CacheTTL,
	}
	if envelope.ShouldCache(resp) {
		if err := c.store.Put(ctx, entry); err != nil {
			c.logger.Warn().Err(err).Str("cache_key", key).
				Msg("Failed to store task acknowledgment")
		}
	} else {
		c.errors.Write(ctx, errlog.Record{
			APIClient:  req.ClientName,
			ErrorType:  errlog.TypeCacheRejected,
			Level:      "warn",
			Message:    "task acknowledgment rejected by cacheability policy",
			APIMessage: errlog.APIMessage(raw),
		})
	}

	if err := c.tasks.Put(ctx, &task.Pending{
		TaskID:     created.ID,
		ClientName: req.ClientName,
		CacheKey:   key,
		Endpoint:   logical,
		Version:    c.config.Version,
		Credits:    req.Credits,
	}); err != nil {
		c.logger.Warn().Err(err).Str("task_id", created.ID).
			Msg("Failed to record pending task")
	}

	standardResultsTotal.WithLabelValues(string(StatusPending)).Inc()
	c.logger.Info().
		Str("client", req.ClientName).
		Str("endpoint", logical).
		Str("cache_key", key).
		Str("task_id", created.ID).
		Msg("Created upstream task")
	return &StandardResult{Status: StatusPending, CacheKey: key, Entry: entry, TaskID: created.ID}, nil
}

// FetchTask performs the synchronous task_get call for a completed task.
// Used by the pingback path and by callers that poll instead of receiving
// webhooks. Deliveries consume no admission quota.
func (c *Client) FetchTask(ctx context.Context, clientName, endpoint, taskID string) (*envelope.Response, []byte, error) {
	resp, raw, err := c.get(ctx, endpoint+"/"+taskID)
	if err != nil {
		return nil, nil, err
	}

	fetched := envelope.First(resp)
	if fetched != nil && fetched.Failed() {
		return nil, nil, c.providerFailure(ctx, clientName, resp, raw, fetched)
	}
	return resp, raw, nil
}

// ReadyTasks lists tasks the provider has completed but not yet delivered.
func (c *Client) ReadyTasks(ctx context.Context, endpoint string) ([]envelope.Task, error) {
	resp, _, err := c.get(ctx, endpoint+"/tasks_ready")
	if err != nil {
		return nil, err
	}

	ready := envelope.First(resp)
	if ready == nil || ready.Result == nil {
		return nil, nil
	}

	var tasks []envelope.Task
	if err := json.Unmarshal(ready.Result, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks_ready result: %w", err)
	}
	return tasks, nil
}

// post issues an authenticated POST with a JSON task array body.
func (c *Client) post(ctx context.Context, path string, body any) (*envelope.Response, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data))
}

// get issues an authenticated GET.
func (c *Client) get(ctx context.Context, path string) (*envelope.Response, []byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body *bytes.Reader) (*envelope.Response, []byte, error) {
	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/" + c.config.Version + "/" + path

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.config.Login, c.config.Password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	upstreamRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		upstreamRequestsTotal.WithLabelValues(path, "network_error").Inc()
		return nil, nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(path, fmt.Sprintf("%d", resp.StatusCode)).Inc()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, &envelope.ProviderError{
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
		}
	}

	decoded, raw, err := envelope.Decode(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if decoded.StatusCode >= envelope.StatusCodeError {
		return nil, nil, &envelope.ProviderError{
			StatusCode: decoded.StatusCode,
			Message:    decoded.StatusMessage,
		}
	}
	return decoded, raw, nil
}

// providerFailure records a provider-surfaced task failure and converts it
// into a ProviderError. Failed responses are never cached.
func (c *Client) providerFailure(ctx context.Context, clientName string, resp *envelope.Response, raw []byte, failed *envelope.Task) error {
	provErr := &envelope.ProviderError{
		StatusCode: resp.StatusCode,
		Message:    resp.StatusMessage,
	}
	if failed != nil {
		provErr.StatusCode = failed.StatusCode
		provErr.Message = failed.StatusMessage
		provErr.TaskID = failed.ID
	}

	c.errors.Write(ctx, errlog.Record{
		APIClient:  clientName,
		ErrorType:  errlog.TypeProviderFailure,
		Level:      "error",
		Message:    provErr.Error(),
		APIMessage: errlog.APIMessage(raw),
	})
	return provErr
}

// taskCost prefers the task-level cost over the envelope total.
func taskCost(resp *envelope.Response, t *envelope.Task) *float64 {
	if t != nil && t.Cost != nil {
		return t.Cost
	}
	if resp != nil {
		return resp.Cost
	}
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
