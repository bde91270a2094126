// Package webhook reconciles asynchronously delivered task results back to
// the cache entry the original request was fingerprinted under. Two
// delivery shapes exist: postback (the provider pushes the gzip-compressed
// result body) and pingback (the provider signals readiness and the result
// is fetched synchronously). Both converge on one reconciliation routine.
package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/serpcache/serp-api-client/pkg/cache"
	"github.com/serpcache/serp-api-client/pkg/endpoint"
	"github.com/serpcache/serp-api-client/pkg/envelope"
	"github.com/serpcache/serp-api-client/pkg/errlog"
	"github.com/serpcache/serp-api-client/pkg/fingerprint"
	"github.com/serpcache/serp-api-client/pkg/task"
)

// Prometheus metrics for delivery reconciliation.
var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serp_deliveries_total",
		Help: "Total webhook deliveries by method and outcome",
	}, []string{"method", "outcome"})

	deliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "serp_delivery_duration_seconds",
		Help:    "Delivery reconciliation duration in seconds by method",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"method"})
)

// TaskFetcher performs the synchronous task_get call a pingback delivery
// requires. Implemented by the client package.
type TaskFetcher interface {
	FetchTask(ctx context.Context, clientName, endpoint, taskID string) (*envelope.Response, []byte, error)
}

// BadDeliveryError reports a delivery missing a required parameter.
// The delivery is rejected, not partially processed.
type BadDeliveryError struct {
	Param string
}

// Error implements the error interface.
func (e *BadDeliveryError) Error() string {
	return fmt.Sprintf("delivery missing required parameter %q", e.Param)
}

// Delivery is the reconciled result of one postback or pingback.
type Delivery struct {
	Response *envelope.Response
	Task     *envelope.Task
	TaskID   string
	CacheKey string
	Cost     *float64
	Raw      []byte
	Endpoint string

	// Method records how the result entered the system: POST for pushed
	// postbacks (the async-creation method), GET for pingback re-fetches.
	Method string
}

// Reconciler converts deliveries into response-store writes.
type Reconciler struct {
	store   *cache.Manager
	tasks   *task.Store
	keys    *fingerprint.Generator
	errors  *errlog.Sink
	fetcher TaskFetcher
	version string
	ttl     time.Duration
	logger  zerolog.Logger
}

// Config wires a Reconciler.
type Config struct {
	Store  *cache.Manager
	Tasks  *task.Store
	Keys   *fingerprint.Generator
	Errors *errlog.Sink

	// Fetcher is required for pingback deliveries; postbacks work without.
	Fetcher TaskFetcher

	// Version is folded into recomputed cache keys when a delivery carries
	// no tag.
	Version string

	// TTL applied to reconciled entries. Zero means no expiry.
	TTL time.Duration

	Logger zerolog.Logger
}

// NewReconciler creates a delivery reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("response store is required")
	}
	if cfg.Keys == nil {
		cfg.Keys = fingerprint.New()
	}
	if cfg.Errors == nil {
		cfg.Errors = errlog.NewSink(nil, cfg.Logger)
	}
	if cfg.Version == "" {
		cfg.Version = "v3"
	}
	return &Reconciler{
		store:   cfg.Store,
		tasks:   cfg.Tasks,
		keys:    cfg.Keys,
		errors:  cfg.Errors,
		fetcher: cfg.Fetcher,
		version: cfg.Version,
		ttl:     cfg.TTL,
		logger:  cfg.Logger,
	}, nil
}

// HandlePostback processes a push delivery: a gzip-compressed JSON body
// containing the completed task result.
func (r *Reconciler) HandlePostback(ctx context.Context, clientName string, body io.Reader) (*Delivery, error) {
	start := time.Now()
	defer func() {
		deliveryDuration.WithLabelValues(http.MethodPost).Observe(time.Since(start).Seconds())
	}()

	resp, raw, err := envelope.DecodeGzip(body)
	if err != nil {
		deliveriesTotal.WithLabelValues(http.MethodPost, "decode_failed").Inc()
		r.errors.Write(ctx, errlog.Record{
			APIClient: clientName,
			ErrorType: errlog.TypeDecodeFailed,
			Level:     "error",
			Message:   fmt.Sprintf("postback body undecodable: %v", err),
		})
		return nil, err
	}

	return r.reconcile(ctx, clientName, resp, raw, "", "", http.MethodPost)
}

// HandlePingback processes a pull delivery: the provider signals readiness
// via a GET carrying id (required), endpoint (required), and tag
// (optional), and the result is fetched synchronously.
//
// Query parameters are passed explicitly; the reconciler reads no ambient
// request state.
func (r *Reconciler) HandlePingback(ctx context.Context, clientName string, query url.Values) (*Delivery, error) {
	start := time.Now()
	defer func() {
		deliveryDuration.WithLabelValues(http.MethodGet).Observe(time.Since(start).Seconds())
	}()

	taskID := query.Get("id")
	if taskID == "" {
		deliveriesTotal.WithLabelValues(http.MethodGet, "bad_delivery").Inc()
		return nil, &BadDeliveryError{Param: "id"}
	}
	endpointOverride := query.Get("endpoint")
	if endpointOverride == "" {
		deliveriesTotal.WithLabelValues(http.MethodGet, "bad_delivery").Inc()
		return nil, &BadDeliveryError{Param: "endpoint"}
	}
	if r.fetcher == nil {
		return nil, fmt.Errorf("pingback delivery requires a task fetcher")
	}

	resp, raw, err := r.fetcher.FetchTask(ctx, clientName, endpointOverride, taskID)
	if err != nil {
		deliveriesTotal.WithLabelValues(http.MethodGet, "fetch_failed").Inc()
		return nil, fmt.Errorf("fetch task %s: %w", taskID, err)
	}

	return r.reconcile(ctx, clientName, resp, raw, endpointOverride, query.Get("tag"), http.MethodGet)
}

// reconcile is the convergent routine both delivery shapes finish in:
// recover the owning endpoint and cache key, then upsert the result into
// the response store under exactly the key the original request produced.
func (r *Reconciler) reconcile(ctx context.Context, clientName string, resp *envelope.Response, raw []byte, endpointOverride, tagOverride, method string) (*Delivery, error) {
	t := envelope.First(resp)
	if t == nil {
		deliveriesTotal.WithLabelValues(method, "no_task").Inc()
		return nil, fmt.Errorf("delivery envelope contains no task")
	}

	if t.Failed() {
		deliveriesTotal.WithLabelValues(method, "task_failed").Inc()
		provErr := &envelope.ProviderError{
			StatusCode: t.StatusCode,
			Message:    t.StatusMessage,
			TaskID:     t.ID,
		}
		r.errors.Write(ctx, errlog.Record{
			APIClient:  clientName,
			ErrorType:  errlog.TypeProviderFailure,
			Level:      "error",
			Message:    provErr.Error(),
			APIMessage: errlog.APIMessage(raw),
		})
		return nil, provErr
	}

	resolved, err := endpoint.Resolve(t.ID, endpointOverride, t)
	if err != nil {
		deliveriesTotal.WithLabelValues(method, "unresolved").Inc()
		r.errors.Write(ctx, errlog.Record{
			APIClient: clientName,
			ErrorType: errlog.TypeResolutionFailed,
			Level:     "error",
			Message:   err.Error(),
		})
		return nil, err
	}

	// The tag is the cache key the original requester was given at
	// task-creation time. Recomputing from the recovered parameters is the
	// fallback when no tag survived the round trip.
	key := tagOverride
	if key == "" {
		key = t.Tag()
	}
	if key == "" {
		key = r.keys.Key(clientName, resolved, t.Data, http.MethodPost, r.version)
	}

	delivery := &Delivery{
		Response: resp,
		Task:     t,
		TaskID:   t.ID,
		CacheKey: key,
		Cost:     deliveryCost(resp, t),
		Raw:      raw,
		Endpoint: resolved,
		Method:   method,
	}

	if !envelope.ShouldCache(resp) {
		deliveriesTotal.WithLabelValues(method, "cache_rejected").Inc()
		r.errors.Write(ctx, errlog.Record{
			APIClient:  clientName,
			ErrorType:  errlog.TypeCacheRejected,
			Level:      "warn",
			Message:    fmt.Sprintf("delivery for task %s rejected by cacheability policy", t.ID),
			APIMessage: errlog.APIMessage(raw),
		})
		return delivery, nil
	}

	entry := &cache.Entry{
		ClientName:  clientName,
		CacheKey:    key,
		Endpoint:    resolved,
		Version:     r.version,
		Params:      r.keys.Canonical(t.Data),
		RawResponse: raw,
		Cost:        delivery.Cost,
		TaskID:      t.ID,
		TTL:         r.ttl,
	}
	// The billing correlation recorded at creation time survives onto the
	// reconciled entry.
	if r.tasks != nil {
		if pending, err := r.tasks.Get(ctx, clientName, t.ID); err == nil {
			entry.Credits = pending.Credits
		}
	}
	if err := r.store.Put(ctx, entry); err != nil {
		deliveriesTotal.WithLabelValues(method, "store_failed").Inc()
		return nil, fmt.Errorf("store delivery for task %s: %w", t.ID, err)
	}

	if r.tasks != nil {
		if err := r.tasks.Delete(ctx, clientName, t.ID); err != nil {
			r.logger.Warn().Err(err).Str("task_id", t.ID).
				Msg("Failed to clear pending task record")
		}
	}

	deliveriesTotal.WithLabelValues(method, "reconciled").Inc()
	r.logger.Info().
		Str("client", clientName).
		Str("task_id", t.ID).
		Str("endpoint", resolved).
		Str("cache_key", key).
		Str("delivery", method).
		Msg("Delivery reconciled into response store")
	return delivery, nil
}

// deliveryCost prefers the task-level cost over the envelope total.
func deliveryCost(resp *envelope.Response, t *envelope.Task) *float64 {
	if t.Cost != nil {
		return t.Cost
	}
	return resp.Cost
}
