// Package ratelimit implements decay-window admission control for upstream
// API calls. Attempt counts are shared across processes via Redis so that
// independent callers draw from the same provider quota.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for admission control.
var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serp_ratelimit_attempts_total",
		Help: "Total upstream attempts recorded per client",
	}, []string{"client"})

	blocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serp_ratelimit_blocks_total",
		Help: "Total requests blocked by the decay-window limit per client",
	}, []string{"client"})
)

// redisKeyPrefix namespaces the per-client attempt windows in Redis.
const redisKeyPrefix = "serp:ratelimit:"

// Policy configures the decay window for one client.
type Policy struct {
	// MaxAttempts is the number of upstream attempts allowed per window.
	MaxAttempts int

	// Decay is the rolling window length. Attempts older than Decay no
	// longer count against the limit.
	Decay time.Duration
}

// DefaultPolicy returns the provider's documented steady-state quota.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 2000,
		Decay:       time.Minute,
	}
}

// Limiter gates upstream calls with a per-client decay-window counter.
// Each upstream attempt is a member of a Redis sorted set scored by its
// timestamp; counting prunes expired members first, and increments are
// pipelined so concurrent callers never undercount.
type Limiter struct {
	redis    *redis.Client
	policies map[string]Policy
	fallback Policy
	logger   zerolog.Logger
}

// NewLimiter creates a Limiter with the given fallback policy.
func NewLimiter(redisClient *redis.Client, fallback Policy, logger zerolog.Logger) *Limiter {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Limiter{
		redis:    redisClient,
		policies: make(map[string]Policy),
		fallback: fallback,
		logger:   logger,
	}
}

// SetPolicy overrides the policy for one client. Not safe to call
// concurrently with Allow/Increment; configure before serving.
func (l *Limiter) SetPolicy(client string, p Policy) {
	l.policies[client] = p
}

// PolicyFor returns the effective policy for a client.
func (l *Limiter) PolicyFor(client string) Policy {
	if p, ok := l.policies[client]; ok {
		return p
	}
	return l.fallback
}

// Allow reports whether another upstream attempt is currently admissible
// for the client. It does not record an attempt.
func (l *Limiter) Allow(ctx context.Context, client string) (bool, error) {
	p := l.PolicyFor(client)
	key := redisKeyPrefix + client

	pipe := l.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", windowFloor(p.Decay))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("count attempt window: %w", err)
	}

	count := card.Val()
	allowed := count < int64(p.MaxAttempts)
	if !allowed {
		blocksTotal.WithLabelValues(client).Inc()
		l.logger.Warn().
			Str("client", client).
			Int64("attempts", count).
			Int("max_attempts", p.MaxAttempts).
			Dur("decay", p.Decay).
			Msg("Upstream attempt blocked by decay window")
	}
	return allowed, nil
}

// Check is Allow folded into the error domain: it returns a *LimitError
// (matching ErrLimitExceeded) when the window is full.
func (l *Limiter) Check(ctx context.Context, client string) error {
	allowed, err := l.Allow(ctx, client)
	if err != nil {
		return err
	}
	if !allowed {
		p := l.PolicyFor(client)
		return &LimitError{Client: client, MaxAttempts: p.MaxAttempts, Decay: p.Decay}
	}
	return nil
}

// Increment records n upstream attempts for the client. Called exactly once
// per upstream call (task creation or live fetch); never for cache hits and
// never for webhook deliveries.
func (l *Limiter) Increment(ctx context.Context, client string, n int) error {
	if n <= 0 {
		return nil
	}
	p := l.PolicyFor(client)
	key := redisKeyPrefix + client
	now := time.Now()

	members := make([]redis.Z, n)
	for i := range members {
		members[i] = redis.Z{
			Score:  float64(now.UnixNano()),
			Member: uuid.NewString(),
		}
	}

	pipe := l.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", windowFloor(p.Decay))
	pipe.ZAdd(ctx, key, members...)
	pipe.Expire(ctx, key, p.Decay)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record attempts: %w", err)
	}

	attemptsTotal.WithLabelValues(client).Add(float64(n))
	l.logger.Debug().
		Str("client", client).
		Int("attempts", n).
		Msg("Recorded upstream attempts")
	return nil
}

// Clear resets all counters for a client. Administrative/test use only.
func (l *Limiter) Clear(ctx context.Context, client string) error {
	if err := l.redis.Del(ctx, redisKeyPrefix+client).Err(); err != nil {
		return fmt.Errorf("clear attempt window: %w", err)
	}
	l.logger.Info().Str("client", client).Msg("Attempt window cleared")
	return nil
}

// windowFloor returns the oldest still-counted score for a decay window.
func windowFloor(decay time.Duration) string {
	return strconv.FormatInt(time.Now().Add(-decay).UnixNano(), 10)
}
