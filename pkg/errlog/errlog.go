// Package errlog is the error-record observability sink. Records are
// logged structurally and retained in a bounded Redis list for inspection;
// they are never used for control flow, and a failure to persist a record
// must not fail the operation that produced it.
package errlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Error types recorded by the engine.
const (
	TypeCacheRejected    = "cache_rejected"
	TypeProviderFailure  = "provider_failure"
	TypeResolutionFailed = "resolution_failed"
	TypeDecodeFailed     = "decode_failed"
)

const (
	redisKeyPrefix = "serp:errlog:"

	// maxRecords bounds the per-client record list in Redis.
	maxRecords = 1000
)

// Record is one error observation.
type Record struct {
	APIClient  string    `json:"api_client"`
	ErrorType  string    `json:"error_type"`
	Level      string    `json:"log_level"`
	Message    string    `json:"error_message"`
	APIMessage string    `json:"api_message,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Sink writes error records.
type Sink struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewSink creates an error-record sink. The Redis client may be nil, in
// which case records are log-only.
func NewSink(redisClient *redis.Client, logger zerolog.Logger) *Sink {
	return &Sink{
		redis:  redisClient,
		logger: logger,
	}
}

// Write logs a record and appends it to the client's bounded record list.
// Persistence failures are logged and swallowed; the caller that triggered
// the rejection path is never blocked by the sink.
func (s *Sink) Write(ctx context.Context, rec Record) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	event := s.logger.WithLevel(parseLevel(rec.Level)).
		Str("client", rec.APIClient).
		Str("error_type", rec.ErrorType)
	if rec.APIMessage != "" {
		event = event.Str("api_message", rec.APIMessage)
	}
	event.Msg(rec.Message)

	if s.redis == nil {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal error record")
		return
	}

	key := redisKeyPrefix + rec.APIClient
	pipe := s.redis.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, maxRecords-1)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error().Err(err).Str("client", rec.APIClient).
			Msg("Failed to persist error record")
	}
}

// Recent returns up to n most recent records for a client, newest first.
func (s *Sink) Recent(ctx context.Context, client string, n int) ([]Record, error) {
	if s.redis == nil || n <= 0 {
		return nil, nil
	}

	raw, err := s.redis.LRange(ctx, redisKeyPrefix+client, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// APIMessage extracts the provider's own error text from a raw response
// payload. A failed first task's message is the most specific signal; the
// top-level status_message is the fallback. Returns "" when the payload
// carries neither or is not JSON.
func APIMessage(raw []byte) string {
	if code := gjson.GetBytes(raw, "tasks.0.status_code"); code.Exists() && code.Int() >= 40000 {
		if msg := gjson.GetBytes(raw, "tasks.0.status_message"); msg.Exists() {
			return msg.String()
		}
	}
	if msg := gjson.GetBytes(raw, "status_message"); msg.Exists() {
		return msg.String()
	}
	return gjson.GetBytes(raw, "tasks.0.status_message").String()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.WarnLevel
	}
}
