// Package cache implements the fingerprint-keyed response store with a
// Redis backend. Entries carry the raw provider payload plus the accounting
// fields consumed by downstream billing and reporting.
package cache

import (
	"time"
)

// Entry is one cached upstream response.
// At most one live Entry exists per (ClientName, CacheKey); a later write
// to the same pair overwrites the earlier one.
type Entry struct {
	// ClientName identifies the upstream provider integration.
	ClientName string `json:"client_name"`

	// CacheKey is the request fingerprint the entry is stored under.
	CacheKey string `json:"cache_key"`

	// Endpoint is the canonical slash-delimited logical path
	// (e.g. "serp/google/organic/live/regular").
	Endpoint string `json:"endpoint"`

	// Version is the provider API version the request went to.
	Version string `json:"version"`

	// Params is the canonicalized parameter mapping that produced the
	// fingerprint. Stored for debugging and audit, never for lookup.
	Params map[string]any `json:"params,omitempty"`

	// RawResponse is the provider's response body, stored decompressed.
	RawResponse []byte `json:"raw_response"`

	// Cost is the amount the provider charged for this request.
	// Nil when unknown.
	Cost *float64 `json:"cost,omitempty"`

	// TaskID correlates async deliveries back to this entry.
	TaskID string `json:"task_id,omitempty"`

	// Credits is the provider's credit bookkeeping for task endpoints.
	Credits string `json:"credits,omitempty"`

	// StoredAt is when the entry was written.
	StoredAt time.Time `json:"stored_at"`

	// TTL is the entry lifetime. Zero means the entry never expires.
	TTL time.Duration `json:"ttl,omitempty"`
}
