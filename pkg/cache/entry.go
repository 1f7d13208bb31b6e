// Package cache provides the TTL cache layer shared between execution
// modes: a networked primary backend with automatic in-process fallback,
// warming strategies, rule-driven invalidation and hit-rate analytics.
package cache

import (
	"encoding/json"
	"time"
)

// NoExpiry as a TTL makes an entry live until explicitly removed.
const NoExpiry = time.Duration(-1)

// Entry is the stored envelope for one cache key. The value stays opaque
// (raw JSON); metadata drives expiry and usage-based eviction.
type Entry struct {
	Value      json.RawMessage `json:"value"`
	CreatedAt  time.Time       `json:"created_at"`
	TTL        time.Duration   `json:"ttl"`
	HitCount   int64           `json:"hit_count"`
	LastAccess time.Time       `json:"last_access"`
}

// Expired reports whether the entry's TTL has elapsed at now. Entries with
// a non-positive TTL never expire; the check is idempotent.
func (e *Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) >= e.TTL
}

// Touch updates access metadata on a hit.
func (e *Entry) Touch(now time.Time) {
	e.HitCount++
	e.LastAccess = now
}
