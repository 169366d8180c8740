// Package cache stores secondary review outcomes keyed by field, with TTL eviction.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrClosed is returned by a store after Close
var ErrClosed = errors.New("cache: store closed")

// Entry is one cached review outcome
type Entry struct {
	// Confidence change proposed by the reviewer
	Delta float64 `json:"delta"`

	// Reviewer note appended to the rationale
	Note string `json:"note"`

	// When the entry was stored
	CreatedAt time.Time `json:"created_at"`

	// When the entry expires (zero time means no expiration)
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the entry is past its expiry at now
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(now)
}

// Store is a keyed review cache
type Store interface {
	// Get returns the entry for key; a miss is (Entry{}, false, nil)
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Set stores an entry; ttl <= 0 keeps it until Close
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error

	// Close releases background resources
	Close() error
}

// Key builds the cache key for a field and its candidate PII type. Names
// are quoted so dots inside schema, table or column names cannot collide.
func Key(schema, table, field, piiType string) string {
	return strconv.Quote(schema) + "|" + strconv.Quote(table) + "|" + strconv.Quote(field) + "|" + piiType
}
