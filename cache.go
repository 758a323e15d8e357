package vellum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Cache stores encoded query results by key. contrib/cache ships an
// in-memory LRU; a shared store such as Redis fits the same methods.
type Cache interface {
	// Get returns nil and no error for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A ttl of zero never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix drops every key starting with prefix. Writes to a
	// table call it with the TablePrefix of the table.
	DeletePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
}

// CacheKey identifies a cached query result. Statements compile
// deterministically, so the statement text and its arguments are enough
// to tell two reads apart.
type CacheKey struct {
	Table     string
	Operation string
	Query     string
	Args      []any
}

// String hashes the statement into a key under the TablePrefix of the
// table.
func (k CacheKey) String() string {
	h := sha256.New()
	h.Write([]byte(k.Query))
	for _, a := range k.Args {
		fmt.Fprintf(h, "\x00%T:%v", a, a)
	}
	return TablePrefix(k.Table) + k.Operation + ":" + hex.EncodeToString(h.Sum(nil)[:16])
}

// TablePrefix returns the key prefix shared by all cached results of a table.
func TablePrefix(table string) string {
	return "vellum:" + table + ":"
}
