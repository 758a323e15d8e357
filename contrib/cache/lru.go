// Package cache provides an in-memory vellum.Cache backed by an
// expirable LRU.
//
//	c := cache.NewLRU(1024, 5*time.Minute)
//	engine, err := orm.NewEngine(drv, reg, orm.WithCache(c, time.Minute))
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/syssam/vellum"
)

// DefaultSize is the capacity used when NewLRU is given a size <= 0.
const DefaultSize = 1024

type entry struct {
	value  []byte
	expire time.Time
}

// LRU is a size-bounded in-memory cache. Entries expire after the TTL
// given to Set, or the default TTL of the cache, whichever is shorter.
// It is safe for concurrent use.
type LRU struct {
	lru *expirable.LRU[string, entry]
	now func() time.Time
}

var _ vellum.Cache = (*LRU)(nil)

// NewLRU returns a cache holding at most size entries. A ttl of 0 keeps
// entries until they are evicted.
func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = DefaultSize
	}
	return &LRU{
		lru: expirable.NewLRU[string, entry](size, nil, ttl),
		now: time.Now,
	}
}

// Get returns the value stored under key, or nil if there is none.
func (c *LRU) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, nil
	}
	if !e.expire.IsZero() && !c.now().Before(e.expire) {
		c.lru.Remove(key)
		return nil, nil
	}
	return e.value, nil
}

// Set stores value under key.
func (c *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expire = c.now().Add(ttl)
	}
	c.lru.Add(key, e)
	return nil
}

// Delete removes key.
func (c *LRU) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (c *LRU) DeletePrefix(_ context.Context, prefix string) error {
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
	return nil
}

// Clear removes all entries.
func (c *LRU) Clear(context.Context) error {
	c.lru.Purge()
	return nil
}

// Len returns the number of entries, expired ones included until they
// are looked up or evicted.
func (c *LRU) Len() int { return c.lru.Len() }
