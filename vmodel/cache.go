package vmodel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/maxpert/objectpack/query"
	"github.com/maxpert/objectpack/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
)

// Factory creates a record for lookups that found nothing
type Factory func(ctx context.Context, lookups map[string]any) (query.Record, error)

// Cache memoizes single-record lookups against one record set, keyed by
// the lookup parameters. Missing records are cached as nil unless a
// factory creates them.
type Cache struct {
	set     query.Set
	factory Factory
	entries *xsync.MapOf[string, query.Record]
	last    atomic.Pointer[string]
}

// NewCache creates a cache over set. factory may be nil.
func NewCache(set query.Set, factory Factory) *Cache {
	return &Cache{
		set:     set,
		factory: factory,
		entries: xsync.NewMapOf[string, query.Record](),
	}
}

// Get returns the record matching lookups, loading it on first use.
// ErrMultipleObjectsReturned is not cached.
func (c *Cache) Get(ctx context.Context, lookups map[string]any) (query.Record, error) {
	key := cacheKey(lookups)
	c.last.Store(&key)

	if rec, ok := c.entries.Load(key); ok {
		telemetry.ModelCacheLookupsTotal.With("hit").Inc()
		return rec, nil
	}
	telemetry.ModelCacheLookupsTotal.With("miss").Inc()

	rec, err := query.Get(ctx, c.set, query.Where(lookups))
	if err != nil && !errors.Is(err, query.ErrDoesNotExist) {
		return nil, err
	}

	if rec == nil && c.factory != nil {
		rec, err = c.factory(ctx, lookups)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.ID() == nil {
			return nil, fmt.Errorf("cache factory returned a record without id for %s", key)
		}
	}

	c.entries.Store(key, rec)
	return rec, nil
}

// ForgetLast drops the entry of the most recent Get
func (c *Cache) ForgetLast() {
	if key := c.last.Load(); key != nil {
		c.entries.Delete(*key)
	}
}

// Len returns the number of cached lookups
func (c *Cache) Len() int {
	return c.entries.Size()
}

func cacheKey(lookups map[string]any) string {
	keys := make([]string, 0, len(lookups))
	for k := range lookups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%#v;", k, lookups[k])
	}
	return b.String()
}
