package cache

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/54b3r/primaria-go/internal/logging"
)

// Stats is a point-in-time view of the cache.
type Stats struct {
	// Entries is the number of live entries.
	Entries int `json:"entries"`
	// Tenants is the number of tenants with at least one entry.
	Tenants int `json:"tenants"`
	// PerTenant maps tenant ID to its entry count.
	PerTenant map[string]int `json:"per_tenant"`
	// Hits, Misses and Stores count lookups and writes since start.
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Stores int64 `json:"stores"`
	// Removed counts entries dropped by TTL, bounds or flushes since start.
	Removed int64 `json:"removed"`
	// HitRate is Hits / (Hits + Misses), 0 before the first lookup.
	HitRate float64 `json:"hit_rate"`
	// Threshold and TTL echo the active configuration.
	Threshold float64 `json:"threshold"`
	TTL       string  `json:"ttl"`
}

// Stats returns the current statistics.
func (c *Cache) Stats() Stats {
	st := Stats{
		PerTenant: make(map[string]int),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Stores:    c.stores.Load(),
		Removed:   c.removed.Load(),
		Threshold: c.cfg.Threshold,
		TTL:       c.cfg.TTL.String(),
	}
	for tenant, s := range c.snapshotShards() {
		if n := s.entries.Len(); n > 0 {
			st.PerTenant[tenant] = n
			st.Entries += n
		}
	}
	st.Tenants = len(st.PerTenant)
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

// Len returns the number of entries across all tenants, including expired
// entries the janitor has not swept yet.
func (c *Cache) Len() int {
	return int(c.total.Load())
}

// Flush removes every entry of tenantID and returns how many were removed.
func (c *Cache) Flush(ctx context.Context, tenantID string) int {
	s := c.shardFor(tenantID, false)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	n := s.entries.Len()
	s.entries.Purge()
	s.pending = nil
	s.mu.Unlock()

	c.clearPersisted(ctx, tenantID)
	logging.FromContext(ctx).Info("cache: flushed tenant", slog.String("tenant_id", tenantID), slog.Int("removed", n))
	return n
}

// FlushAll removes every entry of every tenant and returns how many were
// removed.
func (c *Cache) FlushAll(ctx context.Context) int {
	n := 0
	for _, s := range c.snapshotShards() {
		s.mu.Lock()
		n += s.entries.Len()
		s.entries.Purge()
		s.pending = nil
		s.mu.Unlock()
	}
	c.clearPersisted(ctx, "")
	logging.FromContext(ctx).Info("cache: flushed all tenants", slog.Int("removed", n))
	return n
}

// clearPersisted clears the persister for tenantID, logging failures.
func (c *Cache) clearPersisted(ctx context.Context, tenantID string) {
	if c.persister == nil {
		return
	}
	if err := c.persister.ClearCacheEntries(ctx, tenantID); err != nil {
		logging.FromContext(ctx).Warn("cache: clear persisted entries failed", slog.Any("error", err))
	}
}

// Warm loads persisted entries that have not expired, oldest first, so the
// LRU order approximates creation order. It returns the number loaded.
func (c *Cache) Warm(ctx context.Context) (int, error) {
	if c.persister == nil {
		return 0, nil
	}
	entries, err := c.persister.LoadCacheEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("cache: warm: %w", err)
	}
	slices.SortFunc(entries, func(a, b Entry) int { return a.LastAccess.Compare(b.LastAccess) })

	now := c.now()
	loaded := 0
	var stale []string
	for i := range entries {
		e := entries[i]
		if !now.Before(e.ExpiresAt) || len(e.Embedding) == 0 || e.TenantID == "" {
			stale = append(stale, e.ID)
			continue
		}
		s := c.shardFor(e.TenantID, true)
		s.mu.Lock()
		if !s.entries.Contains(e.ID) {
			c.total.Add(1)
			s.entries.Add(e.ID, &e)
			loaded++
		}
		stale = append(stale, s.takePending()...)
		s.mu.Unlock()
	}
	c.deletePersisted(ctx, stale)
	return loaded, nil
}
