package cache

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"
)

// Start launches the janitor, which runs Sweep every SweepInterval until
// Close is called. Calls after the first are no-ops.
func (c *Cache) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
				removed := c.Sweep(ctx)
				cancel()
				if removed > 0 {
					c.log.Debug("cache: janitor sweep", slog.Int("removed", removed))
				}
			}
		}
	}()
}

// Close stops the janitor if it is running. It is safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		if c.started.Load() {
			<-c.done
		}
	})
}

// Sweep removes expired entries, then evicts the least recently accessed
// entries across all tenants until the global bound holds. It returns the
// number of entries removed.
func (c *Cache) Sweep(ctx context.Context) int {
	now := c.now()
	removed := 0

	type candidate struct {
		tenant     string
		id         string
		lastAccess time.Time
	}
	var live []candidate

	for tenant, s := range c.snapshotShards() {
		s.mu.Lock()
		for _, e := range s.entries.Values() {
			if !now.Before(e.ExpiresAt) {
				s.entries.Remove(e.ID)
				removed++
				continue
			}
			live = append(live, candidate{tenant: tenant, id: e.ID, lastAccess: e.LastAccess})
		}
		ids := s.takePending()
		s.mu.Unlock()
		c.deletePersisted(ctx, ids)
	}

	excess := len(live) - c.cfg.MaxEntries
	if excess <= 0 {
		return removed
	}
	slices.SortFunc(live, func(a, b candidate) int {
		return cmp.Or(a.lastAccess.Compare(b.lastAccess), cmp.Compare(a.id, b.id))
	})
	byTenant := make(map[string][]string)
	for _, cand := range live[:excess] {
		byTenant[cand.tenant] = append(byTenant[cand.tenant], cand.id)
	}
	for tenant, ids := range byTenant {
		s := c.shardFor(tenant, false)
		if s == nil {
			continue
		}
		s.mu.Lock()
		for _, id := range ids {
			if s.entries.Remove(id) {
				removed++
			}
		}
		evicted := s.takePending()
		s.mu.Unlock()
		c.deletePersisted(ctx, evicted)
	}
	return removed
}

// snapshotShards copies the shard map so callers can iterate without
// holding c.mu.
func (c *Cache) snapshotShards() map[string]*shard {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.shards)
}
