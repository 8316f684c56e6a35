// Package cache implements the tenant-scoped semantic response cache.
//
// An entry is keyed by the embedding of the normalized question. A lookup hits
// when the best entry of the same tenant reaches the similarity threshold, or
// immediately when the normalized question text matches exactly. Entries are
// bounded by TTL, a per-tenant LRU bound and a global bound. Each tenant owns
// its own shard and lock, so tenants never block each other.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/54b3r/primaria-go/internal/domain"
	"github.com/54b3r/primaria-go/internal/logging"
	"github.com/54b3r/primaria-go/internal/rag"
	"github.com/54b3r/primaria-go/internal/romanian"
)

// Config controls cache behaviour. Zero fields take the defaults documented
// on each field.
type Config struct {
	// Threshold is the minimum cosine similarity for a hit (default 0.92).
	Threshold float64
	// TTL is the lifetime of an entry (default 7 days).
	TTL time.Duration
	// MaxEntriesPerTenant bounds each tenant's shard (default 500).
	MaxEntriesPerTenant int
	// MaxEntries bounds the whole cache, enforced by the janitor (default 5000).
	MaxEntries int
	// SweepInterval is the janitor period (default 1 minute).
	SweepInterval time.Duration
	// StoreTimeout bounds a single Store call including embedding (default 2s).
	StoreTimeout time.Duration
	// LookupTimeout bounds the question embedding of a Lookup (default 2s).
	// When it expires the lookup is a miss.
	LookupTimeout time.Duration
}

// withDefaults returns c with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = 0.92
	}
	if c.TTL == 0 {
		c.TTL = 7 * 24 * time.Hour
	}
	if c.MaxEntriesPerTenant == 0 {
		c.MaxEntriesPerTenant = 500
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 5000
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = 2 * time.Second
	}
	if c.LookupTimeout == 0 {
		c.LookupTimeout = 2 * time.Second
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Threshold <= 0 || c.Threshold > 1:
		return fmt.Errorf("cache: threshold must be within (0,1], got %v", c.Threshold)
	case c.TTL < 0:
		return fmt.Errorf("cache: ttl must not be negative")
	case c.MaxEntriesPerTenant < 0 || c.MaxEntries < 0:
		return fmt.Errorf("cache: entry bounds must not be negative")
	case c.SweepInterval < 0 || c.StoreTimeout < 0 || c.LookupTimeout < 0:
		return fmt.Errorf("cache: intervals must not be negative")
	}
	return nil
}

// Entry is one cached answer.
type Entry struct {
	// ID is a random UUID assigned at creation.
	ID string `json:"id"`
	// TenantID owns the entry.
	TenantID string `json:"tenant_id"`
	// Question is the question text as asked.
	Question string `json:"question"`
	// Normalized is the normalized question used by the exact-match path.
	Normalized string `json:"normalized"`
	// Embedding is the fingerprint of Normalized.
	Embedding []float32 `json:"-"`
	// Answer is the generated answer text.
	Answer string `json:"answer"`
	// Citations are the passages the answer was grounded on at creation time.
	Citations []domain.Citation `json:"citations"`
	// Confidence is the retrieval confidence recorded with the answer.
	Confidence float64 `json:"confidence"`
	// CreatedAt is the creation time.
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is CreatedAt plus the TTL.
	ExpiresAt time.Time `json:"expires_at"`
	// HitCount counts lookups served by this entry.
	HitCount int64 `json:"hit_count"`
	// LastAccess is the time of creation or of the latest hit.
	LastAccess time.Time `json:"last_access"`
}

// Hit is a successful lookup.
type Hit struct {
	// Entry is a snapshot of the matched entry after the hit was recorded.
	Entry Entry
	// Similarity is the cosine similarity, 1 for exact matches.
	Similarity float64
	// Exact is true when the normalized question matched verbatim.
	Exact bool
}

// Response is the payload stored for a question.
type Response struct {
	// Answer is the answer text.
	Answer string
	// Citations are the supporting passages.
	Citations []domain.Citation
	// Confidence is the retrieval confidence.
	Confidence float64
}

// Persister keeps a durable copy of the cache. All calls are best effort:
// failures are logged and never reach callers of the cache.
type Persister interface {
	// SaveCacheEntry inserts one entry.
	SaveCacheEntry(ctx context.Context, e Entry) error
	// DeleteCacheEntries removes entries by id.
	DeleteCacheEntries(ctx context.Context, ids []string) error
	// ClearCacheEntries removes every entry of tenantID, or all entries when
	// tenantID is empty.
	ClearCacheEntries(ctx context.Context, tenantID string) error
	// LoadCacheEntries returns every persisted entry.
	LoadCacheEntries(ctx context.Context) ([]Entry, error)
}

// shard holds one tenant's entries.
type shard struct {
	// mu serializes every operation on entries and pending.
	mu sync.Mutex
	// entries is the tenant's LRU, keyed by entry ID.
	entries *lru.Cache[string, *Entry]
	// pending collects IDs evicted since the last persister flush.
	pending []string
}

// Cache is the semantic response cache. It is safe for concurrent use.
type Cache struct {
	// cfg holds the resolved configuration.
	cfg Config
	// embedder fingerprints questions.
	embedder rag.Embedder
	// persister is optional durable storage.
	persister Persister
	// log is the cache's background logger.
	log *slog.Logger
	// now returns the current time; replaced in tests.
	now func() time.Time

	// mu guards shards. It is held only to find or create a shard.
	mu sync.RWMutex
	// shards maps tenant ID to its shard.
	shards map[string]*shard

	// total is the number of entries across all shards.
	total atomic.Int64
	// hits, misses, stores and removed are lifetime counters.
	hits, misses, stores, removed atomic.Int64

	// stop ends the janitor; done is closed when it has exited.
	stop chan struct{}
	done chan struct{}
	// started is set by the first Start call.
	started atomic.Bool
	// closeOnce guards Close.
	closeOnce sync.Once
}

// New constructs a Cache. persister may be nil. Call Start to run the
// janitor and Close to stop it.
func New(cfg Config, embedder rag.Embedder, persister Persister, log *slog.Logger) (*Cache, error) {
	if embedder == nil {
		return nil, fmt.Errorf("cache: embedder must not be nil")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		cfg:       cfg,
		embedder:  embedder,
		persister: persister,
		log:       log,
		now:       time.Now,
		shards:    make(map[string]*shard),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Config returns the resolved configuration.
func (c *Cache) Config() Config { return c.cfg }

// shardFor returns the shard of tenantID, creating it when create is true.
func (c *Cache) shardFor(tenantID string, create bool) *shard {
	c.mu.RLock()
	s := c.shards[tenantID]
	c.mu.RUnlock()
	if s != nil || !create {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s = c.shards[tenantID]; s != nil {
		return s
	}
	s = &shard{}
	// NewWithEvict only fails for a non-positive size, which withDefaults rules out.
	s.entries, _ = lru.NewWithEvict(c.cfg.MaxEntriesPerTenant, func(id string, _ *Entry) {
		c.total.Add(-1)
		c.removed.Add(1)
		s.pending = append(s.pending, id)
	})
	c.shards[tenantID] = s
	return s
}

// Lookup returns the best entry of tenantID for question, or nil on a miss.
// An embedding failure is reported as a miss.
func (c *Cache) Lookup(ctx context.Context, tenantID, question string) (*Hit, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("cache: lookup: %w: tenant id is required", domain.ErrInvalidInput)
	}
	normalized := romanian.NormalizeQuestion(question)
	if normalized == "" {
		return nil, fmt.Errorf("cache: lookup: %w: empty question", domain.ErrInvalidInput)
	}
	log := logging.FromContext(ctx)

	s := c.shardFor(tenantID, false)
	if s == nil {
		c.misses.Add(1)
		return nil, nil
	}

	if h := c.lookupExact(s, normalized); h != nil {
		c.hits.Add(1)
		log.Debug("cache: exact hit", slog.String("entry_id", h.Entry.ID))
		return h, nil
	}

	ectx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	vec, err := rag.EmbedOne(ectx, c.embedder, normalized)
	cancel()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn("cache: lookup embedding failed, treating as miss",
			slog.Any("error", err),
			slog.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
		)
		c.misses.Add(1)
		return nil, nil
	}

	h := c.lookupSimilar(s, vec)
	if h == nil {
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)
	log.Debug("cache: semantic hit",
		slog.String("entry_id", h.Entry.ID),
		slog.Float64("similarity", h.Similarity),
	)
	return h, nil
}

// lookupExact finds the newest live entry whose normalized question equals
// normalized.
func (c *Cache) lookupExact(s *shard, normalized string) *Hit {
	now := c.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Entry
	for _, e := range s.entries.Values() {
		if e.Normalized != normalized || !now.Before(e.ExpiresAt) {
			continue
		}
		if best == nil || newer(e, best) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	return c.recordHit(s, best, 1, true, now)
}

// lookupSimilar finds the live entry most similar to vec at or above the
// threshold. Equal similarities prefer the most recently created entry.
func (c *Cache) lookupSimilar(s *shard, vec []float32) *Hit {
	now := c.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best    *Entry
		bestSim float64
	)
	for _, e := range s.entries.Values() {
		if !now.Before(e.ExpiresAt) {
			continue
		}
		sim, ok := cosine(vec, e.Embedding)
		if !ok || sim < c.cfg.Threshold {
			continue
		}
		if best == nil || sim > bestSim || (sim == bestSim && newer(e, best)) {
			best, bestSim = e, sim
		}
	}
	if best == nil {
		return nil
	}
	return c.recordHit(s, best, bestSim, false, now)
}

// recordHit bumps the entry's recency and eviction metadata and returns a
// snapshot. Callers hold s.mu.
func (c *Cache) recordHit(s *shard, e *Entry, sim float64, exact bool, now time.Time) *Hit {
	s.entries.Get(e.ID)
	e.HitCount++
	e.LastAccess = now
	return &Hit{Entry: cloneEntry(e), Similarity: sim, Exact: exact}
}

// Store adds a new entry for question. Near-duplicates are never merged. The
// call is bounded by StoreTimeout; an embedding failure skips the write and
// returns nil.
func (c *Cache) Store(ctx context.Context, tenantID, question string, resp Response) error {
	if tenantID == "" {
		return fmt.Errorf("cache: store: %w: tenant id is required", domain.ErrInvalidInput)
	}
	normalized := romanian.NormalizeQuestion(question)
	if normalized == "" || strings.TrimSpace(resp.Answer) == "" {
		return fmt.Errorf("cache: store: %w: question and answer are required", domain.ErrInvalidInput)
	}
	log := logging.FromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	vec, err := rag.EmbedOne(ctx, c.embedder, normalized)
	if err != nil {
		log.Warn("cache: store skipped, embedding failed", slog.Any("error", err))
		return nil
	}

	now := c.now()
	e := &Entry{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Question:   question,
		Normalized: normalized,
		Embedding:  vec,
		Answer:     resp.Answer,
		Citations:  append([]domain.Citation(nil), resp.Citations...),
		Confidence: resp.Confidence,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.cfg.TTL),
		LastAccess: now,
	}

	s := c.shardFor(tenantID, true)
	s.mu.Lock()
	c.total.Add(1)
	s.entries.Add(e.ID, e)
	evicted := s.takePending()
	s.mu.Unlock()
	c.stores.Add(1)

	if c.persister != nil {
		if err := c.persister.SaveCacheEntry(ctx, cloneEntry(e)); err != nil {
			log.Warn("cache: persist entry failed", slog.Any("error", err))
		}
		c.deletePersisted(ctx, evicted)
	}
	log.Debug("cache: stored", slog.String("entry_id", e.ID), slog.Int("evicted", len(evicted)))
	return nil
}

// takePending returns and clears the evicted IDs. Callers hold s.mu.
func (s *shard) takePending() []string {
	ids := s.pending
	s.pending = nil
	return ids
}

// deletePersisted removes evicted entries from the persister, logging
// failures.
func (c *Cache) deletePersisted(ctx context.Context, ids []string) {
	if c.persister == nil || len(ids) == 0 {
		return
	}
	if err := c.persister.DeleteCacheEntries(ctx, ids); err != nil {
		logging.FromContext(ctx).Warn("cache: delete persisted entries failed",
			slog.Int("count", len(ids)),
			slog.Any("error", err),
		)
	}
}

// newer reports whether a was created after b, ties broken by ID.
func newer(a, b *Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// cosine returns the cosine similarity of a and b. ok is false when the
// dimensions differ or either vector is zero.
func cosine(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / math.Sqrt(na*nb), true
}

// cloneEntry returns a copy of e that shares no mutable state.
func cloneEntry(e *Entry) Entry {
	out := *e
	out.Citations = append([]domain.Citation(nil), e.Citations...)
	out.Embedding = append([]float32(nil), e.Embedding...)
	return out
}
