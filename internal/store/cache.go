package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/54b3r/primaria-go/internal/cache"
)

// SaveCacheEntry inserts one cache entry.
func (s *SQLiteStore) SaveCacheEntry(ctx context.Context, e cache.Entry) error {
	citations, err := json.Marshal(e.Citations)
	if err != nil {
		return fmt.Errorf("store: marshal citations: %w", err)
	}
	const q = `
INSERT OR REPLACE INTO cache_entries
    (id, tenant_id, question, normalized, embedding, answer, citations, confidence, created_at, expires_at, hit_count, last_access)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		e.ID, e.TenantID, e.Question, e.Normalized, encodeVector(e.Embedding), e.Answer,
		string(citations), e.Confidence, e.CreatedAt.UnixNano(), e.ExpiresAt.UnixNano(),
		e.HitCount, e.LastAccess.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: save cache entry: %w", err)
	}
	return nil
}

// DeleteCacheEntries removes entries by id.
func (s *SQLiteStore) DeleteCacheEntries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `DELETE FROM cache_entries WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("store: delete cache entries: %w", err)
	}
	return nil
}

// ClearCacheEntries removes the entries of tenantID, or all entries when
// tenantID is empty.
func (s *SQLiteStore) ClearCacheEntries(ctx context.Context, tenantID string) error {
	var err error
	if tenantID == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE tenant_id = ?`, tenantID)
	}
	if err != nil {
		return fmt.Errorf("store: clear cache entries: %w", err)
	}
	return nil
}

// LoadCacheEntries returns every persisted entry.
func (s *SQLiteStore) LoadCacheEntries(ctx context.Context) ([]cache.Entry, error) {
	const q = `
SELECT id, tenant_id, question, normalized, embedding, answer, citations, confidence,
       created_at, expires_at, hit_count, last_access
FROM cache_entries`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: load cache entries: %w", err)
	}
	defer rows.Close()

	var out []cache.Entry
	for rows.Next() {
		var (
			e                            cache.Entry
			emb                          []byte
			citations                    string
			created, expires, lastAccess int64
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Question, &e.Normalized, &emb, &e.Answer,
			&citations, &e.Confidence, &created, &expires, &e.HitCount, &lastAccess); err != nil {
			return nil, fmt.Errorf("store: scan cache entry: %w", err)
		}
		if err := json.Unmarshal([]byte(citations), &e.Citations); err != nil {
			return nil, fmt.Errorf("store: cache entry %s citations: %w", e.ID, err)
		}
		e.Embedding = decodeVector(emb)
		e.CreatedAt = time.Unix(0, created)
		e.ExpiresAt = time.Unix(0, expires)
		e.LastAccess = time.Unix(0, lastAccess)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: cache entry rows: %w", err)
	}
	return out, nil
}

// encodeVector packs v as little-endian float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
