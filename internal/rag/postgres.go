package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/54b3r/primaria-go/internal/domain"
	"github.com/54b3r/primaria-go/internal/romanian"
)

// foldFrom and foldTo drive the SQL translate() call that mirrors
// romanian.Fold for the keyword prefilter.
const (
	foldFrom = "ăâîșțşţ"
	foldTo   = "aaiststt"
)

// maxKeywordCandidates caps the rows fetched by the keyword prefilter before
// they are scored in Go.
const maxKeywordCandidates = 500

// passageOrder is the deterministic tie-break of every lookup, matching
// comparePassages.
const passageOrder = "p.ordinal, p.document_id, p.id"

// HNSW candidate list bounds. pgvector applies the tenant filter after the
// index scan, so the list must be much larger than limit for small tenants
// of a shared table to get hits. pgvector rejects values above 1000.
const (
	defaultEFSearch = 200
	maxEFSearch     = 1000
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PostgresConfig holds connection parameters for a PostgresStore.
type PostgresConfig struct {
	// DSN is the lib/pq connection string.
	DSN string
	// TablePrefix prefixes every table name (default: primaria).
	TablePrefix string
	// Dimensions is the embedding vector size (default: 384).
	Dimensions int
	// CreateSchema creates the pgvector extension, tables and indexes when true.
	CreateSchema bool
	// EFSearch is hnsw.ef_search for semantic lookups (default 200, at
	// least the requested limit, at most 1000).
	EFSearch int
	// IterativeScan sets hnsw.iterative_scan = relaxed_order so filtered
	// lookups keep scanning until limit rows match. Requires pgvector 0.8.
	IterativeScan bool
}

// PostgresStore implements PassageStore and PassageWriter on PostgreSQL with
// the pgvector extension and the built-in "romanian" text search
// configuration.
type PostgresStore struct {
	// db is the shared connection pool.
	db *sql.DB
	// cfg holds the resolved configuration.
	cfg PostgresConfig
	// documents, tenants and passages are the quoted table names.
	documents, tenants, passages string
}

// NewPostgresStore opens the database, verifies connectivity and optionally
// creates the schema.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("rag: postgres: dsn is required")
	}
	if cfg.TablePrefix == "" {
		cfg.TablePrefix = "primaria"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 384
	}
	if cfg.EFSearch <= 0 {
		cfg.EFSearch = defaultEFSearch
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("rag: postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rag: postgres: ping: %w: %w", domain.ErrStorage, err)
	}

	s := &PostgresStore{
		db:        db,
		cfg:       cfg,
		documents: pq.QuoteIdentifier(cfg.TablePrefix + "_documents"),
		tenants:   pq.QuoteIdentifier(cfg.TablePrefix + "_document_tenants"),
		passages:  pq.QuoteIdentifier(cfg.TablePrefix + "_passages"),
	}
	if cfg.CreateSchema {
		if err := s.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// ensureSchema creates the extension, tables and indexes if missing.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	p := s.cfg.TablePrefix
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`, s.documents),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			document_id TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
			tenant_id TEXT NOT NULL,
			PRIMARY KEY (document_id, tenant_id)
		)`, s.tenants, s.documents),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
			tenant_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			page_number INTEGER,
			metadata JSONB DEFAULT '{}'::jsonb
		)`, s.passages, s.documents, s.cfg.Dimensions),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (tenant_id)",
			pq.QuoteIdentifier(p+"_passages_tenant_idx"), s.passages),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (to_tsvector('romanian', content))",
			pq.QuoteIdentifier(p+"_passages_fts_idx"), s.passages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s
			USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)`,
			pq.QuoteIdentifier(p+"_passages_embedding_idx"), s.passages),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rag: postgres: schema: %w", err)
		}
	}
	return nil
}

// selectPassage returns the query prefix shared by every lookup: the
// passage columns, an optional score column and the tenant filter.
func (s *PostgresStore) selectPassage(score string) string {
	if score != "" {
		score = ", " + score + " AS score"
	}
	return fmt.Sprintf(`SELECT p.id, p.document_id, d.name, p.tenant_id, p.ordinal, p.content, p.page_number, p.metadata%s
		FROM %s p JOIN %s d ON d.id = p.document_id
		WHERE p.tenant_id = $1 AND d.processed`, score, s.passages, s.documents)
}

// KeywordSearch prefilters passages containing any folded query token and
// scores them by token density, the same measure MemoryStore uses.
func (s *PostgresStore) KeywordSearch(ctx context.Context, tenantID, query string, limit int) ([]Hit, error) {
	qtoks := keywordTokens(query)
	if len(qtoks) == 0 {
		return nil, nil
	}
	patterns := make([]string, len(qtoks))
	for i, t := range qtoks {
		patterns[i] = "%" + t + "%"
	}

	rows, err := s.db.QueryContext(ctx, s.keywordQuery(), tenantID, pq.Array(patterns), maxKeywordCandidates)
	if err != nil {
		return nil, fmt.Errorf("rag: postgres: keyword search: %w: %w", domain.ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		tf := make(map[string]int)
		count := 0
		for _, t := range romanian.Tokens(p.Text) {
			tf[t]++
			count++
		}
		if score := keywordScore(qtoks, tf, count); score > 0 {
			hits = append(hits, Hit{Passage: p, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rag: postgres: keyword rows: %w: %w", domain.ErrStorage, err)
	}
	return topHits(hits, limit), nil
}

// keywordQuery selects up to $3 candidates containing any of the $2 patterns.
// The fixed order makes the candidate set stable when more rows match.
func (s *PostgresStore) keywordQuery() string {
	return s.selectPassage("") + fmt.Sprintf(`
		AND translate(lower(p.content), '%s', '%s') LIKE ANY($2)
		ORDER BY %s
		LIMIT $3`, foldFrom, foldTo, passageOrder)
}

// SemanticSearch orders passages by pgvector cosine distance and reports
// 1 - distance as the score. It runs in a read-only transaction so the HNSW
// settings apply to this lookup only.
func (s *PostgresStore) SemanticSearch(ctx context.Context, tenantID string, embedding []float32, limit int) ([]Hit, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("rag: postgres: semantic search: %w: %w", domain.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range s.hnswSettings(limit) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("rag: postgres: semantic search: %w: %w", domain.ErrStorage, err)
		}
	}
	q := s.selectPassage("1 - (p.embedding <=> $2::vector)") + `
		AND p.embedding IS NOT NULL
		ORDER BY p.embedding <=> $2::vector, ` + passageOrder + `
		LIMIT $3`
	return s.scoredQuery(ctx, tx, "semantic search", q, tenantID, vectorLiteral(embedding), limit)
}

// hnswSettings returns the SET LOCAL statements of a semantic lookup.
func (s *PostgresStore) hnswSettings(limit int) []string {
	ef := min(max(s.cfg.EFSearch, limit), maxEFSearch)
	stmts := []string{"SET LOCAL hnsw.ef_search = " + strconv.Itoa(ef)}
	if s.cfg.IterativeScan {
		stmts = append(stmts, "SET LOCAL hnsw.iterative_scan = relaxed_order")
	}
	return stmts
}

// FullTextSearch ranks passages with ts_rank over the "romanian" text search
// configuration. Query words are OR-ed so partial matches still rank.
func (s *PostgresStore) FullTextSearch(ctx context.Context, tenantID, query string, limit int) ([]Hit, error) {
	words := romanian.Words(romanian.ExpandAbbreviations(query))
	if len(words) == 0 {
		return nil, nil
	}
	tsq := strings.Join(words, " | ")

	q := s.selectPassage("ts_rank(to_tsvector('romanian', p.content), to_tsquery('romanian', $2))") + `
		AND to_tsvector('romanian', p.content) @@ to_tsquery('romanian', $2)
		ORDER BY score DESC, ` + passageOrder + `
		LIMIT $3`
	return s.scoredQuery(ctx, s.db, "full-text search", q, tenantID, tsq, limit)
}

// scoredQuery runs a lookup built with a score column.
func (s *PostgresStore) scoredQuery(ctx context.Context, db querier, op, q, tenantID string, arg any, limit int) ([]Hit, error) {
	rows, err := db.QueryContext(ctx, q, tenantID, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("rag: postgres: %s: %w: %w", op, domain.ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		var score float64
		p, err := scanPassage(rows, &score)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Passage: p, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rag: postgres: %s rows: %w: %w", op, domain.ErrStorage, err)
	}
	return topHits(hits, limit), nil
}

// Upsert stores doc, its tenant assignments and replaces its passages in one
// transaction.
func (s *PostgresStore) Upsert(ctx context.Context, doc domain.Document, passages []domain.Passage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rag: postgres: begin: %w: %w", domain.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, name, category, processed)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			processed = EXCLUDED.processed,
			updated_at = NOW()`, s.documents),
		doc.ID, doc.Name, doc.Category, doc.Processed)
	if err != nil {
		return fmt.Errorf("rag: postgres: upsert document %s: %w", doc.ID, err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", s.tenants), doc.ID); err != nil {
		return fmt.Errorf("rag: postgres: clear tenants of %s: %w", doc.ID, err)
	}
	for _, tid := range doc.TenantIDs {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (document_id, tenant_id) VALUES ($1, $2)", s.tenants), doc.ID, tid); err != nil {
			return fmt.Errorf("rag: postgres: assign %s to %s: %w", doc.ID, tid, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", s.passages), doc.ID); err != nil {
		return fmt.Errorf("rag: postgres: clear passages of %s: %w", doc.ID, err)
	}
	insert := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, tenant_id, ordinal, content, embedding, page_number, metadata)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8::jsonb)`, s.passages)
	for _, p := range passages {
		meta, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("rag: postgres: marshal metadata of %s: %w", p.ID, err)
		}
		var emb, page any
		if len(p.Embedding) > 0 {
			emb = vectorLiteral(p.Embedding)
		}
		if p.PageNumber != nil {
			page = *p.PageNumber
		}
		if _, err := tx.ExecContext(ctx, insert, p.ID, doc.ID, p.TenantID, p.Ordinal, p.Text, emb, page, string(meta)); err != nil {
			return fmt.Errorf("rag: postgres: insert passage %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rag: postgres: commit: %w: %w", domain.ErrStorage, err)
	}
	return nil
}

// DeleteDocument removes a document; tenant assignments and passages cascade.
func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.documents), documentID); err != nil {
		return fmt.Errorf("rag: postgres: delete %s: %w: %w", documentID, domain.ErrStorage, err)
	}
	return nil
}

// Name identifies the store in readiness probes.
func (s *PostgresStore) Name() string { return "postgres" }

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// scanPassage scans the selectPassage columns plus any extra destinations.
func scanPassage(rows *sql.Rows, extra ...any) (domain.Passage, error) {
	var (
		p    domain.Passage
		page sql.NullInt64
		meta []byte
	)
	dest := append([]any{&p.ID, &p.DocumentID, &p.DocumentName, &p.TenantID, &p.Ordinal, &p.Text, &page, &meta}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return p, fmt.Errorf("rag: postgres: scan: %w", err)
	}
	if page.Valid {
		p.PageNumber = domain.Page(int(page.Int64))
	}
	if len(meta) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(meta, &raw); err == nil {
			p.Metadata = make(map[string]string, len(raw))
			for k, v := range raw {
				if str, ok := v.(string); ok {
					p.Metadata[k] = str
				}
			}
		}
	}
	return p, nil
}

// vectorLiteral formats v in pgvector's text representation.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
