package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/54b3r/primaria-go/internal/domain"
)

// Upsert stores doc, its tenant assignments and replaces its passages in one
// transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, doc domain.Document, passages []domain.Passage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	const upsertDoc = `
INSERT INTO documents (id, name, category, processed, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    category = excluded.category,
    processed = excluded.processed,
    updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsertDoc, doc.ID, doc.Name, doc.Category, doc.Processed, now, now); err != nil {
		return fmt.Errorf("store: upsert document %s: %w", doc.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_tenants WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("store: clear tenants of %s: %w", doc.ID, err)
	}
	for _, tid := range doc.TenantIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO document_tenants (document_id, tenant_id) VALUES (?, ?)`, doc.ID, tid); err != nil {
			return fmt.Errorf("store: assign %s to %s: %w", doc.ID, tid, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM passages WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("store: clear passages of %s: %w", doc.ID, err)
	}
	const insertPassage = `
INSERT INTO passages (id, document_id, tenant_id, ordinal, content, embedding, page_number, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, p := range passages {
		meta, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("store: marshal metadata of %s: %w", p.ID, err)
		}
		var page any
		if p.PageNumber != nil {
			page = *p.PageNumber
		}
		if _, err := tx.ExecContext(ctx, insertPassage,
			p.ID, doc.ID, p.TenantID, p.Ordinal, p.Text, encodeVector(p.Embedding), page, string(meta)); err != nil {
			return fmt.Errorf("store: insert passage %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// DeleteDocument removes a document, its tenant assignments and passages.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM passages WHERE document_id = ?`,
		`DELETE FROM document_tenants WHERE document_id = ?`,
		`DELETE FROM documents WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, documentID); err != nil {
			return fmt.Errorf("store: delete document %s: %w", documentID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Documents returns every stored document with its tenant assignments,
// ordered by id.
func (s *SQLiteStore) Documents(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, category, processed, created_at, updated_at
FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	index := make(map[string]int)
	for rows.Next() {
		var (
			d                domain.Document
			created, updated int64
		)
		if err := rows.Scan(&d.ID, &d.Name, &d.Category, &d.Processed, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: documents scan: %w", err)
		}
		d.CreatedAt = time.Unix(created, 0)
		d.UpdatedAt = time.Unix(updated, 0)
		index[d.ID] = len(docs)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: documents rows: %w", err)
	}
	_ = rows.Close()

	trows, err := s.db.QueryContext(ctx, `SELECT document_id, tenant_id FROM document_tenants ORDER BY document_id, tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("store: document tenants: %w", err)
	}
	defer trows.Close()
	for trows.Next() {
		var docID, tenantID string
		if err := trows.Scan(&docID, &tenantID); err != nil {
			return nil, fmt.Errorf("store: document tenants scan: %w", err)
		}
		if i, ok := index[docID]; ok {
			docs[i].TenantIDs = append(docs[i].TenantIDs, tenantID)
		}
	}
	if err := trows.Err(); err != nil {
		return nil, fmt.Errorf("store: document tenants rows: %w", err)
	}
	return docs, nil
}

// Passages returns the passages of documentID ordered by tenant and ordinal.
// DocumentName is filled from the documents table.
func (s *SQLiteStore) Passages(ctx context.Context, documentID string) ([]domain.Passage, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT p.id, p.document_id, d.name, p.tenant_id, p.ordinal, p.content, p.embedding, p.page_number, p.metadata
FROM passages p JOIN documents d ON d.id = p.document_id
WHERE p.document_id = ?
ORDER BY p.tenant_id, p.ordinal, p.id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("store: passages: %w", err)
	}
	defer rows.Close()

	var out []domain.Passage
	for rows.Next() {
		var (
			p    domain.Passage
			emb  []byte
			page sql.NullInt64
			meta string
		)
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.DocumentName, &p.TenantID, &p.Ordinal, &p.Text, &emb, &page, &meta); err != nil {
			return nil, fmt.Errorf("store: passages scan: %w", err)
		}
		p.Embedding = decodeVector(emb)
		if page.Valid {
			p.PageNumber = domain.Page(int(page.Int64))
		}
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &p.Metadata); err != nil {
				return nil, fmt.Errorf("store: passage %s metadata: %w", p.ID, err)
			}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: passages rows: %w", err)
	}
	return out, nil
}
