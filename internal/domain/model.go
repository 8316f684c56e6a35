package domain

import (
	"strconv"
	"strings"
	"time"
)

// Tenant is a municipality using the assistant; the unit of data isolation.
type Tenant struct {
	// ID is the stable tenant identifier.
	ID string `json:"id" yaml:"id"`
	// Name is the display name (e.g. "Primăria Municipiului București").
	Name string `json:"name" yaml:"name"`
	// Domain is the unique website domain used for widget routing (e.g. "pmb.ro").
	Domain string `json:"domain" yaml:"domain"`
	// Active is false for tenants that must not be served.
	Active bool `json:"active" yaml:"active"`
}

// Selector identifies a tenant either by ID or by domain. ID wins when both
// are set.
type Selector struct {
	ID     string
	Domain string
}

// IsZero reports whether neither field is set.
func (s Selector) IsZero() bool {
	return strings.TrimSpace(s.ID) == "" && strings.TrimSpace(s.Domain) == ""
}

// String renders the selector for logs.
func (s Selector) String() string {
	if s.ID != "" {
		return "id:" + s.ID
	}
	return "domain:" + s.Domain
}

// Document is an uploaded file assigned to one or more tenants. Only
// passages of processed documents are visible to retrieval.
type Document struct {
	ID        string
	Name      string
	Category  string
	Processed bool
	TenantIDs []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Passage is the unit of retrieval: a slice of one document owned by exactly
// one tenant. Passages are immutable once written.
type Passage struct {
	// ID is unique across all tenants.
	ID string
	// DocumentID identifies the owning document.
	DocumentID string
	// DocumentName is the original file name shown in citations.
	DocumentName string
	// TenantID is denormalized from the document assignment for fast filtering.
	TenantID string
	// Ordinal is the zero-based position of the passage within its document.
	Ordinal int
	// Text is the raw passage text.
	Text string
	// Embedding is the dense vector computed at ingestion time.
	Embedding []float32
	// PageNumber is the source page, nil when unknown.
	PageNumber *int
	// Metadata carries free-form ingestion attributes (category, chunk index).
	Metadata map[string]string
}

// Citation references a passage that supported an answer. Cache entries keep
// the full reference; callers only see DocumentName and PageNumber.
type Citation struct {
	DocumentID   string `json:"document_id"`
	PassageID    string `json:"passage_id"`
	DocumentName string `json:"document_name"`
	PageNumber   *int   `json:"page_number,omitempty"`
}

// Source is the citation shape returned to callers.
type Source struct {
	DocumentName string `json:"document_name"`
	PageNumber   *int   `json:"page_number,omitempty"`
}

// CitationOf builds the citation for p.
func CitationOf(p Passage) Citation {
	return Citation{
		DocumentID:   p.DocumentID,
		PassageID:    p.ID,
		DocumentName: p.DocumentName,
		PageNumber:   p.PageNumber,
	}
}

// Sources projects citations onto the caller-facing shape, dropping
// duplicates of the same document page while keeping first-seen order.
func Sources(cs []Citation) []Source {
	out := make([]Source, 0, len(cs))
	seen := make(map[string]bool, len(cs))
	for _, c := range cs {
		key := c.DocumentName + "#"
		if c.PageNumber != nil {
			key += strconv.Itoa(*c.PageNumber)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Source{DocumentName: c.DocumentName, PageNumber: c.PageNumber})
	}
	return out
}

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser is a message sent by the resident.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the assistant.
	RoleAssistant Role = "assistant"
)

// Turn is one message of recent conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Page returns a pointer to n, for building optional page numbers.
func Page(n int) *int { return &n }
