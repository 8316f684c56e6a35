// Package ingestion turns municipal documents into passages: it reads text
// from a file or URL, splits it into overlapping word windows, embeds each
// window and writes the result as a processed document to a passage writer.
// This pipeline is invoked by the `primaria ingest` CLI command.
package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"

	"github.com/54b3r/primaria-go/internal/domain"
	"github.com/54b3r/primaria-go/internal/rag"
)

// Source describes one document to ingest. Exactly one of Path and URL is set.
type Source struct {
	// Path is a local text file.
	Path string
	// URL is an HTTP(S) page serving plain text.
	URL string
	// Name is the file name shown in citations. Defaults to the base name of
	// Path or URL.
	Name string
	// Category overrides the category inferred from Name.
	Category string
	// TenantIDs are the municipalities the document is assigned to.
	TenantIDs []string
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkWords is the number of words per passage. Defaults to 300.
	ChunkWords int
	// OverlapWords is the number of words repeated between consecutive
	// passages. Defaults to 30.
	OverlapWords int
	// BatchSize is the number of passages embedded per call. Defaults to 32.
	BatchSize int
	// HTTPTimeout is the timeout for each fetch. Defaults to 30s.
	HTTPTimeout time.Duration
	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string
}

// Report summarizes one ingested document.
type Report struct {
	DocumentID string
	Name       string
	Category   string
	Chunks     int
	Passages   int
}

// Pipeline orchestrates the read → chunk → embed → write flow.
type Pipeline struct {
	embedder   rag.Embedder
	writer     rag.PassageWriter
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, writer rag.PassageWriter, cfg Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if writer == nil {
		return nil, fmt.Errorf("ingestion: writer must not be nil")
	}
	if cfg.ChunkWords <= 0 {
		cfg.ChunkWords = 300
	}
	if cfg.OverlapWords < 0 {
		cfg.OverlapWords = 0
	}
	if cfg.OverlapWords >= cfg.ChunkWords {
		cfg.OverlapWords = cfg.ChunkWords / 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "primaria-go/1.0 (document ingestion)"
	}
	return &Pipeline{
		embedder:   embedder,
		writer:     writer,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		now:        time.Now,
	}, nil
}

// Ingest processes sources sequentially and returns the first error
// encountered. Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, sources []Source, progress func(msg string)) ([]Report, error) {
	if progress == nil {
		progress = func(string) {}
	}
	reports := make([]Report, 0, len(sources))
	for _, src := range sources {
		rep, err := p.ingestOne(ctx, src, progress)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func (p *Pipeline) ingestOne(ctx context.Context, src Source, progress func(string)) (Report, error) {
	location := src.Path
	if src.URL != "" {
		location = src.URL
	}
	if (src.Path == "") == (src.URL == "") {
		return Report{}, fmt.Errorf("ingestion: %w: exactly one of path and url must be set", domain.ErrInvalidInput)
	}
	if len(src.TenantIDs) == 0 {
		return Report{}, fmt.Errorf("ingestion: %w: %s has no tenants", domain.ErrInvalidInput, location)
	}

	name := src.Name
	if name == "" {
		name = baseName(src)
	}
	category := src.Category
	if category == "" {
		category = InferCategory(name)
	}

	progress(fmt.Sprintf("reading %s", location))
	text, err := p.read(ctx, src)
	if err != nil {
		return Report{}, fmt.Errorf("ingestion: read %s: %w", location, err)
	}

	chunks := Chunk(text, p.cfg.ChunkWords, p.cfg.OverlapWords)
	progress(fmt.Sprintf("chunked %s into %d passages", name, len(chunks)))

	embeddings, err := p.embed(ctx, chunks)
	if err != nil {
		return Report{}, fmt.Errorf("ingestion: embedding failed for %s: %w", name, err)
	}

	now := p.now()
	doc := domain.Document{
		ID:        DocumentID(name),
		Name:      name,
		Category:  category,
		Processed: true,
		TenantIDs: src.TenantIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	passages := make([]domain.Passage, 0, len(chunks)*len(src.TenantIDs))
	for _, tid := range src.TenantIDs {
		for i, c := range chunks {
			passages = append(passages, domain.Passage{
				ID:           fmt.Sprintf("%s-%s-%d", doc.ID, tid, i),
				DocumentID:   doc.ID,
				DocumentName: name,
				TenantID:     tid,
				Ordinal:      i,
				Text:         c.Text,
				Embedding:    embeddings[i],
				PageNumber:   c.Page,
				Metadata: map[string]string{
					"category":    category,
					"chunk_index": strconv.Itoa(i),
					"word_count":  strconv.Itoa(c.Words),
				},
			})
		}
	}

	if err := p.writer.Upsert(ctx, doc, passages); err != nil {
		return Report{}, fmt.Errorf("ingestion: write %s: %w", name, err)
	}
	progress(fmt.Sprintf("ingested %d passages from %s", len(passages), name))

	return Report{
		DocumentID: doc.ID,
		Name:       name,
		Category:   category,
		Chunks:     len(chunks),
		Passages:   len(passages),
	}, nil
}

// embed calls the embedder in batches and checks the result shape.
func (p *Pipeline) embed(ctx context.Context, chunks []Passage) ([][]float32, error) {
	out := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vecs, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", domain.ErrEmbedding, len(vecs), len(texts))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// read loads the source as text. Bytes that are not valid UTF-8 are decoded
// as ISO 8859-16, the Romanian legacy code page.
func (p *Pipeline) read(ctx context.Context, src Source) (string, error) {
	var raw []byte
	var err error
	if src.URL != "" {
		raw, err = p.fetch(ctx, src.URL)
	} else {
		raw, err = os.ReadFile(src.Path)
	}
	if err != nil {
		return "", err
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	decoded, err := charmap.ISO8859_16.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decoding legacy text: %w", err)
	}
	return string(decoded), nil
}

// fetch retrieves the raw body of a URL.
func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return buf.Bytes(), nil
}

// DocumentID derives a stable document id from its file name, so
// re-ingesting the same file replaces its passages.
func DocumentID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("primaria:document:"+name)).String()
}

func baseName(src Source) string {
	if src.URL != "" {
		u := src.URL
		if i := strings.IndexAny(u, "?#"); i >= 0 {
			u = u[:i]
		}
		if b := path.Base(strings.TrimRight(u, "/")); b != "." && b != "/" {
			return b
		}
		return u
	}
	return filepath.Base(src.Path)
}
