package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/primaria-go/internal/domain"
)

// Payload keys written for every Qdrant point.
const (
	payloadPassageID    = "passage_id"
	payloadDocumentID   = "document_id"
	payloadDocumentName = "document_name"
	payloadTenantID     = "tenant_id"
	payloadOrdinal      = "ordinal"
	payloadContent      = "content"
	payloadPage         = "page_number"
	payloadProcessed    = "processed"
	payloadMetaPrefix   = "meta_"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name (default: primaria_passages).
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore is a SemanticSearcher and PassageWriter backed by a Qdrant
// collection. Every point carries its tenant id and document processed flag
// in the payload and every search filters on both.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a QdrantStore, ensuring the target collection and
// its tenant_id payload index exist.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "primaria_passages"
	}
	if cfg.VectorSize == 0 {
		cfg.VectorSize = 384
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// ensureCollection creates the collection and the tenant_id keyword index if
// they do not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("rag: qdrant: check collection: %w: %w", domain.ErrStorage, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("rag: qdrant: create collection %q: %w", s.cfg.Collection, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.cfg.Collection,
		FieldName:      payloadTenantID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("rag: qdrant: index %s: %w", payloadTenantID, err)
	}
	return nil
}

// SemanticSearch returns the tenant's nearest passages by cosine similarity.
func (s *QdrantStore) SemanticSearch(ctx context.Context, tenantID string, embedding []float32, limit int) ([]Hit, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	n := uint64(max(limit, 1))
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(payloadTenantID, tenantID),
				qdrant.NewMatchBool(payloadProcessed, true),
			},
		},
		Limit:       &n,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant: search: %w: %w", domain.ErrStorage, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, pt := range points {
		hits = append(hits, Hit{Passage: passageFromPayload(pt.GetPayload()), Score: float64(pt.GetScore())})
	}
	return topHits(hits, limit), nil
}

// Upsert replaces the points of doc with one point per passage. Passages
// without an embedding are skipped.
func (s *QdrantStore) Upsert(ctx context.Context, doc domain.Document, passages []domain.Passage) error {
	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(passages))
	for _, p := range passages {
		if len(p.Embedding) == 0 {
			continue
		}
		payload := map[string]any{
			payloadPassageID:    p.ID,
			payloadDocumentID:   doc.ID,
			payloadDocumentName: doc.Name,
			payloadTenantID:     p.TenantID,
			payloadOrdinal:      int64(p.Ordinal),
			payloadContent:      p.Text,
			payloadProcessed:    doc.Processed,
		}
		if p.PageNumber != nil {
			payload[payloadPage] = int64(*p.PageNumber)
		}
		for k, v := range p.Metadata {
			payload[payloadMetaPrefix+k] = v
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(p.ID)),
			Vectors: qdrant.NewVectors(p.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	if len(points) == 0 {
		return nil
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("rag: qdrant: upsert %s: %w: %w", doc.ID, domain.ErrStorage, err)
	}
	return nil
}

// DeleteDocument removes every point of documentID.
func (s *QdrantStore) DeleteDocument(ctx context.Context, documentID string) error {
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadDocumentID, documentID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("rag: qdrant: delete %s: %w: %w", documentID, domain.ErrStorage, err)
	}
	return nil
}

// Name identifies the store in readiness probes.
func (s *QdrantStore) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// pointID maps a passage ID onto the UUID Qdrant requires. The mapping is
// stable so re-ingestion overwrites rather than duplicates.
func pointID(passageID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("primaria:passage:"+passageID)).String()
}

// passageFromPayload rebuilds a passage from a point payload.
func passageFromPayload(payload map[string]*qdrant.Value) domain.Passage {
	p := domain.Passage{
		ID:           payload[payloadPassageID].GetStringValue(),
		DocumentID:   payload[payloadDocumentID].GetStringValue(),
		DocumentName: payload[payloadDocumentName].GetStringValue(),
		TenantID:     payload[payloadTenantID].GetStringValue(),
		Ordinal:      int(payload[payloadOrdinal].GetIntegerValue()),
		Text:         payload[payloadContent].GetStringValue(),
	}
	if v, ok := payload[payloadPage]; ok {
		p.PageNumber = domain.Page(int(v.GetIntegerValue()))
	}
	for k, v := range payload {
		if name, ok := strings.CutPrefix(k, payloadMetaPrefix); ok {
			if p.Metadata == nil {
				p.Metadata = make(map[string]string)
			}
			p.Metadata[name] = v.GetStringValue()
		}
	}
	return p
}
