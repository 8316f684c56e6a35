package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// geminiMaxBatch is the batch limit of the embedContent endpoint.
const geminiMaxBatch = 100

// GeminiEmbedder embeds text with the Gemini API through the genai client
// the chat provider also uses. It is safe for concurrent use.
type GeminiEmbedder struct {
	models     *genai.Models
	model      string
	dimensions int
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	APIKey string
	// Model is the embedding model (e.g. "text-embedding-004").
	Model string
	// Dimensions is requested as the output dimensionality and enforced.
	Dimensions int
}

// NewGeminiEmbedder constructs a GeminiEmbedder from the given config.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: client: %w", err)
	}
	return &GeminiEmbedder{models: client.Models, model: cfg.Model, dimensions: cfg.Dimensions}, nil
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	prepared, err := prepareTexts(texts, 0)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: %w", err)
	}
	vecs, err := embedBatches(ctx, prepared, geminiMaxBatch, e.embed)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: %w", err)
	}
	return vecs, nil
}

func (e *GeminiEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{}
	if e.dimensions > 0 {
		dims := int32(e.dimensions) //nolint:gosec // dimensions are bounded
		cfg.OutputDimensionality = &dims
	}

	resp, err := e.models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb != nil {
			vecs[i] = emb.Values
		}
	}
	if err := checkVectors(vecs, len(texts), e.dimensions); err != nil {
		return nil, err
	}
	return vecs, nil
}
