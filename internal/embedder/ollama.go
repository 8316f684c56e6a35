package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ollamaMaxBatch is the number of inputs sent per /api/embed request. Local
// models on CPU stall on large batches during ingestion.
const ollamaMaxBatch = 32

// OllamaEmbedder embeds text with a local Ollama server's /api/embed
// endpoint. It is safe for concurrent use.
type OllamaEmbedder struct {
	url   string
	model string
	// dimensions is enforced on every vector when positive.
	dimensions int
	keepAlive  string
	client     *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "all-minilm").
	Model string
	// Dimensions is the vector length the passage index was built with.
	Dimensions int
	// KeepAlive is how long Ollama keeps the model loaded after a request
	// (e.g. "30m"). Empty uses the server default.
	KeepAlive string
	// Timeout bounds one request; zero means 60s.
	Timeout time.Duration
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaEmbedder{
		url:        cfg.Host + "/api/embed",
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		keepAlive:  cfg.KeepAlive,
		client:     &http.Client{Timeout: timeout},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	// Truncate lets the server cut inputs longer than the model context
	// instead of failing the whole batch.
	Truncate  bool   `json:"truncate"`
	KeepAlive string `json:"keep_alive,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	prepared, err := prepareTexts(texts, 0)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	vecs, err := embedBatches(ctx, prepared, ollamaMaxBatch, e.embed)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	return vecs, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var result ollamaEmbedResponse
	err := postJSON(ctx, e.client, e.url, nil,
		ollamaEmbedRequest{Model: e.model, Input: texts, Truncate: true, KeepAlive: e.keepAlive},
		&result, ollamaErrorMessage)
	if err != nil {
		return nil, err
	}
	if err := checkVectors(result.Embeddings, len(texts), e.dimensions); err != nil {
		return nil, err
	}
	return result.Embeddings, nil
}

func ollamaErrorMessage(body []byte) string {
	var r struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &r) != nil {
		return ""
	}
	return r.Error
}
