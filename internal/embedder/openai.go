// Package embedder turns passages and resident questions into dense vectors
// for the semantic lookup and the response cache. Remote backends (OpenAI,
// Azure OpenAI, Ollama) are spoken to over their plain JSON APIs; the hash
// backend runs in-process.
package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// openAIMaxBatch is the number of inputs sent per embeddings request.
	openAIMaxBatch = 256
	// openAIMaxRunes keeps an input under the 8191-token model limit for
	// Romanian text, which tokenises at roughly three characters per token.
	openAIMaxRunes = 20_000
)

// OpenAIEmbedder embeds text with the OpenAI or Azure OpenAI embeddings API.
// It is safe for concurrent use.
type OpenAIEmbedder struct {
	url    string
	header http.Header
	model  string
	// dimensions is requested from the API and enforced on every vector.
	dimensions int
	client     *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is "https://api.openai.com/v1" for OpenAI or
	// "https://<resource>.openai.azure.com/openai" for Azure.
	BaseURL string
	APIKey  string
	// Model is the embedding model, or the deployment name on Azure.
	Model string
	// Dimensions is the vector length the passage index was built with.
	// Zero accepts the model default.
	Dimensions int
	// Azure switches to the api-key header and the deployments route.
	Azure bool
	// APIVersion is the Azure api-version query parameter.
	APIVersion string
	// Timeout bounds one request; zero means 30s.
	Timeout time.Duration
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	e := &OpenAIEmbedder{
		url:        cfg.BaseURL + "/embeddings",
		header:     http.Header{},
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}
	if cfg.Azure {
		e.url = cfg.BaseURL + "/deployments/" + cfg.Model + "/embeddings?api-version=" + cfg.APIVersion
		e.header.Set("api-key", cfg.APIKey)
	} else {
		e.header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return e
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type openaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	prepared, err := prepareTexts(texts, openAIMaxRunes)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	vecs, err := embedBatches(ctx, prepared, openAIMaxBatch, e.embed)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	return vecs, nil
}

// embed sends one request. The API may return data out of input order.
func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var result openaiEmbedResponse
	err := postJSON(ctx, e.client, e.url, e.header,
		openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions},
		&result, openaiErrorMessage)
	if err != nil {
		return nil, err
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("index %d out of range [0, %d)", d.Index, len(texts))
		}
		vecs[d.Index] = d.Embedding
	}
	if err := checkVectors(vecs, len(texts), e.dimensions); err != nil {
		return nil, err
	}
	return vecs, nil
}

func openaiErrorMessage(body []byte) string {
	var r openaiErrorResponse
	if json.Unmarshal(body, &r) != nil {
		return ""
	}
	return r.Error.Message
}
