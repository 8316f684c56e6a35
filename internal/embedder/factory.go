package embedder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/54b3r/primaria-go/internal/rag"
)

// Embedding backends.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendAzure  = "azure"
	BackendGemini = "gemini"
	BackendHash   = "hash"
)

// Default models and their output sizes. all-minilm is the Ollama build of
// the sentence-transformer the municipal corpus was first indexed with.
const (
	defaultOllamaModel = "all-minilm"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	defaultOllamaDimensions = 384
	defaultOpenAIDimensions = 1536
	defaultGeminiDimensions = 768
)

// Settings is the resolved embedder configuration.
type Settings struct {
	Backend    string
	Model      string
	APIKey     string
	Endpoint   string
	APIVersion string
	// Dimensions is the vector length shared by the passage index, the
	// Qdrant collection and the cache.
	Dimensions int
	// KeepAlive applies to Ollama only.
	KeepAlive string
	Timeout   time.Duration
}

// Backend returns the embedding backend SettingsFromEnv resolves to:
// EMBEDDING_PROVIDER, then MODEL_PROVIDER, then "ollama". Chat-only
// providers fall back to ollama.
func Backend() string {
	if b := os.Getenv("EMBEDDING_PROVIDER"); b != "" {
		return b
	}
	switch b := getEnvOrDefault("MODEL_PROVIDER", BackendOllama); b {
	case BackendOpenAI, BackendAzure, BackendGemini:
		return b
	default:
		return BackendOllama
	}
}

// DefaultDimensions returns the vector size for backend. EMBEDDING_DIMENSIONS
// always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case BackendOllama:
		return defaultOllamaDimensions
	case BackendHash:
		return defaultHashDimensions
	case BackendGemini:
		return defaultGeminiDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// SettingsFromEnv resolves the embedder settings. Credentials and endpoints
// are inherited from the chat provider's variables unless the EMBEDDING_*
// overrides are set:
//
//	EMBEDDING_PROVIDER    ollama | openai | azure | gemini | hash
//	EMBEDDING_MODEL       model or Azure deployment
//	EMBEDDING_API_KEY     else OPENAI_API_KEY, AZURE_OPENAI_API_KEY, GOOGLE_API_KEY
//	EMBEDDING_ENDPOINT    else OLLAMA_HOST, AZURE_OPENAI_ENDPOINT
//	EMBEDDING_DIMENSIONS  vector length
//	EMBEDDING_TIMEOUT     per-request timeout (e.g. 45s)
func SettingsFromEnv() Settings {
	s := Settings{
		Backend:   Backend(),
		Model:     os.Getenv("EMBEDDING_MODEL"),
		APIKey:    os.Getenv("EMBEDDING_API_KEY"),
		Endpoint:  os.Getenv("EMBEDDING_ENDPOINT"),
		KeepAlive: os.Getenv("OLLAMA_KEEP_ALIVE"),
	}
	s.Dimensions = DefaultDimensions(s.Backend)
	if d, err := time.ParseDuration(os.Getenv("EMBEDDING_TIMEOUT")); err == nil {
		s.Timeout = d
	}

	switch s.Backend {
	case BackendOllama:
		s.Model = firstNonEmpty(s.Model, defaultOllamaModel)
		s.Endpoint = firstNonEmpty(s.Endpoint, os.Getenv("OLLAMA_HOST"), "http://localhost:11434")
	case BackendOpenAI:
		s.Model = firstNonEmpty(s.Model, defaultOpenAIModel)
		s.APIKey = firstNonEmpty(s.APIKey, os.Getenv("OPENAI_API_KEY"))
		s.Endpoint = firstNonEmpty(s.Endpoint, "https://api.openai.com/v1")
	case BackendAzure:
		s.Model = firstNonEmpty(s.Model, defaultOpenAIModel)
		s.APIKey = firstNonEmpty(s.APIKey, os.Getenv("AZURE_OPENAI_API_KEY"))
		s.Endpoint = firstNonEmpty(s.Endpoint, os.Getenv("AZURE_OPENAI_ENDPOINT"))
		s.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview")
	case BackendGemini:
		s.Model = firstNonEmpty(s.Model, defaultGeminiModel)
		s.APIKey = firstNonEmpty(s.APIKey, os.Getenv("GOOGLE_API_KEY"))
	}
	return s
}

// Validate reports settings the backend cannot start with.
func (s Settings) Validate() error {
	var errs []error
	switch s.Backend {
	case BackendOllama, BackendHash:
	case BackendOpenAI:
		if s.APIKey == "" {
			errs = append(errs, errors.New("openai requires OPENAI_API_KEY or EMBEDDING_API_KEY"))
		}
	case BackendAzure:
		if s.APIKey == "" {
			errs = append(errs, errors.New("azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY"))
		}
		if s.Endpoint == "" {
			errs = append(errs, errors.New("azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT"))
		}
	case BackendGemini:
		if s.APIKey == "" {
			errs = append(errs, errors.New("gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (valid: ollama, openai, azure, gemini, hash)", s.Backend))
	}
	if s.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("dimensions must be positive, got %d", s.Dimensions))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	return nil
}

// New constructs the embedder described by s.
func New(ctx context.Context, s Settings) (rag.Embedder, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Backend {
	case BackendOllama:
		return NewOllamaEmbedder(&OllamaConfig{
			Host:       s.Endpoint,
			Model:      s.Model,
			Dimensions: s.Dimensions,
			KeepAlive:  s.KeepAlive,
			Timeout:    s.Timeout,
		}), nil
	case BackendOpenAI, BackendAzure:
		cfg := &OpenAIConfig{
			BaseURL:    s.Endpoint,
			APIKey:     s.APIKey,
			Model:      s.Model,
			Dimensions: s.Dimensions,
			Timeout:    s.Timeout,
		}
		if s.Backend == BackendAzure {
			cfg.BaseURL = s.Endpoint + "/openai"
			cfg.Azure = true
			cfg.APIVersion = s.APIVersion
		}
		return NewOpenAIEmbedder(cfg), nil
	case BackendGemini:
		return NewGeminiEmbedder(ctx, &GeminiConfig{APIKey: s.APIKey, Model: s.Model, Dimensions: s.Dimensions})
	default:
		return NewHashEmbedder(s.Dimensions), nil
	}
}

// NewFromEnv constructs the embedder from SettingsFromEnv.
func NewFromEnv(ctx context.Context) (rag.Embedder, error) {
	return New(ctx, SettingsFromEnv())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns key parsed as an int, or fallback when unset or invalid.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
