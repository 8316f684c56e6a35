// Package config provides YAML-based configuration for primaria.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. PRIMARIA_CONFIG environment variable
//  3. ~/.primaria/config.yaml
//  4. ./primaria.yaml
//
// Flat provider and connection settings (model, embedding, qdrant, logging,
// tracing) are projected onto the env vars the provider and embedder
// factories read. Retrieval, cache, orchestrator, store, ingestion and tenant
// settings are typed sections returned on [Config].
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/54b3r/primaria-go/internal/assembler"
	"github.com/54b3r/primaria-go/internal/cache"
	"github.com/54b3r/primaria-go/internal/domain"
	"github.com/54b3r/primaria-go/internal/ingestion"
	"github.com/54b3r/primaria-go/internal/orchestrator"
	"github.com/54b3r/primaria-go/internal/rag"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider for retrieval and the cache.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the optional Qdrant semantic index.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`

	// Retrieval configures hybrid retrieval and score fusion.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Cache configures the semantic response cache.
	Cache CacheConfig `yaml:"cache"`

	// Orchestrator configures the question pipeline.
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Store selects the passage store backends and the local database.
	Store StoreConfig `yaml:"store"`

	// Ingestion configures document chunking.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Tenants is the municipality registry.
	Tenants []domain.Tenant `yaml:"tenants"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, bedrock, gemini.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`

	Ollama  OllamaConfig  `yaml:"ollama"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Azure   AzureConfig   `yaml:"azure"`
	Bedrock BedrockConfig `yaml:"bedrock"`
	Gemini  GeminiConfig  `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// BedrockConfig holds AWS Bedrock provider settings.
type BedrockConfig struct {
	Region  string `yaml:"region"`
	ModelID string `yaml:"model_id"`
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, hash).
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var PRIMARIA_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the sustained per-IP request rate on /api/chat.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-IP burst on /api/chat.
	RateBurst int `yaml:"rate_burst"`
	// TrustProxy takes the client IP from X-Forwarded-For when the server
	// runs behind a reverse proxy.
	TrustProxy bool `yaml:"trust_proxy"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
	// SampleRate is the fraction of answers traced, in (0, 1].
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// RetrievalConfig holds hybrid retrieval settings.
type RetrievalConfig struct {
	TopK             int               `yaml:"top_k"`
	Normalization    rag.Normalization `yaml:"normalization"`
	RankConstant     int               `yaml:"rank_constant"`
	CandidateFactor  int               `yaml:"candidate_factor"`
	MinSemanticScore float64           `yaml:"min_semantic_score"`
	Weights          rag.Weights       `yaml:"weights"`
	// SemanticTimeout bounds the query embedding and semantic lookup.
	SemanticTimeout time.Duration `yaml:"semantic_timeout"`
}

// CacheConfig holds semantic cache settings.
type CacheConfig struct {
	// Enabled turns the response cache on. Defaults to true.
	Enabled             bool          `yaml:"enabled"`
	Threshold           float64       `yaml:"threshold"`
	TTL                 time.Duration `yaml:"ttl"`
	MaxEntriesPerTenant int           `yaml:"max_entries_per_tenant"`
	MaxEntries          int           `yaml:"max_entries"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	StoreTimeout        time.Duration `yaml:"store_timeout"`
	LookupTimeout       time.Duration `yaml:"lookup_timeout"`
	// Persist mirrors entries into the local SQLite database so they survive restarts.
	Persist bool `yaml:"persist"`
}

// OrchestratorConfig holds question pipeline settings.
type OrchestratorConfig struct {
	AssemblerTimeout time.Duration             `yaml:"assembler_timeout"`
	MaxHistory       int                       `yaml:"max_history"`
	Invalidation     orchestrator.Invalidation `yaml:"invalidation"`
	// Polish applies Romanian answer polishing.
	Polish bool `yaml:"polish"`
	// ContextChars caps the grounding context passed to the model.
	ContextChars int `yaml:"context_chars"`
}

// StoreConfig selects the passage store backends.
type StoreConfig struct {
	// Backend is the primary passage store: memory or postgres.
	Backend string `yaml:"backend"`
	// PostgresDSN is the connection string when Backend is postgres.
	// Prefer env var POSTGRES_DSN.
	PostgresDSN string `yaml:"postgres_dsn"`
	// EFSearch is the pgvector HNSW candidate list size per semantic lookup
	// (default 200).
	EFSearch int `yaml:"ef_search"`
	// IterativeScan keeps scanning the HNSW index until enough rows pass the
	// tenant filter. Requires pgvector 0.8 or later.
	IterativeScan bool `yaml:"iterative_scan"`
	// Semantic optionally delegates semantic search to qdrant.
	Semantic string `yaml:"semantic"`
	// DBPath is the local SQLite database. Set to "disabled" to run without it.
	DBPath string `yaml:"db_path"`
}

// IngestionConfig holds chunking settings.
type IngestionConfig struct {
	ChunkWords   int `yaml:"chunk_words"`
	OverlapWords int `yaml:"overlap_words"`
}

// Store backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	SemanticQdrant  = "qdrant"
	// DBDisabled turns off the local SQLite database.
	DBDisabled = "disabled"
)

// Defaults returns the configuration used when no file sets a value.
func Defaults() *Config {
	fusion := rag.DefaultFusionConfig()
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080},
		Retrieval: RetrievalConfig{
			TopK:             5,
			Normalization:    fusion.Normalization,
			RankConstant:     fusion.RankConstant,
			CandidateFactor:  fusion.CandidateFactor,
			MinSemanticScore: fusion.MinSemanticScore,
			Weights:          fusion.Weights,
			SemanticTimeout:  5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:             true,
			Threshold:           0.92,
			TTL:                 7 * 24 * time.Hour,
			MaxEntriesPerTenant: 500,
			MaxEntries:          5000,
			SweepInterval:       time.Minute,
			StoreTimeout:        2 * time.Second,
			LookupTimeout:       2 * time.Second,
			Persist:             true,
		},
		Orchestrator: OrchestratorConfig{
			AssemblerTimeout: 30 * time.Second,
			MaxHistory:       10,
			Invalidation:     orchestrator.InvalidateNone,
			Polish:           true,
			ContextChars:     assembler.DefaultContextChars,
		},
		Store:     StoreConfig{Backend: BackendMemory},
		Ingestion: IngestionConfig{ChunkWords: 300, OverlapWords: 30},
	}
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"AWS_REGION", func(c *Config) string { return c.Model.Bedrock.Region }},
	{"BEDROCK_MODEL_ID", func(c *Config) string { return c.Model.Bedrock.ModelID }},
	{"BEDROCK_BASE_URL", func(c *Config) string { return c.Model.Bedrock.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"PRIMARIA_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
	{"LANGFUSE_SAMPLE_RATE", func(c *Config) string { return float32Str(float32(c.Tracing.SampleRate)) }},
	{"LANGFUSE_ENVIRONMENT", func(c *Config) string { return c.Tracing.Environment }},
}

// Load resolves and reads the YAML config file, applies its flat settings as
// environment variables (existing env vars are never overwritten) and returns
// the typed configuration with env overrides applied and validated.
// The returned path is empty when no file was found; the defaults are then
// returned.
func Load(explicitPath string, log *slog.Logger) (*Config, string, error) {
	cfg := Defaults()

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using defaults and env vars")
	} else {
		if err := decodeFile(path, cfg); err != nil {
			return nil, "", err
		}
		applied := applyEnv(cfg)
		log.Info("config: loaded YAML config",
			slog.String("path", path),
			slog.Int("keys_applied", applied),
			slog.Int("tenants", len(cfg.Tenants)),
		)
	}

	cfg.applyOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// decodeFile decodes path over cfg. Unknown keys are rejected.
func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

// applyEnv projects the flat settings of cfg onto unset env vars and returns
// how many were applied.
func applyEnv(cfg *Config) int {
	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set, do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}
	return applied
}

// applyOverrides copies env vars that win over typed sections.
func (c *Config) applyOverrides() {
	if v := os.Getenv("PRIMARIA_DB"); v != "" {
		c.Store.DBPath = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Store.PostgresDSN = v
	}
	if v := os.Getenv("PRIMARIA_STORE_BACKEND"); v != "" {
		c.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("PRIMARIA_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.FusionConfig().Validate(); err != nil {
		return fmt.Errorf("config: retrieval: %w", err)
	}
	if c.Retrieval.TopK < 0 {
		return fmt.Errorf("config: retrieval.top_k must not be negative")
	}
	if c.Cache.Enabled {
		if err := c.CacheConfig().Validate(); err != nil {
			return fmt.Errorf("config: cache: %w", err)
		}
	}
	if err := c.OrchestratorConfig().Validate(); err != nil {
		return fmt.Errorf("config: orchestrator: %w", err)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: store.backend postgres requires store.postgres_dsn or POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unknown store.backend %q, valid values: memory, postgres", c.Store.Backend)
	}
	switch c.Store.Semantic {
	case "", SemanticQdrant:
	default:
		return fmt.Errorf("config: unknown store.semantic %q, valid values: qdrant", c.Store.Semantic)
	}

	if c.Ingestion.ChunkWords < 0 || c.Ingestion.OverlapWords < 0 {
		return fmt.Errorf("config: ingestion word counts must not be negative")
	}
	if c.Ingestion.ChunkWords > 0 && c.Ingestion.OverlapWords >= c.Ingestion.ChunkWords {
		return fmt.Errorf("config: ingestion.overlap_words must be smaller than chunk_words")
	}

	seen := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		if t.ID == "" {
			return fmt.Errorf("config: tenant with empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("config: duplicate tenant id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// FusionConfig returns the retrieval section as a rag fusion config.
func (c *Config) FusionConfig() rag.FusionConfig {
	return rag.FusionConfig{
		Weights:          c.Retrieval.Weights,
		Normalization:    c.Retrieval.Normalization,
		RankConstant:     c.Retrieval.RankConstant,
		CandidateFactor:  c.Retrieval.CandidateFactor,
		MinSemanticScore: c.Retrieval.MinSemanticScore,
	}
}

// RetrieverConfig returns the retrieval section as a retriever config.
func (c *Config) RetrieverConfig() rag.RetrieverConfig {
	return rag.RetrieverConfig{
		Fusion:          c.FusionConfig(),
		DefaultTopK:     c.Retrieval.TopK,
		SemanticTimeout: c.Retrieval.SemanticTimeout,
	}
}

// CacheConfig returns the cache section as a cache config.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		Threshold:           c.Cache.Threshold,
		TTL:                 c.Cache.TTL,
		MaxEntriesPerTenant: c.Cache.MaxEntriesPerTenant,
		MaxEntries:          c.Cache.MaxEntries,
		SweepInterval:       c.Cache.SweepInterval,
		StoreTimeout:        c.Cache.StoreTimeout,
		LookupTimeout:       c.Cache.LookupTimeout,
	}
}

// OrchestratorConfig returns the orchestrator section as an orchestrator config.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		AssemblerTimeout: c.Orchestrator.AssemblerTimeout,
		MaxHistory:       c.Orchestrator.MaxHistory,
		TopK:             c.Retrieval.TopK,
		Invalidation:     c.Orchestrator.Invalidation,
	}
}

// AssemblerConfig returns the answer generation settings.
func (c *Config) AssemblerConfig() assembler.Config {
	return assembler.Config{ContextChars: c.Orchestrator.ContextChars, Polish: c.Orchestrator.Polish}
}

// IngestionConfig returns the chunking settings as a pipeline config.
func (c *Config) IngestionConfig() ingestion.Config {
	return ingestion.Config{ChunkWords: c.Ingestion.ChunkWords, OverlapWords: c.Ingestion.OverlapWords}
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("PRIMARIA_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".primaria", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("primaria.yaml"); err == nil {
		return "primaria.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
