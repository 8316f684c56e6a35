package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/primaria-go/internal/orchestrator"
	"github.com/54b3r/primaria-go/internal/rag"
)

// writeConfig writes content to a config.yaml in a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// clearEnv unsets keys for the duration of the test.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t, "PRIMARIA_DB", "POSTGRES_DSN", "PRIMARIA_STORE_BACKEND", "PRIMARIA_API_KEY")

	cfg, path, err := Load("/nonexistent/path/config.yaml", slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
	if cfg.Retrieval.TopK != 5 || cfg.Cache.Threshold != 0.92 || cfg.Store.Backend != BackendMemory {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Retrieval.Normalization != rag.NormalizeMinMax {
		t.Errorf("normalization: want minmax, got %q", cfg.Retrieval.Normalization)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	clearEnv(t,
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT", "AZURE_OPENAI_API_VERSION",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"LOG_LEVEL", "LOG_FORMAT",
		"PRIMARIA_DB", "POSTGRES_DSN", "PRIMARIA_STORE_BACKEND", "PRIMARIA_API_KEY",
	)

	cfgPath := writeConfig(t, `
model:
  provider: azure
  max_tokens: 8192
  temperature: 0.3
  azure:
    endpoint: https://my-resource.openai.azure.com
    deployment: gpt-4o
    api_version: "2025-04-01-preview"
embedding:
  provider: ollama
  model: nomic-embed-text
qdrant:
  host: qdrant.internal
  port: 6334
  collection: primarii
logging:
  level: debug
  format: text
retrieval:
  top_k: 8
  normalization: rank
  weights:
    keyword: 0.1
    semantic: 0.6
    full_text: 0.3
cache:
  threshold: 0.95
  ttl: 24h
  persist: false
orchestrator:
  assembler_timeout: 20s
  invalidation: flush_tenant
store:
  semantic: qdrant
tenants:
  - id: pmb
    name: Primăria Municipiului București
    domain: pmb.ro
    active: true
`)

	cfg, loaded, err := Load(cfgPath, slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":           "azure",
		"MODEL_MAX_TOKENS":         "8192",
		"AZURE_OPENAI_ENDPOINT":    "https://my-resource.openai.azure.com",
		"AZURE_OPENAI_DEPLOYMENT":  "gpt-4o",
		"AZURE_OPENAI_API_VERSION": "2025-04-01-preview",
		"EMBEDDING_PROVIDER":       "ollama",
		"EMBEDDING_MODEL":          "nomic-embed-text",
		"QDRANT_HOST":              "qdrant.internal",
		"QDRANT_PORT":              "6334",
		"QDRANT_COLLECTION":        "primarii",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "text",
	}
	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}

	if cfg.Retrieval.TopK != 8 || cfg.Retrieval.Normalization != rag.NormalizeRank {
		t.Errorf("retrieval: got %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.Weights.Semantic != 0.6 {
		t.Errorf("weights: got %+v", cfg.Retrieval.Weights)
	}
	// Unset keys keep their defaults.
	if cfg.Retrieval.RankConstant != 60 {
		t.Errorf("rank_constant: want default 60, got %d", cfg.Retrieval.RankConstant)
	}
	if cfg.Cache.Threshold != 0.95 || cfg.Cache.TTL != 24*time.Hour || cfg.Cache.Persist || !cfg.Cache.Enabled {
		t.Errorf("cache: got %+v", cfg.Cache)
	}
	oc := cfg.OrchestratorConfig()
	if oc.AssemblerTimeout != 20*time.Second || oc.Invalidation != orchestrator.InvalidateFlushTenant || oc.TopK != 8 {
		t.Errorf("orchestrator: got %+v", oc)
	}
	if len(cfg.Tenants) != 1 || cfg.Tenants[0].Domain != "pmb.ro" || !cfg.Tenants[0].Active {
		t.Errorf("tenants: got %+v", cfg.Tenants)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t, "PRIMARIA_DB", "PRIMARIA_STORE_BACKEND", "PRIMARIA_API_KEY")
	cfgPath := writeConfig(t, `
model:
  provider: ollama
store:
  db_path: /var/lib/primaria/from-yaml.db
`)

	// Set env vars BEFORE loading: they should NOT be overwritten.
	t.Setenv("MODEL_PROVIDER", "azure")
	t.Setenv("PRIMARIA_DB", "/tmp/from-env.db")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/primaria")
	t.Setenv("PRIMARIA_STORE_BACKEND", "Postgres")

	cfg, _, err := Load(cfgPath, slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "azure" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "azure", got)
	}
	if cfg.Store.DBPath != "/tmp/from-env.db" {
		t.Errorf("db_path: want env value, got %q", cfg.Store.DBPath)
	}
	if cfg.Store.Backend != BackendPostgres || cfg.Store.PostgresDSN == "" {
		t.Errorf("store: want postgres from env, got %+v", cfg.Store)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "{{invalid yaml")

	if _, _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", "retrieval:\n  topk: 3\n", "field topk not found"},
		{"bad normalization", "retrieval:\n  normalization: softmax\n", "normalization"},
		{"bad invalidation", "orchestrator:\n  invalidation: purge\n", "invalidation"},
		{"bad backend", "store:\n  backend: mysql\n", "store.backend"},
		{"postgres without dsn", "store:\n  backend: postgres\n", "postgres_dsn"},
		{"bad threshold", "cache:\n  threshold: 1.5\n", "threshold"},
		{"overlap too large", "ingestion:\n  chunk_words: 10\n  overlap_words: 10\n", "overlap_words"},
		{"duplicate tenant", "tenants:\n  - id: pmb\n  - id: pmb\n", "duplicate tenant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t, "POSTGRES_DSN", "PRIMARIA_STORE_BACKEND")
			_, _, err := Load(writeConfig(t, tt.content), slog.Default())
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	clearEnv(t, "PRIMARIA_DB", "POSTGRES_DSN", "PRIMARIA_STORE_BACKEND")

	cfg, _, err := Load(writeConfig(t, ""), slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ingestion.ChunkWords != 300 || cfg.Ingestion.OverlapWords != 30 {
		t.Errorf("ingestion defaults: got %+v", cfg.Ingestion)
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
