package embedder

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

// clearEnv blanks every variable SettingsFromEnv reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT",
		"EMBEDDING_DIMENSIONS", "EMBEDDING_TIMEOUT", "MODEL_PROVIDER", "OLLAMA_HOST",
		"OLLAMA_KEEP_ALIVE", "OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT",
		"AZURE_OPENAI_API_VERSION", "GOOGLE_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestSettingsFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want Settings
	}{
		{
			name: "defaults to local ollama",
			want: Settings{Backend: BackendOllama, Model: "all-minilm", Endpoint: "http://localhost:11434", Dimensions: 384},
		},
		{
			name: "chat-only provider falls back to ollama",
			env:  map[string]string{"MODEL_PROVIDER": "bedrock", "OLLAMA_HOST": "http://ollama:11434"},
			want: Settings{Backend: BackendOllama, Model: "all-minilm", Endpoint: "http://ollama:11434", Dimensions: 384},
		},
		{
			name: "openai inherits chat key",
			env:  map[string]string{"MODEL_PROVIDER": "openai", "OPENAI_API_KEY": "sk-chat"},
			want: Settings{Backend: BackendOpenAI, Model: "text-embedding-3-small", APIKey: "sk-chat", Endpoint: "https://api.openai.com/v1", Dimensions: 1536},
		},
		{
			name: "embedding overrides win",
			env: map[string]string{
				"EMBEDDING_PROVIDER": "azure", "EMBEDDING_API_KEY": "emb", "AZURE_OPENAI_API_KEY": "chat",
				"AZURE_OPENAI_ENDPOINT": "https://ro.openai.azure.com", "EMBEDDING_DIMENSIONS": "512",
			},
			want: Settings{
				Backend: BackendAzure, Model: "text-embedding-3-small", APIKey: "emb",
				Endpoint: "https://ro.openai.azure.com", APIVersion: "2025-04-01-preview", Dimensions: 512,
			},
		},
		{
			name: "gemini",
			env:  map[string]string{"EMBEDDING_PROVIDER": "gemini", "GOOGLE_API_KEY": "g"},
			want: Settings{Backend: BackendGemini, Model: "text-embedding-004", APIKey: "g", Dimensions: 768},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := SettingsFromEnv(); got != tt.want {
				t.Errorf("got  %+v\nwant %+v", got, tt.want)
			}
		})
	}
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		s       Settings
		wantErr []string
	}{
		{name: "hash", s: Settings{Backend: BackendHash, Dimensions: 64}},
		{name: "openai without key", s: Settings{Backend: BackendOpenAI, Dimensions: 1536}, wantErr: []string{"OPENAI_API_KEY"}},
		{
			name:    "azure reports every missing value",
			s:       Settings{Backend: BackendAzure, Dimensions: 1536},
			wantErr: []string{"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT"},
		},
		{name: "unknown backend", s: Settings{Backend: "bedrock", Dimensions: 1}, wantErr: []string{`unknown backend "bedrock"`}},
		{name: "zero dimensions", s: Settings{Backend: BackendOllama}, wantErr: []string{"dimensions must be positive"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.s.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q missing %q", err, want)
				}
			}
		})
	}
}

func TestNew_Hash(t *testing.T) {
	t.Parallel()

	e, err := New(context.Background(), Settings{Backend: BackendHash, Dimensions: 32})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vecs, err := e.Embed(context.Background(), []string{"taxe locale"})
	if err != nil || len(vecs[0]) != 32 {
		t.Fatalf("Embed = %d dims, %v", len(vecs[0]), err)
	}
}

func TestValidateForRAG_WarnsOnChatModel(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("EMBEDDING_MODEL", "llama3.1:8b")

	var buf bytes.Buffer
	if err := ValidateForRAG(slog.New(slog.NewTextHandler(&buf, nil))); err != nil {
		t.Fatalf("ValidateForRAG: %v", err)
	}
	if !strings.Contains(buf.String(), "looks like a chat model") {
		t.Errorf("missing warning:\n%s", buf.String())
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	for model, want := range map[string]bool{
		"all-minilm":             false,
		"nomic-embed-text":       false,
		"text-embedding-3-small": false,
		"llama3.1:8b":            true,
		"gpt-4o-mini":            true,
		"RoLlama2-7b-Instruct":   true,
	} {
		if got := looksLikeChatModel(model); got != want {
			t.Errorf("looksLikeChatModel(%q) = %t, want %t", model, got, want)
		}
	}
}
