package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// mapEnv adapts a map to the getenv signature.
func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestConfigFrom(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cfg := ConfigFrom(mapEnv(nil))
		if cfg.Backend != BackendOllama || cfg.Ollama.Model != "gemma2:2b" || cfg.Ollama.Host != "http://localhost:11434" {
			t.Errorf("unexpected defaults: %+v", cfg)
		}
		if cfg.Tuning.MaxTokens != 512 || cfg.Tuning.Temperature != 0.1 {
			t.Errorf("tuning = %+v", cfg.Tuning)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("defaults must validate: %v", err)
		}
	})

	t.Run("azure from env", func(t *testing.T) {
		t.Parallel()
		cfg := ConfigFrom(mapEnv(map[string]string{
			"MODEL_PROVIDER":          " Azure ",
			"AZURE_OPENAI_API_KEY":    "key",
			"AZURE_OPENAI_ENDPOINT":   "https://primarie.openai.azure.com",
			"AZURE_OPENAI_DEPLOYMENT": "gpt-4o-ro",
			"MODEL_MAX_TOKENS":        "800",
			"MODEL_TEMPERATURE":       "0",
		}))
		if cfg.Backend != BackendAzure || cfg.ModelName() != "gpt-4o-ro" {
			t.Errorf("backend %q model %q", cfg.Backend, cfg.ModelName())
		}
		if cfg.Tuning.MaxTokens != 800 || cfg.Tuning.Temperature != 0 {
			t.Errorf("tuning = %+v", cfg.Tuning)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("invalid tuning keeps defaults", func(t *testing.T) {
		t.Parallel()
		cfg := ConfigFrom(mapEnv(map[string]string{"MODEL_MAX_TOKENS": "-3", "MODEL_TEMPERATURE": "warm"}))
		if cfg.Tuning.MaxTokens != 512 || cfg.Tuning.Temperature != 0.1 {
			t.Errorf("tuning = %+v", cfg.Tuning)
		}
	})
}

func TestConfigValidate_NamesMissingVariable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env     map[string]string
		wantErr string
	}{
		{env: map[string]string{"MODEL_PROVIDER": "openai"}, wantErr: "OPENAI_API_KEY"},
		{env: map[string]string{"MODEL_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"}, wantErr: "AZURE_OPENAI_ENDPOINT"},
		{
			env:     map[string]string{"MODEL_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k", "AZURE_OPENAI_ENDPOINT": "https://x"},
			wantErr: "AZURE_OPENAI_DEPLOYMENT",
		},
		{env: map[string]string{"MODEL_PROVIDER": "bedrock"}, wantErr: "BEDROCK_MODEL_ID"},
		{env: map[string]string{"MODEL_PROVIDER": "gemini"}, wantErr: "GOOGLE_API_KEY"},
		{env: map[string]string{"MODEL_PROVIDER": "llamacpp"}, wantErr: `unknown backend "llamacpp"`},
	}
	for _, tt := range tests {
		t.Run(tt.wantErr, func(t *testing.T) {
			t.Parallel()
			err := ConfigFrom(mapEnv(tt.env)).Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestIsAzureReasoningModel(t *testing.T) {
	t.Parallel()

	for deployment, want := range map[string]bool{
		"o1-preview":    true,
		"O3-Mini":       true,
		"o4-mini":       true,
		"codex-mini":    true,
		"gpt-5.2-codex": false,
		"gpt-4o":        false,
		"gpt-35-turbo":  false,
		"":              false,
	} {
		if got := isAzureReasoningModel(deployment); got != want {
			t.Errorf("isAzureReasoningModel(%q) = %t, want %t", deployment, got, want)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	var gotPath string
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ok.Close)
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)

	cfg := &Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: ok.URL + "/", Model: "gemma2:2b"}}
	if err := cfg.HealthCheck().HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
	if gotPath != "/api/tags" {
		t.Errorf("want /api/tags, got %s", gotPath)
	}

	cfg.Ollama.Host = down.URL
	if err := cfg.HealthCheck().HealthCheck(context.Background()); err == nil {
		t.Error("want error for 503")
	}

	if hc := (&Config{Backend: BackendBedrock}).HealthCheck(); hc != nil {
		t.Errorf("want nil health check for bedrock, got %T", hc)
	}
}

// fakeOllama serves /api/tags from installed and records pulls.
func fakeOllama(t *testing.T, installed []string, pulls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			models := make([]map[string]string, len(installed))
			for i, m := range installed {
				models[i] = map[string]string{"name": m}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
		case "/api/pull":
			var req struct {
				Model  string `json:"model"`
				Stream bool   `json:"stream"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Stream || req.Model == "" {
				t.Errorf("unexpected pull request %+v", req)
			}
			pulls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaModels_Ensure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		installed []string
		models    []string
		pull      bool
		wantPulls int32
		wantErr   string
	}{
		{name: "installed with tag", installed: []string{"gemma2:2b"}, models: []string{"gemma2:2b"}},
		{name: "untagged matches latest", installed: []string{"all-minilm:latest"}, models: []string{"all-minilm"}},
		{name: "missing is pulled", installed: []string{"gemma2:2b"}, models: []string{"gemma2:2b", "all-minilm"}, pull: true, wantPulls: 1},
		{name: "missing without pull", models: []string{"gemma2:2b"}, wantErr: "ollama pull gemma2:2b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var pulls atomic.Int32
			srv := fakeOllama(t, tt.installed, &pulls)
			log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

			err := NewOllamaModels(srv.URL).Ensure(context.Background(), log, tt.pull, tt.models...)
			switch {
			case tt.wantErr == "" && err != nil:
				t.Fatalf("Ensure: %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Fatalf("Ensure = %v, want containing %q", err, tt.wantErr)
			}
			if pulls.Load() != tt.wantPulls {
				t.Errorf("pulls = %d, want %d", pulls.Load(), tt.wantPulls)
			}
		})
	}
}

func TestOllamaModels_PullFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"pull model manifest: file does not exist"}`))
	}))
	t.Cleanup(srv.Close)

	err := NewOllamaModels(srv.URL).Pull(context.Background(), "rollama:7b")
	if err == nil || !strings.Contains(err.Error(), "manifest: file does not exist") {
		t.Errorf("Pull = %v", err)
	}
}
