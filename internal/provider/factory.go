package provider

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
)

// Answer generation defaults. Answers are a few short paragraphs in Romanian
// grounded in quoted passages, so output is capped and sampling is kept
// close to deterministic.
const (
	defaultOllamaModel = "gemma2:2b"
	defaultOpenAIModel = "gpt-4o-mini"
	defaultGeminiModel = "gemini-1.5-flash"
	defaultMaxTokens   = 512
	defaultTemperature = 0.1
)

// ConfigFromEnv reads the provider configuration from the process
// environment. See ConfigFrom.
func ConfigFromEnv() *Config {
	return ConfigFrom(os.Getenv)
}

// ConfigFrom resolves the provider configuration through getenv.
// MODEL_PROVIDER selects the backend; each backend reads its native
// variables:
//
//	MODEL_PROVIDER  ollama (default) | openai | azure | bedrock | gemini
//	Ollama          OLLAMA_HOST, OLLAMA_MODEL
//	OpenAI          OPENAI_API_KEY, OPENAI_MODEL
//	Azure           AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT,
//	                AZURE_OPENAI_DEPLOYMENT, AZURE_OPENAI_API_VERSION
//	Bedrock         AWS_REGION, BEDROCK_MODEL_ID, BEDROCK_BASE_URL, BEDROCK_API_KEY
//	Gemini          GOOGLE_API_KEY, GEMINI_MODEL
//	Shared          MODEL_MAX_TOKENS (512), MODEL_TEMPERATURE (0.1)
func ConfigFrom(getenv func(string) string) *Config {
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}
	cfg := &Config{
		Backend: Backend(strings.ToLower(env("MODEL_PROVIDER", string(BackendOllama)))),
		Ollama: ProviderOllama{
			Host:  env("OLLAMA_HOST", "http://localhost:11434"),
			Model: env("OLLAMA_MODEL", defaultOllamaModel),
		},
		OpenAI: ProviderOpenAI{
			APIKey: env("OPENAI_API_KEY", ""),
			Model:  env("OPENAI_MODEL", defaultOpenAIModel),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     env("AZURE_OPENAI_API_KEY", ""),
			Endpoint:   env("AZURE_OPENAI_ENDPOINT", ""),
			Deployment: env("AZURE_OPENAI_DEPLOYMENT", ""),
			APIVersion: env("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Bedrock: ProviderBedrock{
			AWSRegion: env("AWS_REGION", "eu-central-1"),
			ModelID:   env("BEDROCK_MODEL_ID", ""),
			BaseURL:   env("BEDROCK_BASE_URL", ""),
			APIKey:    env("BEDROCK_API_KEY", ""),
		},
		Gemini: ProviderGemini{
			APIKey: env("GOOGLE_API_KEY", ""),
			Model:  env("GEMINI_MODEL", defaultGeminiModel),
		},
		Tuning: SharedTuning{MaxTokens: defaultMaxTokens, Temperature: defaultTemperature},
	}
	if n, err := strconv.Atoi(getenv("MODEL_MAX_TOKENS")); err == nil && n > 0 {
		cfg.Tuning.MaxTokens = n
	}
	if f, err := strconv.ParseFloat(getenv("MODEL_TEMPERATURE"), 32); err == nil && f >= 0 {
		cfg.Tuning.Temperature = float32(f)
	}
	return cfg
}

// NewFromEnv is New(ctx, ConfigFromEnv()).
func NewFromEnv(ctx context.Context) (model.BaseChatModel, error) {
	return New(ctx, ConfigFromEnv())
}

// New validates cfg and constructs the chat model for its backend.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendOllama:
		return newOllama(ctx, cfg)
	case BackendOpenAI:
		return newOpenAI(ctx, cfg)
	case BackendAzure:
		return newAzure(ctx, cfg)
	case BackendBedrock:
		return newBedrock(ctx, cfg)
	default:
		return newGemini(ctx, cfg)
	}
}
