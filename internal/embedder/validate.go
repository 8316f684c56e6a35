package embedder

import (
	"log/slog"
	"os"
	"strings"
)

// chatModelMarkers are name fragments of chat models. An embedding model
// matching one is almost always a misconfiguration.
var chatModelMarkers = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3",
	"llama", "mistral", "mixtral", "gemma", "phi3", "phi-",
	"claude", "command-r", "deepseek", "qwen", "gemini-",
	"rollama", "openllm-ro",
}

// looksLikeChatModel reports whether model resembles a chat model rather
// than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") || strings.Contains(lower, "minilm") {
		return false
	}
	for _, m := range chatModelMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ValidateForRAG checks the embedder settings before ingestion, so a broken
// configuration fails at startup instead of writing passages without
// vectors. Suspicious but usable settings are logged.
func ValidateForRAG(log *slog.Logger) error {
	s := SettingsFromEnv()
	if err := s.Validate(); err != nil {
		return err
	}

	if os.Getenv("EMBEDDING_PROVIDER") == "" && s.Backend != BackendOllama {
		log.Warn("EMBEDDING_PROVIDER is not set, inheriting the chat provider",
			slog.String("backend", s.Backend),
		)
	}
	if s.Backend == BackendHash {
		log.Warn("hash embeddings only match shared vocabulary, use them for tests and offline demos")
	}
	if os.Getenv("EMBEDDING_MODEL") != "" && looksLikeChatModel(s.Model) {
		log.Warn("EMBEDDING_MODEL looks like a chat model, semantic search will be poor",
			slog.String("model", s.Model),
			slog.String("hint", "use an embedding model such as all-minilm or text-embedding-3-small"),
		)
	}
	log.Info("embedder settings",
		slog.String("backend", s.Backend),
		slog.String("model", s.Model),
		slog.Int("dimensions", s.Dimensions),
	)
	return nil
}
