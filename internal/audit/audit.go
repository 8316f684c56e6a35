// Package audit records who changed what in a deployment: every CLI
// invocation with its effective settings, and every administrative action
// (cache clears, document invalidations, ingestion runs) from the CLI or the
// admin API. Secret values are recorded as presence only.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Sources of an administrative action.
const (
	SourceCLI = "cli"
	SourceAPI = "api"
)

// secretSuffixes mark an environment variable as secret by name.
var secretSuffixes = []string{"_KEY", "_SECRET", "_TOKEN", "_PASSWORD", "_DSN"}

// secretEnvKeys lists secrets whose names do not follow the suffix rule.
var secretEnvKeys = map[string]bool{
	"AWS_SECRET_ACCESS_KEY": true,
	"AWS_SESSION_TOKEN":     true,
	"DATABASE_URL":          true,
}

// envKeys is the ordered list of variables included in every command entry.
var envKeys = []string{
	"PRIMARIA_DB",
	"PRIMARIA_STORE_BACKEND",
	"PRIMARIA_API_KEY",
	"POSTGRES_DSN",
	"MODEL_PROVIDER",
	"OLLAMA_HOST",
	"OLLAMA_MODEL",
	"OPENAI_API_KEY",
	"OPENAI_MODEL",
	"AZURE_OPENAI_API_KEY",
	"AZURE_OPENAI_ENDPOINT",
	"AZURE_OPENAI_DEPLOYMENT",
	"GOOGLE_API_KEY",
	"GEMINI_MODEL",
	"BEDROCK_MODEL_ID",
	"BEDROCK_API_KEY",
	"EMBEDDING_PROVIDER",
	"EMBEDDING_MODEL",
	"EMBEDDING_DIMENSIONS",
	"EMBEDDING_API_KEY",
	"QDRANT_HOST",
	"QDRANT_COLLECTION",
	"QDRANT_API_KEY",
	"LANGFUSE_PUBLIC_KEY",
	"LANGFUSE_SECRET_KEY",
	"LOG_LEVEL",
}

// IsSecret reports whether the value of the environment variable key must
// never be logged.
func IsSecret(key string) bool {
	if secretEnvKeys[key] {
		return true
	}
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// SanitiseKey returns "set" or "unset" for secret keys and the value (or
// "unset") otherwise.
func SanitiseKey(key, value string) string {
	if IsSecret(key) {
		return presence(value)
	}
	return valOrUnset(value)
}

// LogCommandStart records a CLI invocation: the command, the config file and
// the sanitised environment. deployment carries the resolved settings the
// caller wants on record (municipalities served, store backend, cache).
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string, deployment ...slog.Attr) {
	env := make([]any, 0, len(envKeys))
	for _, k := range envKeys {
		env = append(env, slog.String(k, SanitiseKey(k, os.Getenv(k))))
	}
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
		slog.Group("deployment", attrsToAny(deployment)...),
		slog.Group("env", env...),
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// LogAdminAction records an administrative change. tenantID is empty for
// actions covering every municipality.
func LogAdminAction(ctx context.Context, log *slog.Logger, source, action, tenantID string, detail ...slog.Attr) {
	scope := tenantID
	if scope == "" {
		scope = "all"
	}
	attrs := append([]slog.Attr{
		slog.String("source", source),
		slog.String("action", action),
		slog.String("scope", scope),
	}, detail...)
	log.LogAttrs(ctx, slog.LevelInfo, "audit: admin action", attrs...)
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}

func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path with the home directory
// shortened to ~, or "none".
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
