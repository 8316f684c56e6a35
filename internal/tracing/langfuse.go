// Package tracing sends chat model calls to Langfuse when credentials are
// configured. Prompts and completions pass through [logging.Redact] first, so
// personal data typed by residents does not leave the deployment.
//
// Environment variables:
//
//	LANGFUSE_PUBLIC_KEY, LANGFUSE_SECRET_KEY  (both required to enable)
//	LANGFUSE_HOST         (default: http://localhost:3000)
//	LANGFUSE_SAMPLE_RATE  fraction of answers traced, 0 < r <= 1 (default: 1)
//	LANGFUSE_ENVIRONMENT  extra trace tag, e.g. staging
package tracing

import (
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/primaria-go/internal/logging"
	"github.com/54b3r/primaria-go/internal/version"
)

const (
	defaultHost = "http://localhost:3000"
	traceName   = "primaria-answer"
)

// Config is the resolved Langfuse configuration.
type Config struct {
	Host        string
	PublicKey   string
	SecretKey   string
	SampleRate  float64
	Environment string
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Tags returns the tags attached to every trace.
func (c Config) Tags() []string {
	tags := []string{"primaria", version.Get().Version}
	if c.Environment != "" {
		tags = append(tags, c.Environment)
	}
	return tags
}

// ConfigFromEnv reads the Langfuse settings from the process environment.
func ConfigFromEnv() Config {
	return ConfigFrom(os.Getenv)
}

// ConfigFrom reads the Langfuse settings through getenv. An out-of-range or
// malformed sample rate falls back to tracing everything.
func ConfigFrom(getenv func(string) string) Config {
	cfg := Config{
		Host:        strings.TrimRight(strings.TrimSpace(getenv("LANGFUSE_HOST")), "/"),
		PublicKey:   strings.TrimSpace(getenv("LANGFUSE_PUBLIC_KEY")),
		SecretKey:   strings.TrimSpace(getenv("LANGFUSE_SECRET_KEY")),
		SampleRate:  1,
		Environment: strings.ToLower(strings.TrimSpace(getenv("LANGFUSE_ENVIRONMENT"))),
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if r, err := strconv.ParseFloat(getenv("LANGFUSE_SAMPLE_RATE"), 64); err == nil && r > 0 && r <= 1 {
		cfg.SampleRate = r
	}
	return cfg
}

// Setup builds the Langfuse callback handler for cfg. When tracing is not
// configured the handler and flush function are nil and ok is false; otherwise
// flush must run before exit so buffered traces are sent.
func Setup(cfg Config) (handler callbacks.Handler, flush func(), ok bool) {
	if !cfg.Enabled() {
		return nil, nil, false
	}
	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:       cfg.Host,
		PublicKey:  cfg.PublicKey,
		SecretKey:  cfg.SecretKey,
		Name:       traceName,
		Release:    version.Get().Version,
		Tags:       cfg.Tags(),
		SampleRate: cfg.SampleRate,
		MaskFunc:   logging.Redact,
	})
	return handler, flush, true
}

// Install registers the handler for cfg globally so every eino model call is
// traced. The returned flush is a no-op when tracing is off.
func Install(cfg Config) (flush func(), enabled bool) {
	handler, flush, ok := Setup(cfg)
	if !ok {
		return func() {}, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flush, true
}
