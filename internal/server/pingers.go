package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/primaria-go/internal/logging"
	"github.com/54b3r/primaria-go/internal/provider"
	"github.com/54b3r/primaria-go/internal/rag"
)

// LLMPinger probes the chat model that writes answers.
type LLMPinger struct {
	model model.BaseChatModel
	// healthCheck is the backend's HTTP probe; nil falls back to Generate.
	healthCheck provider.HealthCheckConfig
	name        string
}

// NewLLMPinger constructs an LLMPinger for the given model and backend name.
// hc may be nil.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthCheckConfig, name string) *LLMPinger {
	return &LLMPinger{model: m, healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping uses the backend health check when there is one. Otherwise it asks
// the model for a one-word reply, which consumes tokens; wrap the pinger
// with Cached to bound that cost.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}

	logging.FromContext(ctx).Debug("pinger: probing chat model with a generate call",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("Răspunde cu un singur cuvânt: ok")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return errors.New("generate returned nil response")
	}
	return nil
}

// EmbedderPinger probes the embedding backend by embedding a single word.
type EmbedderPinger struct {
	embedder rag.Embedder
}

// NewEmbedderPinger constructs an EmbedderPinger.
func NewEmbedderPinger(e rag.Embedder) *EmbedderPinger {
	return &EmbedderPinger{embedder: e}
}

// Name returns the dependency label used in readiness responses.
func (p *EmbedderPinger) Name() string { return "embedder" }

// Ping embeds a probe word.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	_, err := rag.EmbedOne(ctx, p.embedder, "primărie")
	return err
}

// cachedPinger reuses the last probe result for ttl. Readiness is polled
// every few seconds by the load balancer; remote model probes are billed.
type cachedPinger struct {
	Pinger
	ttl time.Duration
	now func() time.Time

	mu  sync.Mutex
	at  time.Time
	err error
}

// Cached wraps p so that a result is reused for ttl. Concurrent probes wait
// for the one in flight.
func Cached(p Pinger, ttl time.Duration) Pinger {
	return &cachedPinger{Pinger: p, ttl: ttl, now: time.Now}
}

func (c *cachedPinger) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.at.IsZero() && c.now().Sub(c.at) < c.ttl {
		return c.err
	}
	c.err = c.Pinger.Ping(ctx)
	c.at = c.now()
	return c.err
}
