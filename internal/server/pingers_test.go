package server

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/primaria-go/internal/embedder"
)

// stubModel is a model.BaseChatModel that counts Generate calls.
type stubModel struct {
	calls int
	err   error
}

func (m *stubModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage("pong", nil), nil
}

func (m *stubModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

// stubHealth is a provider.HealthCheckConfig with a fixed result.
type stubHealth struct{ err error }

func (h stubHealth) HealthCheck(context.Context) error { return h.err }

func TestLLMPinger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		health    *stubHealth
		modelErr  error
		wantErr   bool
		wantCalls int
	}{
		{name: "health check ok skips generate", health: &stubHealth{}, wantCalls: 0},
		{name: "health check failure", health: &stubHealth{err: errors.New("refused")}, wantErr: true},
		{name: "generate fallback ok", wantCalls: 1},
		{name: "generate fallback failure", modelErr: errors.New("boom"), wantErr: true, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &stubModel{err: tt.modelErr}
			p := NewLLMPinger(m, nil, "ollama")
			if tt.health != nil {
				p = NewLLMPinger(m, *tt.health, "ollama")
			}

			err := p.Ping(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if m.calls != tt.wantCalls {
				t.Errorf("generate calls = %d, want %d", m.calls, tt.wantCalls)
			}
			if p.Name() != "ollama" {
				t.Errorf("name = %q", p.Name())
			}
		})
	}
}

func TestEmbedderPinger(t *testing.T) {
	t.Parallel()

	p := NewEmbedderPinger(embedder.NewHashEmbedder(32))
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("hash embedder ping: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Ping(ctx); err == nil {
		t.Error("expected error on cancelled context")
	}
}

func TestCached_ReusesResultWithinTTL(t *testing.T) {
	t.Parallel()

	m := &stubModel{}
	c := Cached(NewLLMPinger(m, nil, "openai"), time.Minute).(*cachedPinger)
	now := time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for range 3 {
		if err := c.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	}
	if m.calls != 1 {
		t.Errorf("generate calls = %d, want 1", m.calls)
	}

	now = now.Add(2 * time.Minute)
	m.err = errors.New("quota exceeded")
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected the expired result to be refreshed")
	}
	if m.calls != 2 || c.Name() != "openai" {
		t.Errorf("calls = %d name = %q", m.calls, c.Name())
	}
}

func TestCached_KeepsDegradableMarker(t *testing.T) {
	t.Parallel()

	p := Degradable(Cached(&fakePinger{name: "ollama"}, time.Second))
	if !isDegradable(p) || p.Name() != "ollama" {
		t.Errorf("degradable = %t name = %q", isDegradable(p), p.Name())
	}
}
