// Package assembler turns retrieved passages and recent history into a
// grounded Romanian answer using an eino chat model.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/primaria-go/internal/budget"
	"github.com/54b3r/primaria-go/internal/domain"
	"github.com/54b3r/primaria-go/internal/logging"
	"github.com/54b3r/primaria-go/internal/romanian"
)

// DefaultContextChars is the grounding context budget in characters.
const DefaultContextChars = 3000

// Request is the input of one assembly.
type Request struct {
	// Tenant is the municipality the question is asked for.
	Tenant domain.Tenant
	// Question is the resident's question as typed.
	Question string
	// Passages are the grounding passages in rank order. Empty means the
	// no-context instruction is used.
	Passages []domain.Passage
	// History is recent conversation, oldest first.
	History []domain.Turn
}

// Answer is the generated response and the passages it was grounded on.
type Answer struct {
	Text      string
	Citations []domain.Citation
}

// Assembler produces an answer for a request.
type Assembler interface {
	Assemble(ctx context.Context, req Request) (Answer, error)
}

// Config controls prompt construction.
type Config struct {
	// ContextChars caps the grounding context (default 3000).
	ContextChars int
	// MaxContextTokens is the estimated input budget; history is trimmed
	// oldest-first to fit. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int
	// Polish applies Romanian answer polishing to the generated text.
	Polish bool
}

// ModelAssembler generates answers with an eino chat model.
type ModelAssembler struct {
	model model.BaseChatModel
	cfg   Config
}

// New returns an assembler backed by m.
func New(m model.BaseChatModel, cfg Config) (*ModelAssembler, error) {
	if m == nil {
		return nil, fmt.Errorf("assembler: chat model must not be nil")
	}
	if cfg.ContextChars <= 0 {
		cfg.ContextChars = DefaultContextChars
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	return &ModelAssembler{model: m, cfg: cfg}, nil
}

// Assemble builds the prompt and calls the model once. A context deadline is
// reported as domain.ErrGenerationTimeout; any other model failure or an
// empty answer as domain.ErrGeneration. Caller cancellation is returned as
// the context error.
func (a *ModelAssembler) Assemble(ctx context.Context, req Request) (Answer, error) {
	msgs, cited := a.buildMessages(ctx, req)

	resp, err := a.model.Generate(ctx, msgs)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
			return Answer{}, fmt.Errorf("assembler: %w: %w", domain.ErrGenerationTimeout, err)
		case errors.Is(ctx.Err(), context.Canceled):
			return Answer{}, fmt.Errorf("assembler: %w", ctx.Err())
		}
		return Answer{}, fmt.Errorf("assembler: %w: %w", domain.ErrGeneration, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return Answer{}, fmt.Errorf("assembler: %w: empty answer", domain.ErrGeneration)
	}

	text := strings.TrimSpace(resp.Content)
	if a.cfg.Polish {
		text = romanian.Polish(text)
	}
	citations := make([]domain.Citation, cited)
	for i, p := range req.Passages[:cited] {
		citations[i] = domain.CitationOf(p)
	}
	return Answer{Text: text, Citations: citations}, nil
}

// buildMessages lays out [system, ...history, context, user]. History is
// trimmed oldest-first to fit the token budget. It also returns how many
// leading passages fit the context and may be cited.
func (a *ModelAssembler) buildMessages(ctx context.Context, req Request) ([]*schema.Message, int) {
	name := req.Tenant.Name
	if name == "" {
		name = "primărie"
	}
	system := schema.SystemMessage(fmt.Sprintf(systemPrompt, name))

	var (
		grounding *schema.Message
		included  int
	)
	if len(req.Passages) == 0 {
		grounding = schema.SystemMessage(noContextInstruction)
	} else {
		var text string
		text, included = buildContext(req.Passages, a.cfg.ContextChars)
		grounding = schema.SystemMessage(contextHeader + text)
		if dropped := len(req.Passages) - included; dropped > 0 {
			logging.FromContext(ctx).Debug("assembler: passages dropped by the context budget",
				slog.Int("dropped", dropped),
				slog.Int("context_chars", a.cfg.ContextChars),
			)
		}
	}
	user := schema.UserMessage(strings.TrimSpace(req.Question))

	history := make([]*schema.Message, 0, len(req.History))
	for _, t := range req.History {
		switch t.Role {
		case domain.RoleUser:
			history = append(history, schema.UserMessage(t.Content))
		case domain.RoleAssistant:
			history = append(history, schema.AssistantMessage(t.Content, nil))
		}
	}

	fixed := []*schema.Message{system, grounding, user}
	if over := budget.Overflow(fixed, a.cfg.MaxContextTokens); over > 0 {
		logging.FromContext(ctx).Warn("assembler: prompt exceeds the context budget without history",
			slog.Int("over_tokens", over),
			slog.Int("max_tokens", a.cfg.MaxContextTokens),
		)
	}
	before := len(history)
	history = budget.TrimHistory(fixed, history, a.cfg.MaxContextTokens)
	if dropped := before - len(history); dropped > 0 {
		logging.FromContext(ctx).Debug("assembler: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
		)
	}

	out := make([]*schema.Message, 0, len(history)+3)
	out = append(out, system)
	out = append(out, history...)
	return append(out, grounding, user), included
}
