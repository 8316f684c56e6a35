// Package orchestrator sequences one question through the response cache,
// the hybrid retriever and the answer assembler, and decides what the
// resident sees when any of them fails.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/primaria-go/internal/assembler"
	"github.com/54b3r/primaria-go/internal/cache"
	"github.com/54b3r/primaria-go/internal/domain"
	"github.com/54b3r/primaria-go/internal/logging"
	"github.com/54b3r/primaria-go/internal/rag"
)

// DegradedMessage is returned when retrieval or generation fails. It is never
// cached.
const DegradedMessage = "A apărut o eroare la procesarea întrebării dumneavoastră. " +
	"Vă rog să încercați din nou sau să contactați suportul tehnic."

// State is the terminal state a question ended in.
type State string

const (
	// StateCached means the answer came from the response cache.
	StateCached State = "cached"
	// StateAnswered means the answer was grounded on retrieved passages.
	StateAnswered State = "answered"
	// StateNoContext means retrieval found nothing and the assembler was
	// asked for a no-context answer.
	StateNoContext State = "no_context"
	// StateDegraded means the fixed apology was returned.
	StateDegraded State = "degraded"
)

// Invalidation is the cache policy applied when documents change.
type Invalidation string

const (
	// InvalidateNone keeps cached answers until TTL or LRU eviction.
	InvalidateNone Invalidation = "none"
	// InvalidateFlushTenant drops every cached answer of the affected tenants.
	InvalidateFlushTenant Invalidation = "flush_tenant"
)

// TenantResolver maps a selector onto an active tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, sel domain.Selector) (domain.Tenant, error)
}

// ResponseCache is the subset of *cache.Cache the orchestrator uses.
type ResponseCache interface {
	Lookup(ctx context.Context, tenantID, question string) (*cache.Hit, error)
	Store(ctx context.Context, tenantID, question string, resp cache.Response) error
	Flush(ctx context.Context, tenantID string) int
}

// History persists conversation turns per session.
type History interface {
	Append(ctx context.Context, sessionID, tenantID string, role domain.Role, content string) error
	RecentTurns(ctx context.Context, sessionID, tenantID string, n int) ([]domain.Turn, error)
}

// Config controls timeouts and policies.
type Config struct {
	// AssemblerTimeout is the hard bound on one generation (default 30s).
	AssemblerTimeout time.Duration
	// CacheWriteTimeout bounds the detached cache write (default 5s).
	CacheWriteTimeout time.Duration
	// MaxHistory is the number of prior turns passed to the assembler (default 10).
	MaxHistory int
	// TopK is the number of passages retrieved; 0 uses the retriever default.
	TopK int
	// Invalidation is the document-change policy (default none).
	Invalidation Invalidation
}

func (c Config) withDefaults() Config {
	if c.AssemblerTimeout <= 0 {
		c.AssemblerTimeout = 30 * time.Second
	}
	if c.CacheWriteTimeout <= 0 {
		c.CacheWriteTimeout = 5 * time.Second
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 10
	}
	if c.Invalidation == "" {
		c.Invalidation = InvalidateNone
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.Invalidation {
	case "", InvalidateNone, InvalidateFlushTenant:
	default:
		return fmt.Errorf("orchestrator: unknown invalidation %q, valid values: none, flush_tenant", c.Invalidation)
	}
	if c.TopK < 0 {
		return fmt.Errorf("orchestrator: top_k must not be negative")
	}
	return nil
}

// Request is one question from a resident.
type Request struct {
	Tenant    domain.Selector
	Question  string
	SessionID string
	// History is recent conversation, oldest first. When empty, the
	// persisted history of SessionID is replayed.
	History []domain.Turn
}

// Response is what the resident receives.
type Response struct {
	Answer     string
	Sources    []domain.Source
	Citations  []domain.Citation
	SessionID  string
	Tenant     domain.Tenant
	State      State
	Cached     bool
	Confidence float64
	// Similarity is the cache similarity on a cached answer.
	Similarity float64
}

// Deps are the collaborators of an Orchestrator. Cache and History are
// optional.
type Deps struct {
	Tenants   TenantResolver
	Retriever rag.Retriever
	Assembler assembler.Assembler
	Cache     ResponseCache
	History   History
}

// Orchestrator answers questions. It is safe for concurrent use.
type Orchestrator struct {
	tenants   TenantResolver
	retriever rag.Retriever
	assembler assembler.Assembler
	cache     ResponseCache
	history   History
	cfg       Config
}

// New validates cfg and wires the collaborators.
func New(d Deps, cfg Config) (*Orchestrator, error) {
	if d.Tenants == nil || d.Retriever == nil || d.Assembler == nil {
		return nil, fmt.Errorf("orchestrator: tenants, retriever and assembler are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		tenants:   d.Tenants,
		retriever: d.Retriever,
		assembler: d.Assembler,
		cache:     d.Cache,
		history:   d.History,
		cfg:       cfg.withDefaults(),
	}, nil
}

// Ask runs one question through the state machine. Errors are returned only
// for invalid input, unknown tenants and caller cancellation; every other
// failure yields the degraded answer.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Response{}, fmt.Errorf("orchestrator: %w: empty question", domain.ErrInvalidInput)
	}
	tenant, err := o.tenants.Resolve(ctx, req.Tenant)
	if err != nil {
		return Response{}, fmt.Errorf("orchestrator: %w", err)
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ctx = logging.WithTenant(ctx, tenant.ID)
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With(slog.String("session_id", sessionID)))
	log := logging.FromContext(ctx)

	resp := Response{SessionID: sessionID, Tenant: tenant}

	if hit := o.lookup(ctx, tenant.ID, question); hit != nil {
		resp.Answer = hit.Entry.Answer
		resp.Citations = hit.Entry.Citations
		resp.Sources = domain.Sources(hit.Entry.Citations)
		resp.State = StateCached
		resp.Cached = true
		resp.Confidence = hit.Entry.Confidence
		resp.Similarity = hit.Similarity
		o.remember(ctx, sessionID, tenant.ID, question, resp.Answer)
		log.Info("orchestrator: cache hit", slog.Float64("similarity", hit.Similarity), slog.Bool("exact", hit.Exact))
		return resp, nil
	}
	if err := ctx.Err(); err != nil {
		return Response{}, fmt.Errorf("orchestrator: %w", err)
	}

	results, err := o.retriever.Retrieve(ctx, tenant.ID, question, o.cfg.TopK)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return Response{}, fmt.Errorf("orchestrator: %w", cerr)
		}
		log.Error("orchestrator: retrieval failed", slog.Any("error", err))
		return o.degraded(resp), nil
	}

	passages := make([]domain.Passage, len(results))
	for i, r := range results {
		passages[i] = r.Passage
	}
	history := o.recentHistory(ctx, sessionID, tenant.ID, req.History)

	actx, cancel := context.WithTimeout(ctx, o.cfg.AssemblerTimeout)
	ans, err := o.assembler.Assemble(actx, assembler.Request{
		Tenant:   tenant,
		Question: question,
		Passages: passages,
		History:  history,
	})
	cancel()
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return Response{}, fmt.Errorf("orchestrator: %w", cerr)
		}
		log.Error("orchestrator: assembly failed",
			slog.Any("error", err),
			slog.Bool("timeout", errors.Is(err, domain.ErrGenerationTimeout)),
		)
		return o.degraded(resp), nil
	}

	resp.Answer = ans.Text
	resp.Citations = ans.Citations
	resp.Sources = domain.Sources(ans.Citations)
	resp.Confidence = confidence(results)
	resp.State = StateAnswered
	if len(results) == 0 {
		resp.State = StateNoContext
	}

	o.store(ctx, tenant.ID, question, resp)
	o.remember(ctx, sessionID, tenant.ID, question, resp.Answer)
	log.Info("orchestrator: answered",
		slog.String("state", string(resp.State)),
		slog.Int("passages", len(results)),
		slog.Float64("confidence", resp.Confidence),
	)
	return resp, nil
}

// DocumentsChanged applies the invalidation policy for the tenants whose
// documents were added, replaced or removed. It returns the number of cache
// entries dropped.
func (o *Orchestrator) DocumentsChanged(ctx context.Context, tenantIDs []string) int {
	if o.cache == nil || o.cfg.Invalidation != InvalidateFlushTenant {
		return 0
	}
	n := 0
	for _, id := range tenantIDs {
		n += o.cache.Flush(ctx, id)
	}
	return n
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// lookup treats every cache failure as a miss.
func (o *Orchestrator) lookup(ctx context.Context, tenantID, question string) *cache.Hit {
	if o.cache == nil {
		return nil
	}
	hit, err := o.cache.Lookup(ctx, tenantID, question)
	if err != nil {
		logging.FromContext(ctx).Warn("orchestrator: cache lookup failed", slog.Any("error", err))
		return nil
	}
	return hit
}

// store writes the answer on a context detached from the caller so that a
// client disconnect after generation does not lose the entry.
func (o *Orchestrator) store(ctx context.Context, tenantID, question string, resp Response) {
	if o.cache == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CacheWriteTimeout)
	defer cancel()
	err := o.cache.Store(sctx, tenantID, question, cache.Response{
		Answer:     resp.Answer,
		Citations:  resp.Citations,
		Confidence: resp.Confidence,
	})
	if err != nil {
		logging.FromContext(ctx).Warn("orchestrator: cache store failed", slog.Any("error", err))
	}
}

// recentHistory prefers the caller's history and falls back to the
// persisted session.
func (o *Orchestrator) recentHistory(ctx context.Context, sessionID, tenantID string, given []domain.Turn) []domain.Turn {
	limit := o.cfg.MaxHistory * 2
	if len(given) > 0 {
		if len(given) > limit {
			given = given[len(given)-limit:]
		}
		return given
	}
	if o.history == nil {
		return nil
	}
	turns, err := o.history.RecentTurns(ctx, sessionID, tenantID, limit)
	if err != nil {
		logging.FromContext(ctx).Warn("orchestrator: failed to load history", slog.Any("error", err))
		return nil
	}
	return turns
}

// remember persists the exchange. Failures are logged only.
func (o *Orchestrator) remember(ctx context.Context, sessionID, tenantID, question, answer string) {
	if o.history == nil {
		return
	}
	hctx := context.WithoutCancel(ctx)
	log := logging.FromContext(ctx)
	if err := o.history.Append(hctx, sessionID, tenantID, domain.RoleUser, question); err != nil {
		log.Warn("history: failed to persist user message", slog.Any("error", err))
		return
	}
	if err := o.history.Append(hctx, sessionID, tenantID, domain.RoleAssistant, answer); err != nil {
		log.Warn("history: failed to persist assistant message", slog.Any("error", err))
	}
}

// Degraded returns the apology response for sessionID without a tenant. A
// caller uses it when the request budget ran out before Ask could answer.
func Degraded(sessionID string) Response {
	return Response{
		SessionID: strings.TrimSpace(sessionID),
		Answer:    DegradedMessage,
		Sources:   []domain.Source{},
		State:     StateDegraded,
	}
}

func (o *Orchestrator) degraded(resp Response) Response {
	resp.Answer = DegradedMessage
	resp.Sources = []domain.Source{}
	resp.Citations = nil
	resp.State = StateDegraded
	return resp
}

// confidence is the mean combined score of the grounding passages.
func confidence(results []rag.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Combined
	}
	return sum / float64(len(results))
}
