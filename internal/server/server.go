// Package server implements the HTTP API in front of the question pipeline:
// the chat endpoint used by the municipal website widget, the municipality
// listing, cache and document administration, and health, readiness and
// metrics endpoints. The server is started by the `primaria serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/primaria-go/internal/cache"
	"github.com/54b3r/primaria-go/internal/domain"
	"github.com/54b3r/primaria-go/internal/logging"
	"github.com/54b3r/primaria-go/internal/orchestrator"
	"github.com/54b3r/primaria-go/internal/version"
)

// maxBodyBytes caps request bodies; questions are short.
const maxBodyBytes = 64 << 10

// New constructs a Server from the provided collaborators and config.
func New(d Deps, cfg *Config) (*Server, error) {
	if d.Orchestrator == nil {
		return nil, fmt.Errorf("server: orchestrator must not be nil")
	}
	if d.Tenants == nil {
		return nil, fmt.Errorf("server: tenant registry must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	applyDefaults(cfg)

	s := &Server{
		asker:   d.Orchestrator,
		tenants: d.Tenants,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
	}
	var stats func() cache.Stats
	if d.Cache != nil {
		s.cache = d.Cache
		stats = d.Cache.Stats
	}
	s.metrics = newServerMetrics(cfg.MetricsRegistry, stats)

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.TrustProxy, s.log)
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// applyDefaults fills zero fields of cfg.
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must outlast the slowest chat answer.
		cfg.WriteTimeout = cfg.ChatTimeout + 10*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
}

// routes builds the mux. The chat endpoint is public for the website widget
// and rate limited per IP; administrative routes require the API key.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, s.metrics.instrument(name, h))
	}
	admin := func(h http.HandlerFunc) http.Handler { return authMiddleware(s.cfg.APIKey, h) }

	handle("POST /api/chat", "chat", rl.middleware(http.HandlerFunc(s.handleChat)))
	handle("GET /api/municipalities", "municipalities", http.HandlerFunc(s.handleMunicipalities))
	handle("GET /api/cache/stats", "cache_stats", admin(s.handleCacheStats))
	handle("POST /api/cache/clear", "cache_clear", admin(s.handleCacheClear))
	handle("POST /api/documents/changed", "documents_changed", admin(s.handleDocumentsChanged))
	handle("GET /api/health", "health", http.HandlerFunc(s.handleHealth))
	handle("GET /api/ready", "ready", http.HandlerFunc(s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, mux)
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	if s.cfg.APIKey == "" {
		s.log.Warn("server: PRIMARIA_API_KEY is not set, admin routes are unauthenticated")
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat. It runs the question through the
// orchestrator and returns the answer as JSON. Degraded answers, including a
// request that outlives ChatTimeout, are a 200 with state "degraded"; only
// invalid input, unknown municipalities and cancellation produce error
// statuses.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()
	s.metrics.chatInFlight.Inc()
	defer s.metrics.chatInFlight.Dec()

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.metrics.observeChat("", "invalid", time.Since(start))
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	history, err := toTurns(req.ConversationHistory)
	if err != nil {
		s.metrics.observeChat("", "invalid", time.Since(start))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	resp, err := s.asker.Ask(ctx, orchestrator.Request{
		Tenant:    domain.Selector{ID: req.MunicipalityID, Domain: req.MunicipalityDomain},
		Question:  req.Message,
		SessionID: req.SessionID,
		History:   history,
	})
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && r.Context().Err() == nil {
		// The chat budget ran out while the client is still waiting.
		log.Warn("chat: request budget exhausted, answering with apology",
			slog.Duration("budget", s.cfg.ChatTimeout), slog.Any("error", err))
		resp, err = orchestrator.Degraded(req.SessionID), nil
	}
	if err != nil {
		status, outcome, msg := chatError(err)
		s.metrics.observeChat("", outcome, time.Since(start))
		if status >= http.StatusInternalServerError {
			log.Warn("chat: request failed", slog.String("outcome", outcome), slog.Any("error", err))
		}
		writeError(w, status, msg)
		return
	}

	s.metrics.observeAnswer(resp, time.Since(start))
	sources := resp.Sources
	if sources == nil {
		sources = []domain.Source{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Response:     resp.Answer,
		Sources:      sources,
		Citations:    resp.Citations,
		Confidence:   resp.Confidence,
		SessionID:    resp.SessionID,
		Municipality: municipalityOf(resp.Tenant),
		State:        resp.State,
		Cached:       resp.Cached,
		Similarity:   resp.Similarity,
	})
}

// chatError maps an orchestrator error onto an HTTP status, a metrics
// outcome and a client-facing message.
func chatError(err error) (status int, outcome, msg string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found", "municipality not found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "request timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "canceled", "request canceled"
	default:
		return http.StatusInternalServerError, "error", "internal error"
	}
}

// toTurns validates and converts widget history.
func toTurns(msgs []chatMessage) ([]domain.Turn, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	turns := make([]domain.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := domain.Role(m.Role)
		if role != domain.RoleUser && role != domain.RoleAssistant {
			return nil, fmt.Errorf("conversation_history: unknown role %q", m.Role)
		}
		turns = append(turns, domain.Turn{Role: role, Content: m.Content})
	}
	return turns, nil
}

// municipalityOf is the public view of t.
func municipalityOf(t domain.Tenant) municipality {
	return municipality{ID: t.ID, Name: t.Name, Domain: t.Domain}
}

// healthResponse is the JSON body returned by GET /api/health.
type healthResponse struct {
	Status string       `json:"status"`
	Build  version.Info `json:"build"`
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Build: version.Get()})
}

// decodeJSON decodes a bounded request body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
