package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/primaria-go/internal/cache"
	"github.com/54b3r/primaria-go/internal/domain"
	"github.com/54b3r/primaria-go/internal/orchestrator"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat request end to end (default: 60s).
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// TrustProxy keys the rate limit on X-Forwarded-For / X-Real-IP. Enable
	// only behind a reverse proxy that sets those headers.
	TrustProxy bool
	// APIKey is the Bearer token required on the admin routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// asker answers resident questions and applies the document change policy.
// *orchestrator.Orchestrator satisfies it; tests inject a fake.
type asker interface {
	Ask(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error)
	DocumentsChanged(ctx context.Context, tenantIDs []string) int
}

// tenantLister lists the municipalities that can be served.
type tenantLister interface {
	List(ctx context.Context) []domain.Tenant
}

// cacheAdmin is the administrative view of the response cache.
type cacheAdmin interface {
	Stats() cache.Stats
	Flush(ctx context.Context, tenantID string) int
	FlushAll(ctx context.Context) int
}

// Deps are the collaborators the handlers call. Cache is optional.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Tenants      tenantLister
	Cache        *cache.Cache
}

// Server is the HTTP server in front of the question pipeline.
type Server struct {
	// asker runs /api/chat and /api/documents/changed.
	asker asker
	// tenants backs GET /api/municipalities.
	tenants tenantLister
	// cache backs the cache admin routes; nil when the cache is disabled.
	cache cacheAdmin
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
}

// chatMessage is one prior turn sent by the widget.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the resident's question.
	Message string `json:"message"`
	// MunicipalityDomain selects the tenant by website domain.
	MunicipalityDomain string `json:"municipality_domain,omitempty"`
	// MunicipalityID selects the tenant by ID and wins over the domain.
	MunicipalityID string `json:"municipality_id,omitempty"`
	// SessionID continues a conversation; generated when empty.
	SessionID string `json:"session_id,omitempty"`
	// ConversationHistory is recent conversation, oldest first.
	ConversationHistory []chatMessage `json:"conversation_history,omitempty"`
}

// municipality is the public view of a tenant.
type municipality struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// chatResponse is the JSON response for POST /api/chat.
type chatResponse struct {
	Response     string             `json:"response"`
	Sources      []domain.Source    `json:"sources"`
	Citations    []domain.Citation  `json:"citations,omitempty"`
	Confidence   float64            `json:"confidence"`
	SessionID    string             `json:"session_id"`
	Municipality municipality       `json:"municipality"`
	State        orchestrator.State `json:"state"`
	Cached       bool               `json:"cached"`
	Similarity   float64            `json:"similarity,omitempty"`
}

// cacheClearRequest is the JSON body for POST /api/cache/clear.
// An empty MunicipalityID clears every tenant.
type cacheClearRequest struct {
	MunicipalityID string `json:"municipality_id,omitempty"`
}

// cacheClearResponse reports how many entries a clear removed.
type cacheClearResponse struct {
	Removed int `json:"removed"`
}

// documentsChangedRequest is the JSON body for POST /api/documents/changed.
type documentsChangedRequest struct {
	MunicipalityIDs []string `json:"municipality_ids"`
}

// documentsChangedResponse reports how many cached answers were invalidated.
type documentsChangedResponse struct {
	Invalidated int `json:"invalidated"`
}

// errorResponse is the JSON body of every 4xx/5xx produced by a handler.
type errorResponse struct {
	Error string `json:"error"`
}
