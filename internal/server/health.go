package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/primaria-go/internal/logging"
)

// probeTimeout is the maximum time allowed for each individual dependency
// probe during a readiness check.
const probeTimeout = 5 * time.Second

// Readiness states reported by GET /api/ready.
const (
	statusReady       = "ready"
	statusDegraded    = "degraded"
	statusUnavailable = "unavailable"
)

// Pinger is the interface implemented by any dependency that can report its
// own reachability. Each implementation must return nil when the dependency
// is healthy and a descriptive error otherwise.
// Implementations must be safe to call from multiple goroutines.
type Pinger interface {
	// Ping checks whether the dependency is reachable within the given context.
	// Returns nil on success, a descriptive error on failure.
	Ping(ctx context.Context) error

	// Name returns a short human-readable label used in readiness responses
	// (e.g. "ollama", "qdrant").
	Name() string
}

// degradable marks a dependency the service can answer without: an
// unreachable chat model yields the degraded answer and an unreachable
// embedder disables the semantic lookup and the cache.
type degradable struct{ Pinger }

// Degradable wraps p so that its failure reports the service as degraded
// rather than unavailable.
func Degradable(p Pinger) Pinger { return degradable{p} }

// isDegradable reports whether p was wrapped by Degradable.
func isDegradable(p Pinger) bool {
	_, ok := p.(degradable)
	return ok
}

// MultiPinger aggregates one or more Pinger implementations and reports
// the combined readiness of all dependencies.
type MultiPinger struct {
	// pingers is the ordered list of dependency probes to run.
	pingers []Pinger
}

// NewMultiPinger constructs a MultiPinger from the provided list of Pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping runs all probes concurrently and joins every failure, each prefixed
// with the dependency name.
func (m *MultiPinger) Ping(ctx context.Context) error {
	checks := probeAll(ctx, m.pingers)
	var errs []error
	for i, c := range checks {
		if !c.OK {
			errs = append(errs, fmt.Errorf("%s: %w", m.pingers[i].Name(), c.err))
		}
	}
	return errors.Join(errs...)
}

// Name returns a combined label for logging purposes.
func (m *MultiPinger) Name() string { return "multi" }

// readyCheck holds the per-dependency result of a readiness probe.
type readyCheck struct {
	// Name is the dependency label (e.g. "ollama", "qdrant").
	Name string `json:"name"`
	// OK is true when the dependency responded successfully.
	OK bool `json:"ok"`
	// Critical is false for dependencies the service degrades without.
	Critical bool `json:"critical"`
	// LatencyMS is the probe duration in milliseconds.
	LatencyMS int64 `json:"latency_ms"`
	// Error contains the failure reason when OK is false. Empty on success.
	Error string `json:"error,omitempty"`

	err error
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true unless a critical dependency failed.
	Ready bool `json:"ready"`
	// Status is ready, degraded or unavailable.
	Status string `json:"status"`
	// Municipalities is the number of active municipalities served.
	Municipalities int `json:"municipalities"`
	// Checks contains the per-dependency probe results in registration order.
	Checks []readyCheck `json:"checks"`
}

// probeAll pings every dependency concurrently, each under probeTimeout, and
// returns the results in the order of pingers.
func probeAll(ctx context.Context, pingers []Pinger) []readyCheck {
	checks := make([]readyCheck, len(pingers))
	var g errgroup.Group
	for i, p := range pingers {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(probeCtx)
			checks[i] = readyCheck{
				Name:      p.Name(),
				OK:        err == nil,
				Critical:  !isDegradable(p),
				LatencyMS: time.Since(start).Milliseconds(),
				err:       err,
			}
			if err != nil {
				checks[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait() // probes report through checks
	return checks
}

// handleReady handles GET /api/ready for readiness checks.
// A failing critical dependency (a passage store or the local database)
// returns 503; a failing degradable one (chat model, embedder) returns 200
// with status "degraded" so the load balancer keeps routing residents to an
// instance that still answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := readyResponse{
		Status:         statusReady,
		Municipalities: len(s.tenants.List(r.Context())),
		Checks:         probeAll(r.Context(), s.pingers),
	}
	for _, c := range resp.Checks {
		if c.OK {
			continue
		}
		log.Warn("readiness probe failed",
			slog.String("dependency", c.Name),
			slog.Bool("critical", c.Critical),
			slog.Any("error", c.err),
		)
		switch {
		case c.Critical:
			resp.Status = statusUnavailable
		case resp.Status == statusReady:
			resp.Status = statusDegraded
		}
	}
	resp.Ready = resp.Status != statusUnavailable

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
