package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakePinger is a test double for the Pinger interface.
type fakePinger struct {
	// name is returned by Name().
	name string
	// err is returned by Ping(); nil means healthy.
	err error
}

func (f *fakePinger) Name() string                 { return f.name }
func (f *fakePinger) Ping(_ context.Context) error { return f.err }

// ready runs GET /api/ready against a test server wired with pingers.
func ready(t *testing.T, pingers ...Pinger) (int, readyResponse) {
	t.Helper()
	s := newTestServer()
	s.pingers = pingers

	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, resp
}

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", w.Code, w.Body.String())
	}
	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status: expected %q, got %q", "ok", body.Status)
	}
	if body.Build.GoVersion == "" || body.Build.Version == "" {
		t.Errorf("build info missing: %+v", body.Build)
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	down := errors.New("connection refused")
	tests := []struct {
		name       string
		pingers    []Pinger
		wantCode   int
		wantStatus string
	}{
		{
			name:       "no pingers",
			wantCode:   http.StatusOK,
			wantStatus: statusReady,
		},
		{
			name:       "all healthy",
			pingers:    []Pinger{Degradable(&fakePinger{name: "ollama"}), &fakePinger{name: "sqlite"}},
			wantCode:   http.StatusOK,
			wantStatus: statusReady,
		},
		{
			name:       "chat model down degrades",
			pingers:    []Pinger{Degradable(&fakePinger{name: "ollama", err: down}), &fakePinger{name: "sqlite"}},
			wantCode:   http.StatusOK,
			wantStatus: statusDegraded,
		},
		{
			name:       "store down is unavailable",
			pingers:    []Pinger{Degradable(&fakePinger{name: "ollama"}), &fakePinger{name: "qdrant", err: down}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: statusUnavailable,
		},
		{
			name:       "critical wins over degradable",
			pingers:    []Pinger{&fakePinger{name: "postgres", err: down}, Degradable(&fakePinger{name: "embedder", err: down})},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: statusUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, resp := ready(t, tt.pingers...)

			if code != tt.wantCode || resp.Status != tt.wantStatus {
				t.Fatalf("got %d %q, want %d %q", code, resp.Status, tt.wantCode, tt.wantStatus)
			}
			if resp.Ready != (tt.wantStatus != statusUnavailable) {
				t.Errorf("ready = %t for status %q", resp.Ready, resp.Status)
			}
			if resp.Municipalities != 1 {
				t.Errorf("municipalities = %d, want 1", resp.Municipalities)
			}
			if len(resp.Checks) != len(tt.pingers) {
				t.Fatalf("expected %d checks, got %d", len(tt.pingers), len(resp.Checks))
			}
			for i, c := range resp.Checks {
				p := tt.pingers[i]
				if c.Name != p.Name() {
					t.Errorf("check %d: name %q, want %q (order must be kept)", i, c.Name, p.Name())
				}
				if c.Critical == isDegradable(p) {
					t.Errorf("check %q: critical = %t", c.Name, c.Critical)
				}
				if c.OK != (c.Error == "") {
					t.Errorf("check %q: ok=%t error=%q", c.Name, c.OK, c.Error)
				}
			}
		})
	}
}

func TestMultiPinger_JoinsFailures(t *testing.T) {
	t.Parallel()

	m := NewMultiPinger(
		&fakePinger{name: "sqlite"},
		&fakePinger{name: "qdrant", err: errors.New("refused")},
		Degradable(&fakePinger{name: "ollama", err: errors.New("timeout")}),
	)
	err := m.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"qdrant: refused", "ollama: timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}

	if err := NewMultiPinger(&fakePinger{name: "sqlite"}).Ping(context.Background()); err != nil {
		t.Errorf("healthy: %v", err)
	}
}
