package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// okHandler is a trivial handler used to verify that allowed requests reach
// the downstream handler.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// chatFrom builds a POST /api/chat request from remoteAddr.
func chatFrom(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(100, 5, false, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	for i := range 5 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, chatFrom("127.0.0.1:12345"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

// TestRateLimit_RejectsWithRetryAfter verifies that the request after the
// burst gets 429, a Retry-After derived from the refill rate and a JSON body
// the widget can show.
func TestRateLimit_RejectsWithRetryAfter(t *testing.T) {
	t.Parallel()

	// One token every 4 seconds, burst 1.
	rl, stop := newRateLimiter(0.25, 1, false, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	h.ServeHTTP(httptest.NewRecorder(), chatFrom("10.0.0.2:1234"))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, chatFrom("10.0.0.2:1234"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "4" {
		t.Errorf("Retry-After = %q, want 4", got)
	}
	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Error != rateLimitMessage {
		t.Errorf("unexpected body %+v (%v)", body, err)
	}
}

// TestRateLimit_RejectionDoesNotConsume verifies that rejected requests do
// not push the next allowed request further out.
func TestRateLimit_RejectionDoesNotConsume(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	rl, stop := newRateLimiter(1, 1, false, slog.Default())
	defer stop()
	rl.now = func() time.Time { return now }

	if _, ok := rl.allow("10.0.0.3"); !ok {
		t.Fatal("first request must be allowed")
	}
	for range 5 {
		if _, ok := rl.allow("10.0.0.3"); ok {
			t.Fatal("burst exhausted, request must be rejected")
		}
	}
	now = now.Add(time.Second)
	if _, ok := rl.allow("10.0.0.3"); !ok {
		t.Error("token refilled after 1s, request must be allowed")
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, false, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	for range 5 {
		h.ServeHTTP(httptest.NewRecorder(), chatFrom("192.168.1.1:1111"))
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, chatFrom("192.168.1.2:2222"))
	if w.Code != http.StatusOK {
		t.Errorf("second client: expected 200, got %d", w.Code)
	}
}

// TestRateLimit_TrustedProxyKeysOnForwardedFor verifies that behind a proxy
// residents sharing the proxy's socket address get separate buckets.
func TestRateLimit_TrustedProxyKeysOnForwardedFor(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, true, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	for _, resident := range []string{"86.120.1.1", "86.120.1.2"} {
		req := chatFrom("10.0.0.1:443")
		req.Header.Set("X-Forwarded-For", resident+", 10.0.0.1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", resident, w.Code)
		}
	}
}

func TestRateLimit_SweepDropsIdleClients(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	rl, stop := newRateLimiter(10, 10, false, slog.Default())
	defer stop()
	rl.now = func() time.Time { return now }

	rl.allow("10.0.0.4")
	now = now.Add(clientIdleTTL - time.Second)
	rl.allow("10.0.0.5")
	now = now.Add(2 * time.Second)

	if n := rl.sweep(); n != 1 {
		t.Errorf("sweep removed %d, want 1", n)
	}
	if rl.clients.Contains("10.0.0.4") || !rl.clients.Contains("10.0.0.5") {
		t.Errorf("unexpected clients after sweep: %v", rl.clients.Keys())
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		trustProxy bool
		want       string
	}{
		{name: "ipv4", remoteAddr: "127.0.0.1:54321", want: "127.0.0.1"},
		{name: "ipv6", remoteAddr: "[::1]:8080", want: "::1"},
		{name: "no port", remoteAddr: "noport", want: "noport"},
		{name: "forwarded ignored", remoteAddr: "10.0.0.1:80", xff: "86.120.1.1", want: "10.0.0.1"},
		{name: "forwarded trusted", remoteAddr: "10.0.0.1:80", xff: " 86.120.1.1 , 10.0.0.1", trustProxy: true, want: "86.120.1.1"},
		{name: "real ip trusted", remoteAddr: "10.0.0.1:80", realIP: "86.120.1.9", trustProxy: true, want: "86.120.1.9"},
		{name: "trusted without headers", remoteAddr: "10.0.0.1:80", trustProxy: true, want: "10.0.0.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := clientIP(req, tc.trustProxy); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
