package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/54b3r/primaria-go/internal/logging"
)

// defaultRateLimit is the number of requests per second allowed per client on
// /api/chat when no explicit limit is configured.
const defaultRateLimit = 10

// defaultRateBurst is the maximum burst size per client when no explicit
// burst is configured.
const defaultRateBurst = 20

// maxTrackedClients bounds the limiter table. The least recently seen client
// is dropped first, so a flood of distinct addresses cannot grow memory.
const maxTrackedClients = 10_000

// clientIdleTTL is how long a client's bucket survives without requests.
const clientIdleTTL = 5 * time.Minute

// rateLimitMessage is shown by the chat widget when a resident is throttled.
const rateLimitMessage = "Prea multe întrebări într-un timp scurt. Vă rugăm să reîncercați în câteva secunde."

// clientLimiter is one client's token bucket and the last time it was used.
type clientLimiter struct {
	limiter *rate.Limiter
	// lastSeen is the Unix nanosecond time of the latest request.
	lastSeen atomic.Int64
}

// rateLimiter enforces a per-client token-bucket limit on the public chat
// route. Clients are keyed by IP; behind a trusted reverse proxy the first
// X-Forwarded-For hop is used instead of the socket address.
type rateLimiter struct {
	// clients maps client IP to its bucket, bounded at maxTrackedClients.
	clients *lru.Cache[string, *clientLimiter]
	// rps is the sustained request rate allowed per client (requests/second).
	rps rate.Limit
	// burst is the maximum instantaneous burst per client.
	burst int
	// trustProxy enables X-Forwarded-For and X-Real-IP.
	trustProxy bool
	// now returns the current time; replaced in tests.
	now func() time.Time
	// log is the structured logger for rate-limit events.
	log *slog.Logger
}

// newRateLimiter constructs a rateLimiter and starts the idle-client sweeper.
// The sweeper exits when the returned stop function is called.
func newRateLimiter(rps float64, burst int, trustProxy bool, log *slog.Logger) (*rateLimiter, func()) {
	clients, _ := lru.New[string, *clientLimiter](maxTrackedClients) // size is a positive constant
	rl := &rateLimiter{
		clients:    clients,
		rps:        rate.Limit(rps),
		burst:      burst,
		trustProxy: trustProxy,
		now:        time.Now,
		log:        log,
	}

	stopCh := make(chan struct{})
	go rl.sweepLoop(stopCh)

	return rl, func() { close(stopCh) }
}

// limiterFor returns the bucket of ip, creating it on first use.
func (rl *rateLimiter) limiterFor(ip string) *rate.Limiter {
	now := rl.now()
	if c, ok := rl.clients.Get(ip); ok {
		c.lastSeen.Store(now.UnixNano())
		return c.limiter
	}
	c := &clientLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
	c.lastSeen.Store(now.UnixNano())
	// A concurrent first request from the same client may win the race; use
	// whichever bucket is stored.
	if prev, ok, _ := rl.clients.PeekOrAdd(ip, c); ok {
		return prev.limiter
	}
	return c.limiter
}

// sweepLoop drops idle clients every minute until stopCh is closed.
func (rl *rateLimiter) sweepLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if n := rl.sweep(); n > 0 {
				rl.log.Debug("rate limiter: dropped idle clients", slog.Int("removed", n))
			}
		}
	}
}

// sweep removes clients not seen within clientIdleTTL and returns how many
// were removed.
func (rl *rateLimiter) sweep() int {
	cutoff := rl.now().Add(-clientIdleTTL).UnixNano()
	removed := 0
	for _, ip := range rl.clients.Keys() {
		if c, ok := rl.clients.Peek(ip); ok && c.lastSeen.Load() < cutoff {
			rl.clients.Remove(ip)
			removed++
		}
	}
	return removed
}

// middleware rejects requests over the limit with 429, a Retry-After header
// computed from the bucket refill time and a JSON error body.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, rl.trustProxy)

		if wait, ok := rl.allow(ip); !ok {
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
				slog.Duration("retry_after", wait),
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			writeError(w, http.StatusTooManyRequests, rateLimitMessage)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allow takes one token for ip. When none is available it returns the time
// until the next token without consuming it.
func (rl *rateLimiter) allow(ip string) (time.Duration, bool) {
	now := rl.now()
	res := rl.limiterFor(ip).ReserveN(now, 1)
	if !res.OK() {
		return time.Second, false
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return wait, false
	}
	return 0, true
}

// retryAfterSeconds rounds wait up to whole seconds, at least 1.
func retryAfterSeconds(wait time.Duration) int {
	return max(1, int(math.Ceil(wait.Seconds())))
}

// clientIP returns the client address of r. With trustProxy the first
// X-Forwarded-For entry, then X-Real-IP, take precedence over RemoteAddr.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
