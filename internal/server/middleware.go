package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/primaria-go/internal/logging"
)

// requestIDHeader carries the request id. An id set by the reverse proxy is
// kept so widget, proxy and server logs correlate; otherwise one is generated.
const requestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds an inbound request id before it reaches the logs.
const maxRequestIDLen = 64

// requestLogger is an [http.Handler] middleware that:
//  1. Reuses the inbound X-Request-ID or generates a UUID, and echoes it on
//     the response.
//  2. Injects a child [*slog.Logger] carrying that ID into the request context.
//  3. Logs method, path, status code, bytes written and latency on completion.
//  4. Converts a handler panic into a 500 JSON error.
func requestLogger(base *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := requestID(r)
		w.Header().Set(requestIDHeader, reqID)

		log := base.With(
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		r = r.WithContext(logging.WithLogger(r.Context(), log))

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
					panic(p)
				}
				log.Error("handler panic", slog.Any("panic", p))
				if !rw.wroteHeader {
					writeError(rw, http.StatusInternalServerError, "internal error")
				}
			}
			log.Info("request",
				slog.Int("status", rw.status),
				slog.Int("bytes", rw.bytes),
				slog.Duration("duration", time.Since(start)),
			)
		}()

		next.ServeHTTP(rw, r)
	})
}

// requestID returns the inbound request id when it is usable, or a new UUID.
func requestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); id != "" && len(id) <= maxRequestIDLen {
		return id
	}
	return uuid.NewString()
}

// responseWriter wraps [http.ResponseWriter] to capture the status code and
// body size written by the handler.
type responseWriter struct {
	http.ResponseWriter
	// status is the HTTP status code sent to the client.
	status int
	// bytes is the number of body bytes written.
	bytes int
	// wroteHeader is set once the status line has been sent.
	wroteHeader bool
}

// WriteHeader captures the status code before delegating to the underlying writer.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

// Write counts body bytes; an implicit 200 marks the header as written.
func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
