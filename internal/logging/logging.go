// Package logging provides the structured logger built on [log/slog]. It is
// configured once at startup via [New] and distributed through context values
// using [WithLogger] / [FromContext].
//
// Residents type personal data into questions (CNP, e-mail, phone numbers).
// Unless LOG_REDACT=false, string attributes are masked before they reach the
// handler.
//
// Environment variables:
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json)
//	LOG_REDACT = true | false                 (default: true)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

type contextKey struct{}

// Personal data patterns. A CNP is a sex digit, a YYMMDD birth date and six
// more digits; phone numbers are Romanian ten-digit numbers, optionally
// written with +40.
var (
	cnpPattern   = regexp.MustCompile(`\b[1-8]\d{2}(0[1-9]|1[0-2])(0[1-9]|[12]\d|3[01])\d{6}\b`)
	emailPattern = regexp.MustCompile(`[\w.+-]+@[\w-]+(\.[\w-]+)+`)
	phonePattern = regexp.MustCompile(`(\+40|\b0)[ .-]?[237]\d{2}[ .-]?\d{3}[ .-]?\d{3}\b`)
)

// New constructs the process logger from the environment, writing to stderr.
func New() *slog.Logger {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}
	if !strings.EqualFold(os.Getenv("LOG_REDACT"), "false") {
		opts.ReplaceAttr = redactAttr
	}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Redact masks personal data in s.
func Redact(s string) string {
	s = cnpPattern.ReplaceAllString(s, "[cnp]")
	s = emailPattern.ReplaceAllString(s, "[email]")
	return phonePattern.ReplaceAllString(s, "[telefon]")
}

// redactAttr masks string values. The message key is left alone: messages
// are constant strings written by this codebase.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.MessageKey || a.Value.Kind() != slog.KindString {
		return a
	}
	s := a.Value.String()
	if r := Redact(s); r != s {
		a.Value = slog.StringValue(r)
	}
	return a
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the [*slog.Logger] stored in ctx, or [slog.Default].
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithTenant returns a copy of ctx whose logger carries a tenant_id
// attribute.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(slog.String("tenant_id", tenantID)))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
