package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"media-pipeline/internal/logging"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// LoggingConfig selects which requests Logger writes.
type LoggingConfig struct {
	// SkipPaths are path prefixes that are never logged.
	SkipPaths       []string
	LogHealthChecks bool
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{SkipPaths: []string{"/metrics"}, LogHealthChecks: true}
}

var probePaths = map[string]bool{"/health": true, "/healthz": true, "/livez": true, "/readyz": true}

// RequestID tags every request with an ID, reusing a well-formed one sent
// by the client, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// Logger writes one W3C extended log line per request.
func Logger(cfg LoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip(r.URL.Path, cfg) {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)
			logging.Info("%s", w3cLine(time.Now().UTC(), r, rec, time.Since(start)))
		})
	}
}

func skip(path string, cfg LoggingConfig) bool {
	return hasAnyPrefix(path, cfg.SkipPaths) || (probePaths[path] && !cfg.LogHealthChecks)
}

// w3cLine renders the fields
//
//	date time c-ip cs-method cs-uri-stem cs-uri-query sc-status sc-bytes
//	time-taken cs(Content-Length) x-request-id cs(User-Agent)
func w3cLine(now time.Time, r *http.Request, rec *statusRecorder, took time.Duration) string {
	length := ""
	if r.ContentLength > 0 {
		length = strconv.FormatInt(r.ContentLength, 10)
	}
	fields := []string{
		now.Format(time.DateOnly),
		now.Format(time.TimeOnly),
		field(clientIP(r)),
		field(r.Method),
		field(r.URL.Path),
		field(r.URL.RawQuery),
		strconv.Itoa(rec.status),
		strconv.FormatInt(rec.size, 10),
		strconv.FormatInt(took.Milliseconds(), 10),
		field(length),
		field(r.Header.Get(RequestIDHeader)),
		quoted(field(r.Header.Get("User-Agent"))),
	}
	return strings.Join(fields, " ")
}

// field strips control characters so a client cannot forge log lines.
// Line breaks become spaces and empty values become "-".
func field(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r':
			return ' '
		case r == '\t':
			return r
		case r < 0x20:
			return -1
		}
		return r
	}, s)
	if s == "" {
		return "-"
	}
	return s
}

// quoted wraps values holding spaces or quotes, doubling inner quotes.
func quoted(s string) string {
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
