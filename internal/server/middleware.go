package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	gateway "github.com/eugener/wvgate/internal"
	"github.com/eugener/wvgate/internal/ratelimit"
	"github.com/eugener/wvgate/internal/validate"
)

// statusWriterPool eliminates 1 alloc/req from &statusWriter{} escaping to heap.
// Reset fields on Get, nil ResponseWriter on Put to avoid retaining references.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{} },
}

// recovery catches panics and returns 500.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
					slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
				)
				writeFailure(w, gateway.ErrInternal, msgInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader uses the canonical MIME form so direct map access
// skips textproto.CanonicalMIMEHeaderKey.
const requestIDHeader = "X-Request-Id"

// requestID adds a UUID v7 request ID to the context and response header.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if vals := r.Header[requestIDHeader]; len(vals) > 0 && vals[0] != "" {
			id = vals[0]
		} else {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		ctx := gateway.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logging logs each request with method, path, status, and duration.
func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false
		next.ServeHTTP(sw, r)
		// LogAttrs with typed slog.String/Int/Int64 keeps attrs as stack values.
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.RequestURI()),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
		)
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)
	})
}

// securityHeaders sets the standard hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-DNS-Prefetch-Control", "off")
		h.Set("X-Download-Options", "noopen")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		h.Set("X-XSS-Protection", "0")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		h.Set("Content-Security-Policy", "default-src 'self'; base-uri 'self'; frame-ancestors 'self'; object-src 'none'")
		next.ServeHTTP(w, r)
	})
}

// cors allows any origin and answers preflight requests directly.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, HEAD, PUT, PATCH, POST, DELETE")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
				h.Add("Vary", "Access-Control-Request-Headers")
			}
			h.Set("Content-Length", "0")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit counts the request against the caller's window and rejects it
// with 429 once the ceiling is reached. Nothing downstream runs for a
// rejected request.
func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := s.deps.RateLimiter.Admit(clientKey(r))
		now := s.deps.Now()
		reset := strconv.FormatInt(ceilSeconds(res.RetryAfter(now)), 10)

		h := w.Header()
		h.Set("RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		h.Set("RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		h.Set("RateLimit-Reset", reset)

		if !res.Allowed {
			h.Set("Retry-After", reset)
			if s.deps.Metrics != nil {
				s.deps.Metrics.RateLimitRejects.Inc()
			}
			slog.LogAttrs(r.Context(), slog.LevelWarn, "rate limited",
				slog.String("client", clientKey(r)),
				slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
			)
			writeFailure(w, gateway.ErrRateLimited, msgRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller for rate limiting by the connection's
// peer address. Proxy headers count only when TrustProxy installed RealIP
// ahead of this middleware.
func clientKey(r *http.Request) string {
	if r.RemoteAddr == "" {
		return ratelimit.GlobalKey
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func ceilSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}

// requireSession rejects requests while no upstream session is held.
func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.deps.Auth.IsAuthenticated() {
			slog.LogAttrs(r.Context(), slog.LevelWarn, "unauthenticated request rejected",
				slog.String("path", r.URL.Path),
				slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
			)
			writeFailure(w, gateway.ErrUnauthenticated, msgUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validateParams checks chi URL parameters against schema.
func validateParams(schema validate.Schema) func(http.Handler) http.Handler {
	return validator(schema, func(r *http.Request) validate.Lookup {
		return func(field string) (string, bool) {
			v := chi.URLParam(r, field)
			return v, v != ""
		}
	})
}

// validateQuery checks query parameters against schema.
func validateQuery(schema validate.Schema) func(http.Handler) http.Handler {
	return validator(schema, func(r *http.Request) validate.Lookup {
		q := r.URL.Query()
		return queryLookup(q)
	})
}

func queryLookup(q url.Values) validate.Lookup {
	return func(field string) (string, bool) {
		vals, ok := q[field]
		if !ok || len(vals) == 0 {
			return "", false
		}
		return vals[0], true
	}
}

func validator(schema validate.Schema, lookup func(*http.Request) validate.Lookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if violations := schema.Check(lookup(r)); len(violations) > 0 {
				rejectInvalid(w, r, schema, violations)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rejectInvalid answers 400 naming the first violation; the full list is
// logged at debug.
func rejectInvalid(w http.ResponseWriter, r *http.Request, schema validate.Schema, violations []validate.Violation) {
	slog.LogAttrs(r.Context(), slog.LevelDebug, "validation failed",
		slog.String("schema", schema.Name),
		slog.Any("violations", violations),
		slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
	)
	writeFailure(w, gateway.ErrInvalidInput, violations[0].String())
}

// statusWriter wraps ResponseWriter to capture the HTTP status code.
// WriteHeader records only the first status code; subsequent calls are
// forwarded to the underlying writer but do not update the captured value,
// matching net/http semantics where only the first WriteHeader takes effect.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter, allowing http.ResponseController
// and similar utilities to find interface implementations.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
