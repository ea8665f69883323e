package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	gateway "github.com/eugener/wvgate/internal"
	"github.com/eugener/wvgate/internal/app"
	"github.com/eugener/wvgate/internal/cache"
	"github.com/eugener/wvgate/internal/ratelimit"
	"github.com/eugener/wvgate/internal/session"
	"github.com/eugener/wvgate/internal/testutil"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

type testEnv struct {
	handler  http.Handler
	upstream *testutil.FakeUpstream
	auth     *app.AuthService
	cache    *cache.Memory
}

type testOpts struct {
	environment string
	limiter     *ratelimit.Registry
	loggedIn    bool
	upstream    *testutil.FakeUpstream
	ready       ReadyChecker
	trustProxy  bool
}

func newTestEnv(t *testing.T, o testOpts) *testEnv {
	t.Helper()
	up := o.upstream
	if up == nil {
		up = &testutil.FakeUpstream{}
	}
	mem, err := cache.NewMemory(1000, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	sess := session.New(up, time.Second)
	auth := app.NewAuthService(sess, nil)
	if o.loggedIn {
		if err := auth.Login(context.Background(), testutil.Credentials()); err != nil {
			t.Fatal(err)
		}
	}
	env := o.environment
	if env == "" {
		env = "development"
	}
	h := New(Deps{
		Auth:        auth,
		Fetch:       app.NewFetchService(mem, sess, 0, nil),
		Upstream:    up,
		CacheSize:   mem,
		RateLimiter: o.limiter,
		Environment: env,
		ReadyCheck:  o.ready,
		TrustProxy:  o.trustProxy,
	})
	return &testEnv{handler: h, upstream: up, auth: auth, cache: mem}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{})

	rec := e.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, testOpts{})
	if rec := e.do(http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	e = newTestEnv(t, testOpts{ready: func(context.Context) error { return errors.New("no session") }})
	rec := e.do(http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(rec.Body.String(), "no session") {
		t.Errorf("body = %q, want reason", rec.Body.String())
	}
}

func TestRoot(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{})

	rec := e.do(http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body welcome
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Message != "Welcome to Weverse API" || body.Version != gateway.Version {
		t.Errorf("body = %+v", body)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{loggedIn: true})

	rec := e.do(http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st gateway.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Status != "online" || st.Version != gateway.Version || st.Environment != "development" {
		t.Errorf("status body = %+v", st)
	}
	if !st.Authenticated {
		t.Error("authenticated = false, want true")
	}
	if st.Timestamp.IsZero() {
		t.Error("timestamp missing")
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{})

	rec := e.do(http.MethodGet, "/healthz", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header should be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "caller-id")
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "caller-id" {
		t.Errorf("X-Request-Id = %q, want caller-id", got)
	}
}

func TestSecurityAndCORSHeaders(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{})

	rec := e.do(http.MethodGet, "/", "")
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/communities", nil)
	req.Header.Set("Origin", "https://fan.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "content-type" {
		t.Errorf("Access-Control-Allow-Headers = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{})

	for _, path := range []string{"/nope", "/api/nope"} {
		rec := e.do(http.MethodGet, path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, rec.Code)
			continue
		}
		if msg := errorOf(t, rec); msg != "Not Found" {
			t.Errorf("%s: error = %q", path, msg)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{})

	rec := e.do(http.MethodPut, "/api/status", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if msg := errorOf(t, rec); msg == "" {
		t.Error("405 should carry an error body")
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"success", `{"email":"a@b.com","password":"pw1"}`, http.StatusOK, ""},
		{"rejected", `{"email":"a@b.com","password":"wrong"}`, http.StatusUnauthorized, "Authentication failed"},
		{"missing password", `{"email":"a@b.com"}`, http.StatusBadRequest, `"password" is required`},
		{"bad email", `{"email":"nope","password":"pw1"}`, http.StatusBadRequest, `"email" must be a valid email`},
		{"malformed", `{`, http.StatusBadRequest, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEnv(t, testOpts{})

			rec := e.do(http.MethodPost, "/api/auth/login", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantError != "" {
				if msg := errorOf(t, rec); msg != tt.wantError {
					t.Errorf("error = %q, want %q", msg, tt.wantError)
				}
				return
			}
			if !strings.Contains(rec.Body.String(), "Authentication successful") {
				t.Errorf("body = %s", rec.Body.String())
			}
			if !e.auth.IsAuthenticated() {
				t.Error("session not established")
			}
		})
	}
}

func TestLogin_InvalidNeverReachesUpstream(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{})

	e.do(http.MethodPost, "/api/auth/login", `{"email":"","password":""}`)
	if n := e.upstream.Logins.Load(); n != 0 {
		t.Errorf("upstream logins = %d, want 0", n)
	}
}

func TestLogin_UpstreamFailure(t *testing.T) {
	t.Parallel()
	up := &testutil.FakeUpstream{
		LoginFn: func(context.Context, gateway.Credentials) (string, error) {
			return "", errors.New("dial tcp 10.0.0.1:443: connection refused")
		},
	}
	e := newTestEnv(t, testOpts{upstream: up})

	rec := e.do(http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"pw1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if msg := errorOf(t, rec); msg != "Authentication failed" {
		t.Errorf("error = %q, upstream details must not leak", msg)
	}
}

func TestUnauthenticated(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{})

	for _, path := range []string{
		"/api/communities",
		"/api/communities/123/posts?page=1&size=10",
		"/api/communities/123/artists",
		"/api/posts/p1/media",
	} {
		rec := e.do(http.MethodGet, path, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, rec.Code)
			continue
		}
		if msg := errorOf(t, rec); msg != "Not authenticated with Weverse" {
			t.Errorf("%s: error = %q", path, msg)
		}
	}
	if n := e.upstream.Calls.Load(); n != 0 {
		t.Errorf("upstream calls = %d, want 0", n)
	}
	if n := e.cache.Len(); n != 0 {
		t.Errorf("cache entries = %d, want 0", n)
	}
}

func TestContentRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"/api/communities", `[{"id":"123","name":"fake"}]`},
		{"/api/communities/123/posts?page=1&size=10", `{"data":[{"postId":"p1"}]}`},
		{"/api/communities/123/artists", `[{"artistId":"a1"}]`},
		{"/api/posts/p1/media", `[{"type":"photo"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			e := newTestEnv(t, testOpts{loggedIn: true})

			rec := e.do(http.MethodGet, tt.path, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
			}
			if rec.Body.String() != tt.want {
				t.Errorf("body = %s, want %s", rec.Body.String(), tt.want)
			}
			if got := rec.Header().Get("X-Cache"); got != "MISS" {
				t.Errorf("X-Cache = %q, want MISS", got)
			}
		})
	}
}

func TestPostsPassesPagination(t *testing.T) {
	t.Parallel()

	var got gateway.Page
	var gotID string
	up := &testutil.FakeUpstream{
		PostsFn: func(_ context.Context, _, communityID string, page gateway.Page) (json.RawMessage, error) {
			gotID, got = communityID, page
			return json.RawMessage(`{"data":[]}`), nil
		},
	}
	e := newTestEnv(t, testOpts{loggedIn: true, upstream: up})

	if rec := e.do(http.MethodGet, "/api/communities/c-9/posts?size=25&page=3", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotID != "c-9" || got.Number != 3 || got.Size != 25 {
		t.Errorf("upstream got id=%q page=%+v", gotID, got)
	}
}

func TestCacheHitSkipsUpstream(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{loggedIn: true})

	first := e.do(http.MethodGet, "/api/communities/123/posts?page=1&size=10", "")
	second := e.do(http.MethodGet, "/api/communities/123/posts?size=10&page=1", "")

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("status = %d, %d", first.Code, second.Code)
	}
	if second.Header().Get("X-Cache") != "HIT" {
		t.Errorf("second X-Cache = %q, want HIT", second.Header().Get("X-Cache"))
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("cached body differs: %s vs %s", first.Body.String(), second.Body.String())
	}
	if n := e.upstream.Calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestUpstreamFailure(t *testing.T) {
	t.Parallel()
	up := &testutil.FakeUpstream{
		CommunitiesFn: func(context.Context, string) (json.RawMessage, error) {
			return nil, errors.New("weverse communities: HTTP 502: secret upstream detail")
		},
	}
	e := newTestEnv(t, testOpts{loggedIn: true, upstream: up})

	rec := e.do(http.MethodGet, "/api/communities", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Errorf("upstream detail leaked: %s", rec.Body.String())
	}
	if n := e.cache.Len(); n != 0 {
		t.Errorf("cache entries = %d, want 0 after failure", n)
	}
}

func TestValidationBeforeAuthAndCache(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path      string
		wantField string
	}{
		{"/api/communities/bad%20id/posts", `"communityId"`},
		{"/api/communities/123/posts?page=0", `"page"`},
		{"/api/communities/123/posts?size=101", `"size"`},
		{"/api/communities/123/posts?page=abc", `"page"`},
		{"/api/communities/" + strings.Repeat("x", 65) + "/artists", `"communityId"`},
		{"/api/posts/p.1/media", `"postId"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			// Logged out: a 400 proves validation ran before the auth gate.
			e := newTestEnv(t, testOpts{})

			rec := e.do(http.MethodGet, tt.path, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body = %s", rec.Code, rec.Body.String())
			}
			if msg := errorOf(t, rec); !strings.Contains(msg, tt.wantField) {
				t.Errorf("error = %q, want mention of %s", msg, tt.wantField)
			}
			if e.upstream.Calls.Load() != 0 || e.cache.Len() != 0 {
				t.Error("invalid input must not reach upstream or cache")
			}
		})
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{loggedIn: true})

	e.do(http.MethodGet, "/api/communities", "")
	rec := e.do(http.MethodDelete, "/api/cache/flush", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Cache successfully flushed") {
		t.Errorf("body = %s", rec.Body.String())
	}

	again := e.do(http.MethodGet, "/api/communities", "")
	if again.Header().Get("X-Cache") != "MISS" {
		t.Error("request after flush should miss")
	}
	if n := e.upstream.Calls.Load(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestFlush_EmptyCache(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{})

	if rec := e.do(http.MethodDelete, "/api/cache/flush", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestProductionForbidsFlushAndLogout(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{environment: "production", loggedIn: true})

	e.do(http.MethodGet, "/api/communities", "")
	for _, path := range []string{"/api/cache/flush", "/api/auth/session"} {
		rec := e.do(http.MethodDelete, path, "")
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: status = %d, want 403", path, rec.Code)
			continue
		}
		if msg := errorOf(t, rec); msg != "Not allowed in production" {
			t.Errorf("%s: error = %q", path, msg)
		}
	}
	if e.cache.Len() != 1 {
		t.Error("cache must be untouched in production")
	}
	if !e.auth.IsAuthenticated() {
		t.Error("session must be untouched in production")
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{loggedIn: true})

	if rec := e.do(http.MethodDelete, "/api/auth/session", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := e.do(http.MethodGet, "/api/communities", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("after logout status = %d, want 401", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{
		environment: "production",
		limiter:     ratelimit.NewRegistry(ratelimit.DefaultConfig()),
	})

	for i := range 100 {
		rec := e.do(http.MethodGet, "/api/status", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
		if i == 0 && rec.Header().Get("RateLimit-Limit") != "100" {
			t.Errorf("RateLimit-Limit = %q", rec.Header().Get("RateLimit-Limit"))
		}
	}

	rec := e.do(http.MethodGet, "/api/communities/123/posts?page=1&size=10", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("101st request status = %d, want 429", rec.Code)
	}
	if msg := errorOf(t, rec); msg != "Too many requests, please try again later" {
		t.Errorf("error = %q", msg)
	}
	if rec.Header().Get("RateLimit-Remaining") != "0" {
		t.Errorf("RateLimit-Remaining = %q, want 0", rec.Header().Get("RateLimit-Remaining"))
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing on 429")
	}
	if e.upstream.Calls.Load() != 0 {
		t.Error("rate limited request reached upstream")
	}

	// Routes outside /api are not limited.
	if rec := e.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
}

// sendFrom issues GET /api/status from peer with the given X-Forwarded-For.
func (e *testEnv) sendFrom(peer, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.RemoteAddr = peer
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimit_PerClient(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{
		environment: "production",
		limiter:     ratelimit.NewRegistry(ratelimit.Config{Window: time.Minute, Max: 1}),
	})

	if code := e.sendFrom("198.51.100.1:1111", ""); code != http.StatusOK {
		t.Errorf("first client status = %d", code)
	}
	if code := e.sendFrom("198.51.100.1:2222", ""); code != http.StatusTooManyRequests {
		t.Errorf("first client second request status = %d, want 429", code)
	}
	if code := e.sendFrom("198.51.100.2:1111", ""); code != http.StatusOK {
		t.Errorf("second client status = %d, want 200", code)
	}
}

func TestRateLimit_IgnoresForwardedForByDefault(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{
		environment: "production",
		limiter:     ratelimit.NewRegistry(ratelimit.DefaultConfig()),
	})

	const peer = "198.51.100.7:4242"
	for i := range 100 {
		xff := fmt.Sprintf("203.0.113.%d", i)
		if code := e.sendFrom(peer, xff); code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, code)
		}
	}
	if code := e.sendFrom(peer, "203.0.113.250"); code != http.StatusTooManyRequests {
		t.Errorf("101st request with fresh X-Forwarded-For: status = %d, want 429", code)
	}
}

func TestRateLimit_TrustProxy(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{
		environment: "production",
		limiter:     ratelimit.NewRegistry(ratelimit.Config{Window: time.Minute, Max: 1}),
		trustProxy:  true,
	})

	const proxy = "10.0.0.1:8080"
	if code := e.sendFrom(proxy, "203.0.113.1"); code != http.StatusOK {
		t.Errorf("first client status = %d", code)
	}
	if code := e.sendFrom(proxy, "203.0.113.1"); code != http.StatusTooManyRequests {
		t.Errorf("first client second request status = %d, want 429", code)
	}
	if code := e.sendFrom(proxy, "203.0.113.2"); code != http.StatusOK {
		t.Errorf("second client behind proxy status = %d, want 200", code)
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", gateway.ErrInvalidInput, http.StatusBadRequest},
		{"unauthenticated", gateway.ErrUnauthenticated, http.StatusUnauthorized},
		{"login rejected", fmt.Errorf("login: %w", gateway.ErrLoginRejected), http.StatusUnauthorized},
		{"forbidden", gateway.ErrForbidden, http.StatusForbidden},
		{"not found", gateway.ErrNotFound, http.StatusNotFound},
		{"rate limited", gateway.ErrRateLimited, http.StatusTooManyRequests},
		{"internal", gateway.ErrInternal, http.StatusInternalServerError},
		{"upstream", fmt.Errorf("%w: posts: timeout", gateway.ErrUpstream), http.StatusInternalServerError},
		{"upstream carrying not found", fmt.Errorf("%w: media: %w", gateway.ErrUpstream, gateway.ErrNotFound), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := errorStatus(tt.err); got != tt.want {
				t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestConcurrentColdCache(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, testOpts{loggedIn: true})

	const n = 20
	var wg sync.WaitGroup
	bodies := make([]string, n)
	codes := make([]int, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := e.do(http.MethodGet, "/api/communities/123/artists", "")
			codes[i], bodies[i] = rec.Code, rec.Body.String()
		}()
	}
	wg.Wait()

	for i := range n {
		if codes[i] != http.StatusOK {
			t.Errorf("request %d: status = %d", i, codes[i])
		}
		if bodies[i] != bodies[0] {
			t.Errorf("request %d: body = %s, want %s", i, bodies[i], bodies[0])
		}
	}
	if e.cache.Len() != 1 {
		t.Errorf("cache entries = %d, want 1", e.cache.Len())
	}
}

func TestPanicRecovery(t *testing.T) {
	t.Parallel()
	up := &testutil.FakeUpstream{
		MediaFn: func(context.Context, string, string) (json.RawMessage, error) {
			panic("boom")
		},
	}
	e := newTestEnv(t, testOpts{loggedIn: true, upstream: up})

	rec := e.do(http.MethodGet, "/api/posts/p1/media", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if msg := errorOf(t, rec); msg != "Something went wrong!" {
		t.Errorf("error = %q", msg)
	}
}
