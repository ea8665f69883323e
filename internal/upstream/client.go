// Package upstream implements the gateway.Upstream adapter for the Weverse API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/eugener/wvgate/internal"
	"github.com/eugener/wvgate/internal/circuitbreaker"
	"github.com/eugener/wvgate/internal/telemetry"
)

const (
	defaultAccountURL = "https://accountapi.weverse.io/web/api/v2"
	defaultAPIURL     = "https://global.apis.naver.com/weverse/wevweb"
	defaultTimeout    = 10 * time.Second
	defaultUserAgent  = "wvgate/" + gateway.Version

	// maxResponseBody caps upstream payloads so a misbehaving upstream
	// cannot exhaust memory.
	maxResponseBody = 8 << 20
)

// tokenPaths are the gjson paths probed, in order, for the access token
// in a login response.
var tokenPaths = []string{"accessToken", "access_token", "data.accessToken", "token"}

var _ gateway.Upstream = (*Client)(nil)

// Observer receives the outcome of each upstream call.
type Observer interface {
	ObserveUpstream(op string, elapsed time.Duration, err error)
}

// Config configures the Weverse client. Zero fields take defaults.
type Config struct {
	AccountURL string
	APIURL     string
	Timeout    time.Duration
	UserAgent  string
}

// Client talks to the Weverse account and content APIs.
type Client struct {
	accountURL string
	apiURL     string
	timeout    time.Duration
	userAgent  string
	http       *http.Client
	breaker    *circuitbreaker.Breaker
	observer   Observer
	tracer     trace.Tracer
}

// Option customizes a Client.
type Option func(*Client)

// WithBreaker routes every call through b.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithObserver reports call outcomes to o.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// New creates a Weverse Client. If client is nil a default http.Client is used.
func New(cfg Config, client *http.Client, opts ...Option) *Client {
	if cfg.AccountURL == "" {
		cfg.AccountURL = defaultAccountURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if client == nil {
		client = &http.Client{}
	}
	c := &Client{
		accountURL: strings.TrimRight(cfg.AccountURL, "/"),
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		timeout:    cfg.Timeout,
		userAgent:  cfg.UserAgent,
		http:       client,
		tracer:     telemetry.Tracer("github.com/eugener/wvgate/internal/upstream"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, creds gateway.Credentials) (string, error) {
	var token string
	err := c.call(ctx, "login", func(ctx context.Context) error {
		body, err := json.Marshal(creds)
		if err != nil {
			return fmt.Errorf("marshal credentials: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountURL+"/auth/token/by-credentials", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		c.setHeaders(req, "")

		data, err := c.do(req, "login")
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && isCredentialStatus(apiErr.StatusCode) {
				return fmt.Errorf("%w: %w", gateway.ErrLoginRejected, err)
			}
			return err
		}
		token = extractToken(data)
		if token == "" {
			return errors.New("weverse login: response carries no access token")
		}
		return nil
	})
	return token, err
}

// Communities lists the communities the session can access.
func (c *Client) Communities(ctx context.Context, token string) (json.RawMessage, error) {
	return c.get(ctx, "communities", token, "/community/v1.0/communities", nil)
}

// Posts lists one page of posts in a community.
func (c *Client) Posts(ctx context.Context, token, communityID string, page gateway.Page) (json.RawMessage, error) {
	q := url.Values{}
	if page.Number > 0 {
		q.Set("page", strconv.Itoa(page.Number))
	}
	if page.Size > 0 {
		q.Set("size", strconv.Itoa(page.Size))
	}
	return c.get(ctx, "posts", token, "/post/v1.0/community-"+url.PathEscape(communityID)+"/posts", q)
}

// Artists lists the artist members of a community.
func (c *Client) Artists(ctx context.Context, token, communityID string) (json.RawMessage, error) {
	return c.get(ctx, "artists", token, "/member/v1.0/community-"+url.PathEscape(communityID)+"/artistMembers", nil)
}

// Media returns the media attached to a post.
func (c *Client) Media(ctx context.Context, token, postID string) (json.RawMessage, error) {
	return c.get(ctx, "media", token, "/post/v1.0/post-"+url.PathEscape(postID)+"/media", nil)
}

// get performs an authenticated GET against the content API.
func (c *Client) get(ctx context.Context, op, token, path string, q url.Values) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.call(ctx, op, func(ctx context.Context) error {
		target := c.apiURL + path
		if len(q) > 0 {
			target += "?" + q.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		c.setHeaders(req, token)

		data, err := c.do(req, op)
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	return out, err
}

// call bounds fn by the client timeout, traces it, routes it through the
// breaker and reports the outcome.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "weverse."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("weverse.op", op)),
	)
	defer span.End()

	start := time.Now()
	var err error
	if c.breaker != nil {
		err = c.breaker.Do(func() error { return fn(ctx) })
	} else {
		err = fn(ctx)
	}
	if c.observer != nil {
		c.observer.ObserveUpstream(op, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream call failed")
		return fmt.Errorf("weverse %s: %w", op, err)
	}
	return nil
}

// do executes req and returns the body of a 2xx JSON response.
func (c *Client) do(req *http.Request, op string) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseAPIError(op, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("decode response: body is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// isCredentialStatus reports whether an upstream login status means the
// credentials themselves were refused.
func isCredentialStatus(code int) bool {
	return code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden
}

// extractToken returns the first non-empty access token in a login response.
func extractToken(data []byte) string {
	for _, p := range tokenPaths {
		if v := gjson.GetBytes(data, p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}
