// Package app holds the request pipeline services that sit between the
// HTTP transport and the upstream client.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	gateway "github.com/eugener/wvgate/internal"
	"github.com/eugener/wvgate/internal/cache"
)

// Fetcher performs one upstream read with the session token.
type Fetcher func(ctx context.Context, token string) (json.RawMessage, error)

// TokenSource provides the current session token.
type TokenSource interface {
	Token() (string, bool)
}

// CacheObserver is told about every cache lookup.
type CacheObserver interface {
	ObserveCache(namespace string, hit bool)
}

// Result is a successful pipeline outcome.
type Result struct {
	Body   json.RawMessage
	Cached bool
}

// FetchService runs the cache stage of the pipeline: lookup by namespaced
// key, upstream fetch on miss, cache population on success.
// Concurrent misses for the same key share a single upstream fetch.
type FetchService struct {
	cache    cache.Cache // nil = always miss
	tokens   TokenSource
	ttl      time.Duration
	observer CacheObserver
	group    singleflight.Group
}

// NewFetchService returns a FetchService. A nil c disables caching;
// ttl <= 0 defers to the cache's default TTL.
func NewFetchService(c cache.Cache, tokens TokenSource, ttl time.Duration, observer CacheObserver) *FetchService {
	return &FetchService{cache: c, tokens: tokens, ttl: ttl, observer: observer}
}

// Fetch returns the cached payload for (namespace, resourcePath) or calls
// fetch and caches its result. Only successful results are cached. Upstream
// failures wrap gateway.ErrUpstream; a missing session returns
// gateway.ErrUnauthenticated without touching cache or upstream.
func (s *FetchService) Fetch(ctx context.Context, namespace, resourcePath string, fetch Fetcher) (Result, error) {
	token, ok := s.tokens.Token()
	if !ok {
		return Result{}, gateway.ErrUnauthenticated
	}

	key := cache.GenerateKey(namespace, resourcePath)
	if body, ok := s.lookup(ctx, key); ok {
		s.observe(namespace, true)
		return Result{Body: body, Cached: true}, nil
	}
	s.observe(namespace, false)

	// The shared fetch must not be cut short by whichever caller happened
	// to start it; the upstream client applies its own timeout.
	v, err, _ := s.group.Do(key, func() (any, error) {
		body, err := fetch(context.WithoutCancel(ctx), token)
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, body)
		return body, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", gateway.ErrUpstream, namespace, err)
	}
	return Result{Body: v.(json.RawMessage)}, nil
}

// Flush empties the cache.
func (s *FetchService) Flush(ctx context.Context) {
	if s.cache == nil {
		return
	}
	defer s.recoverCache(ctx, "flush")
	s.cache.Flush(ctx)
}

// lookup reads key from the cache. A failing cache is a miss.
func (s *FetchService) lookup(ctx context.Context, key string) (body json.RawMessage, ok bool) {
	if s.cache == nil {
		return nil, false
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "cache lookup failed", slog.Any("error", rec))
			body, ok = nil, false
		}
	}()
	data, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	return json.RawMessage(data), true
}

// store writes body under key. A failing cache is ignored.
func (s *FetchService) store(ctx context.Context, key string, body json.RawMessage) {
	if s.cache == nil {
		return
	}
	defer s.recoverCache(ctx, "store")
	s.cache.Set(ctx, key, body, s.ttl)
}

func (s *FetchService) recoverCache(ctx context.Context, op string) {
	if rec := recover(); rec != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache "+op+" failed", slog.Any("error", rec))
	}
}

func (s *FetchService) observe(namespace string, hit bool) {
	if s.observer != nil {
		s.observer.ObserveCache(namespace, hit)
	}
}
