// Package cache provides the namespaced response cache for the gateway.
package cache

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Cache is the interface for response caching.
type Cache interface {
	// Get retrieves a cached value by key. A miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores a value with the given TTL, overwriting any previous entry.
	// A non-positive ttl selects the store's default TTL.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	// Flush removes all cached values.
	Flush(ctx context.Context)
}

// keyScope prefixes every key so entries are recognisable in dumps.
const keyScope = "wv"

// keySep separates key components. NUL cannot occur in a namespace
// (a fixed route constant) or in a request path, which keeps
// GenerateKey injective.
const keySep = "\x00"

// GenerateKey builds the cache key for a resource path within a namespace.
// Equal inputs always yield equal keys and distinct inputs never collide.
func GenerateKey(namespace, resourcePath string) string {
	var b strings.Builder
	b.Grow(len(keyScope) + len(namespace) + len(resourcePath) + 2*len(keySep))
	b.WriteString(keyScope)
	b.WriteString(keySep)
	b.WriteString(namespace)
	b.WriteString(keySep)
	b.WriteString(resourcePath)
	return b.String()
}

// ResourcePath normalizes a request URL into the resource path used for keys:
// the escaped path followed by the query with keys in sorted order.
// Requests that differ only in query parameter order share a key.
func ResourcePath(u *url.URL) string {
	path := u.EscapedPath()
	if u.RawQuery == "" {
		return path
	}
	q := u.Query()
	if len(q) == 0 {
		return path
	}
	// url.Values.Encode sorts by key.
	return path + "?" + q.Encode()
}
