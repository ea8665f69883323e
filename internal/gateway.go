// Package gateway defines domain types and interfaces for the wvgate Weverse gateway.
// This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"encoding/json"
	"time"
)

// --- Upstream ---

// Upstream is the contract of the third-party content service.
// Implementations perform their own HTTP work; the gateway only sees
// tokens and raw JSON payloads.
type Upstream interface {
	// Login exchanges credentials for a session token.
	// Rejected credentials return ErrLoginRejected.
	Login(ctx context.Context, creds Credentials) (string, error)
	// Communities lists the communities visible to the session.
	Communities(ctx context.Context, token string) (json.RawMessage, error)
	// Posts lists posts of a community, one page at a time.
	Posts(ctx context.Context, token, communityID string, page Page) (json.RawMessage, error)
	// Artists lists the artist members of a community.
	Artists(ctx context.Context, token, communityID string) (json.RawMessage, error)
	// Media returns the media attachments of a post.
	Media(ctx context.Context, token, postID string) (json.RawMessage, error)
}

// Credentials are the email/password pair used to log in upstream.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Page selects a window of a paginated upstream listing.
// Zero values mean "upstream default".
type Page struct {
	Number int
	Size   int
}

// --- Cache namespaces ---

// Namespaces group cached resources by route.
const (
	NamespaceCommunities = "communities"
	NamespacePosts       = "posts"
	NamespaceArtists     = "artists"
	NamespaceMedia       = "media"
)

// --- Status ---

// Version is the API version reported by the status endpoints.
const Version = "1.0.0"

// Status is the body of GET /api/status.
type Status struct {
	Status        string    `json:"status"`
	Version       string    `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
	Environment   string    `json:"environment"`
	Authenticated bool      `json:"authenticated"`
	CacheEntries  int       `json:"cache_entries"`
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}
