package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/wvgate/internal"
	"github.com/eugener/wvgate/internal/app"
	"github.com/eugener/wvgate/internal/cache"
	"github.com/eugener/wvgate/internal/validate"
)

// maxLoginBody bounds the login request body.
const maxLoginBody = 64 << 10

var (
	cacheHit  = []string{"HIT"}
	cacheMiss = []string{"MISS"}
)

type welcome struct {
	Message       string `json:"message"`
	Version       string `json:"version"`
	Documentation string `json:"documentation"`
}

func (s *server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, welcome{
		Message:       "Welcome to Weverse API",
		Version:       gateway.Version,
		Documentation: "/api-docs",
	})
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := gateway.Status{
		Status:        "online",
		Version:       gateway.Version,
		Timestamp:     s.deps.Now().UTC(),
		Environment:   s.deps.Environment,
		Authenticated: s.deps.Auth.IsAuthenticated(),
	}
	if s.deps.CacheSize != nil {
		st.CacheEntries = s.deps.CacheSize.Len()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds gateway.Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&creds); err != nil {
		writeFailure(w, gateway.ErrInvalidInput, "invalid request body")
		return
	}
	lookup := validate.Map(map[string]string{"email": creds.Email, "password": creds.Password})
	if violations := validate.Login.Check(lookup); len(violations) > 0 {
		rejectInvalid(w, r, validate.Login, violations)
		return
	}

	slog.LogAttrs(r.Context(), slog.LevelInfo, "login attempt",
		slog.String("email", creds.Email),
		slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
	)
	if err := s.deps.Auth.Login(r.Context(), creds); err != nil {
		// Rejected credentials are 401; anything else is 500 with the same
		// generic message.
		writeFailure(w, err, msgAuthFailed)
		return
	}
	writeMessage(w, msgAuthOK)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.production {
		writeFailure(w, gateway.ErrForbidden, msgProdForbidden)
		return
	}
	s.deps.Auth.Logout()
	slog.LogAttrs(r.Context(), slog.LevelInfo, "session cleared",
		slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
	)
	writeMessage(w, msgLoggedOut)
}

func (s *server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if s.production {
		writeFailure(w, gateway.ErrForbidden, msgProdForbidden)
		return
	}
	s.deps.Fetch.Flush(r.Context())
	slog.LogAttrs(r.Context(), slog.LevelInfo, "cache flushed",
		slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
	)
	writeMessage(w, msgFlushed)
}

func (s *server) handleCommunities(w http.ResponseWriter, r *http.Request) {
	s.serveFetch(w, r, gateway.NamespaceCommunities, func(ctx context.Context, token string) (json.RawMessage, error) {
		return s.deps.Upstream.Communities(ctx, token)
	})
}

func (s *server) handlePosts(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityId")
	q := r.URL.Query()
	page := gateway.Page{
		Number: atoiOrZero(q.Get("page")),
		Size:   atoiOrZero(q.Get("size")),
	}
	s.serveFetch(w, r, gateway.NamespacePosts, func(ctx context.Context, token string) (json.RawMessage, error) {
		return s.deps.Upstream.Posts(ctx, token, communityID, page)
	})
}

func (s *server) handleArtists(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityId")
	s.serveFetch(w, r, gateway.NamespaceArtists, func(ctx context.Context, token string) (json.RawMessage, error) {
		return s.deps.Upstream.Artists(ctx, token, communityID)
	})
}

func (s *server) handleMedia(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postId")
	s.serveFetch(w, r, gateway.NamespaceMedia, func(ctx context.Context, token string) (json.RawMessage, error) {
		return s.deps.Upstream.Media(ctx, token, postID)
	})
}

// serveFetch runs the cache and upstream stages for one content route and
// writes the payload, tagging the response with X-Cache.
func (s *server) serveFetch(w http.ResponseWriter, r *http.Request, namespace string, fetch app.Fetcher) {
	res, err := s.deps.Fetch.Fetch(r.Context(), namespace, cache.ResourcePath(r.URL), fetch)
	if err != nil {
		if errors.Is(err, gateway.ErrUnauthenticated) {
			writeFailure(w, err, msgUnauthenticated)
			return
		}
		slog.LogAttrs(r.Context(), slog.LevelError, "fetch failed",
			slog.String("namespace", namespace),
			slog.String("error", err.Error()),
			slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
		)
		writeFailure(w, err, "Failed to get "+namespace)
		return
	}

	if res.Cached {
		w.Header()["X-Cache"] = cacheHit
	} else {
		w.Header()["X-Cache"] = cacheMiss
	}
	writeRaw(w, http.StatusOK, res.Body)
}

func (s *server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	slog.LogAttrs(r.Context(), slog.LevelWarn, "not found",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	writeFailure(w, gateway.ErrNotFound, msgNotFound)
}

func (s *server) handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, msgNotAllowed)
}

// atoiOrZero parses an already-validated optional integer; absent means 0.
func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
