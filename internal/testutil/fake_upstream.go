// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"encoding/json"
	"sync/atomic"

	gateway "github.com/eugener/wvgate/internal"
)

// Credentials returns the login the default FakeUpstream accepts.
func Credentials() gateway.Credentials {
	return gateway.Credentials{Email: "a@b.com", Password: "pw1"}
}

// FakeUpstream is a configurable gateway.Upstream for testing.
// Each *Fn field overrides the default behaviour; Calls counts
// every fetch (not logins) so tests can assert the upstream was untouched.
type FakeUpstream struct {
	LoginFn       func(ctx context.Context, creds gateway.Credentials) (string, error)
	CommunitiesFn func(ctx context.Context, token string) (json.RawMessage, error)
	PostsFn       func(ctx context.Context, token, communityID string, page gateway.Page) (json.RawMessage, error)
	ArtistsFn     func(ctx context.Context, token, communityID string) (json.RawMessage, error)
	MediaFn       func(ctx context.Context, token, postID string) (json.RawMessage, error)

	Calls  atomic.Int64
	Logins atomic.Int64
}

// Login delegates to LoginFn or accepts password "pw1" for any email.
func (f *FakeUpstream) Login(ctx context.Context, creds gateway.Credentials) (string, error) {
	f.Logins.Add(1)
	if f.LoginFn != nil {
		return f.LoginFn(ctx, creds)
	}
	if creds.Password != "pw1" {
		return "", gateway.ErrLoginRejected
	}
	return "token-" + creds.Email, nil
}

// Communities delegates to CommunitiesFn or returns a fixed list.
func (f *FakeUpstream) Communities(ctx context.Context, token string) (json.RawMessage, error) {
	f.Calls.Add(1)
	if f.CommunitiesFn != nil {
		return f.CommunitiesFn(ctx, token)
	}
	return json.RawMessage(`[{"id":"123","name":"fake"}]`), nil
}

// Posts delegates to PostsFn or returns a fixed page.
func (f *FakeUpstream) Posts(ctx context.Context, token, communityID string, page gateway.Page) (json.RawMessage, error) {
	f.Calls.Add(1)
	if f.PostsFn != nil {
		return f.PostsFn(ctx, token, communityID, page)
	}
	return json.RawMessage(`{"data":[{"postId":"p1"}]}`), nil
}

// Artists delegates to ArtistsFn or returns a fixed list.
func (f *FakeUpstream) Artists(ctx context.Context, token, communityID string) (json.RawMessage, error) {
	f.Calls.Add(1)
	if f.ArtistsFn != nil {
		return f.ArtistsFn(ctx, token, communityID)
	}
	return json.RawMessage(`[{"artistId":"a1"}]`), nil
}

// Media delegates to MediaFn or returns a fixed list.
func (f *FakeUpstream) Media(ctx context.Context, token, postID string) (json.RawMessage, error) {
	f.Calls.Add(1)
	if f.MediaFn != nil {
		return f.MediaFn(ctx, token, postID)
	}
	return json.RawMessage(`[{"type":"photo"}]`), nil
}
