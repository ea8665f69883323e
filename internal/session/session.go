// Package session holds the single upstream credential shared by every
// request in the process.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gateway "github.com/eugener/wvgate/internal"
)

// Authenticator performs the upstream login exchange.
type Authenticator interface {
	Login(ctx context.Context, creds gateway.Credentials) (string, error)
}

// Manager owns the process-wide session token.
// Token reads are lock-free; a login in flight never blocks readers,
// who observe either the previous or the new token.
type Manager struct {
	auth    Authenticator
	timeout time.Duration

	token atomic.Pointer[string]

	// loginMu serializes logins so two concurrent attempts cannot
	// interleave their writes out of order.
	loginMu sync.Mutex
}

// New returns a Manager that logs in through auth, bounding each
// attempt by timeout (0 = no bound beyond the caller's context).
func New(auth Authenticator, timeout time.Duration) *Manager {
	return &Manager{auth: auth, timeout: timeout}
}

// IsAuthenticated reports whether a token is currently held.
func (m *Manager) IsAuthenticated() bool {
	return m.token.Load() != nil
}

// Token returns the current token, if any.
func (m *Manager) Token() (string, bool) {
	p := m.token.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// Login authenticates upstream and stores the resulting token.
// Rejected credentials return (false, nil) and keep any previously held
// token. Any other failure is returned as an error wrapping
// gateway.ErrUpstream, also keeping the previous token.
func (m *Manager) Login(ctx context.Context, email, password string) (bool, error) {
	m.loginMu.Lock()
	defer m.loginMu.Unlock()

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	token, err := m.auth.Login(ctx, gateway.Credentials{Email: email, Password: password})
	switch {
	case errors.Is(err, gateway.ErrLoginRejected):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%w: login: %w", gateway.ErrUpstream, err)
	case token == "":
		return false, fmt.Errorf("%w: login returned empty token", gateway.ErrUpstream)
	}

	m.token.Store(&token)
	slog.Debug("session established", "email", email)
	return true, nil
}

// Logout drops the current token.
func (m *Manager) Logout() {
	m.loginMu.Lock()
	m.token.Store(nil)
	m.loginMu.Unlock()
}
