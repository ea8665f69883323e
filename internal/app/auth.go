package app

import (
	"context"
	"errors"
	"log/slog"

	gateway "github.com/eugener/wvgate/internal"
	"github.com/eugener/wvgate/internal/session"
)

// Login outcomes reported to a LoginObserver.
const (
	LoginSuccess  = "success"
	LoginRejected = "rejected"
	LoginError    = "error"
	LoginLogout   = "logout"
)

// LoginObserver is told about every login attempt and logout.
type LoginObserver interface {
	ObserveLogin(outcome string, authenticated bool)
}

// AuthService translates session login outcomes into gateway errors.
type AuthService struct {
	session  *session.Manager
	observer LoginObserver
}

// NewAuthService returns an AuthService over sess. observer may be nil.
func NewAuthService(sess *session.Manager, observer LoginObserver) *AuthService {
	return &AuthService{session: sess, observer: observer}
}

// Login authenticates upstream. It returns nil on success,
// gateway.ErrLoginRejected when the credentials were refused, and an error
// wrapping gateway.ErrUpstream when the upstream could not be reached.
// The previously held token survives any failure.
func (a *AuthService) Login(ctx context.Context, creds gateway.Credentials) error {
	ok, err := a.session.Login(ctx, creds.Email, creds.Password)
	switch {
	case err != nil:
		slog.LogAttrs(ctx, slog.LevelError, "weverse login failed",
			slog.String("error", err.Error()),
			slog.String("request_id", gateway.RequestIDFromContext(ctx)),
		)
		a.observe(LoginError)
		return err
	case !ok:
		slog.LogAttrs(ctx, slog.LevelWarn, "weverse login rejected",
			slog.String("request_id", gateway.RequestIDFromContext(ctx)),
		)
		a.observe(LoginRejected)
		return gateway.ErrLoginRejected
	}
	a.observe(LoginSuccess)
	return nil
}

// LoginConfigured is the background form of Login used at startup: it
// reports (false, nil) for rejected credentials so callers can stop
// retrying, and (false, err) for transient failures.
func (a *AuthService) LoginConfigured(creds gateway.Credentials) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		err := a.Login(ctx, creds)
		if errors.Is(err, gateway.ErrLoginRejected) {
			return false, nil
		}
		return err == nil, err
	}
}

// Logout drops the session token.
func (a *AuthService) Logout() {
	a.session.Logout()
	a.observe(LoginLogout)
}

// IsAuthenticated reports whether a session token is held.
func (a *AuthService) IsAuthenticated() bool {
	return a.session.IsAuthenticated()
}

func (a *AuthService) observe(outcome string) {
	if a.observer != nil {
		a.observer.ObserveLogin(outcome, a.session.IsAuthenticated())
	}
}
