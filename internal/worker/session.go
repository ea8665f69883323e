package worker

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultLoginRetryMin = 5 * time.Second
	defaultLoginRetryMax = 5 * time.Minute
)

// LoginFunc attempts an upstream login and reports whether it succeeded.
type LoginFunc func(ctx context.Context) (bool, error)

// SessionKeeper retries the startup login until a session is held.
// It stops retrying after a rejection, since the configured credentials
// will not start working on their own; connectivity failures back off
// exponentially up to a ceiling.
type SessionKeeper struct {
	login         LoginFunc
	authenticated func() bool
	minDelay      time.Duration
	maxDelay      time.Duration
}

// NewSessionKeeper creates a SessionKeeper.
func NewSessionKeeper(login LoginFunc, authenticated func() bool) *SessionKeeper {
	return &SessionKeeper{
		login:         login,
		authenticated: authenticated,
		minDelay:      defaultLoginRetryMin,
		maxDelay:      defaultLoginRetryMax,
	}
}

// Name returns the worker identifier.
func (k *SessionKeeper) Name() string { return "session_keeper" }

// Run attempts a login immediately, then keeps retrying on failure.
// It returns nil once a session is held, on rejection, or when ctx ends.
func (k *SessionKeeper) Run(ctx context.Context) error {
	delay := k.minDelay
	for {
		if k.authenticated() {
			return nil
		}
		ok, err := k.login(ctx)
		switch {
		case ok:
			slog.LogAttrs(ctx, slog.LevelInfo, "weverse session established")
			return nil
		case err == nil:
			slog.LogAttrs(ctx, slog.LevelWarn, "weverse rejected configured credentials, not retrying")
			return nil
		}
		slog.LogAttrs(ctx, slog.LevelWarn, "weverse login failed, retrying",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil
		}
		delay = min(delay*2, k.maxDelay)
	}
}
