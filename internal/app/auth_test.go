package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	gateway "github.com/eugener/wvgate/internal"
	"github.com/eugener/wvgate/internal/session"
	"github.com/eugener/wvgate/internal/testutil"
)

type loginRecorder struct {
	mu       sync.Mutex
	outcomes []string
	authed   bool
}

func (r *loginRecorder) ObserveLogin(outcome string, authenticated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	r.authed = authenticated
}

func TestAuthService_Login(t *testing.T) {
	t.Parallel()

	rec := &loginRecorder{}
	up := &testutil.FakeUpstream{}
	svc := NewAuthService(session.New(up, 0), rec)
	ctx := context.Background()

	if err := svc.Login(ctx, gateway.Credentials{Email: "a@b.com", Password: "pw1"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !svc.IsAuthenticated() {
		t.Error("expected session after successful login")
	}

	err := svc.Login(ctx, gateway.Credentials{Email: "a@b.com", Password: "nope"})
	if !errors.Is(err, gateway.ErrLoginRejected) {
		t.Errorf("err = %v, want ErrLoginRejected", err)
	}
	if !svc.IsAuthenticated() {
		t.Error("rejected login must keep the prior session")
	}

	svc.Logout()
	if svc.IsAuthenticated() {
		t.Error("logout should drop the session")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{LoginSuccess, LoginRejected, LoginLogout}
	if len(rec.outcomes) != len(want) {
		t.Fatalf("outcomes = %v, want %v", rec.outcomes, want)
	}
	for i := range want {
		if rec.outcomes[i] != want[i] {
			t.Errorf("outcome[%d] = %q, want %q", i, rec.outcomes[i], want[i])
		}
	}
	if rec.authed {
		t.Error("last observation should report no session")
	}
}

func TestAuthService_UpstreamFailure(t *testing.T) {
	t.Parallel()

	up := &testutil.FakeUpstream{
		LoginFn: func(context.Context, gateway.Credentials) (string, error) {
			return "", errors.New("dial tcp: connection refused")
		},
	}
	svc := NewAuthService(session.New(up, 0), nil)

	err := svc.Login(context.Background(), gateway.Credentials{Email: "a@b.com", Password: "pw1"})
	if !errors.Is(err, gateway.ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
	if errors.Is(err, gateway.ErrLoginRejected) {
		t.Error("connectivity failure must not look like a rejection")
	}
}

func TestAuthService_LoginConfigured(t *testing.T) {
	t.Parallel()

	up := &testutil.FakeUpstream{}
	svc := NewAuthService(session.New(up, 0), nil)
	ctx := context.Background()

	ok, err := svc.LoginConfigured(gateway.Credentials{Email: "a@b.com", Password: "bad"})(ctx)
	if ok || err != nil {
		t.Errorf("rejected = (%v, %v), want (false, nil)", ok, err)
	}
	ok, err = svc.LoginConfigured(gateway.Credentials{Email: "a@b.com", Password: "pw1"})(ctx)
	if !ok || err != nil {
		t.Errorf("accepted = (%v, %v), want (true, nil)", ok, err)
	}
}
