package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"authbus/internal/event"
)

type identityStub struct {
	authURL  func(state, redirectURL string) string
	exchange func(ctx context.Context, code, redirectURL string) (*event.User, *event.Session, error)
	revoke   func(ctx context.Context, token string) error
}

func (i *identityStub) AuthURL(state, redirectURL string) string {
	if i.authURL != nil {
		return i.authURL(state, redirectURL)
	}
	return "https://idp.test/consent?state=" + url.QueryEscape(state)
}

func (i *identityStub) Exchange(ctx context.Context, code, redirectURL string) (*event.User, *event.Session, error) {
	if i.exchange != nil {
		return i.exchange(ctx, code, redirectURL)
	}
	return nil, nil, errors.New("exchange not stubbed")
}

func (i *identityStub) Revoke(ctx context.Context, token string) error {
	if i.revoke != nil {
		return i.revoke(ctx, token)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProvider(bus *event.Bus, identity Identity, opts ...ProviderOption) *Provider {
	return NewProvider(bus, identity, "google", "https://app.test", testLogger(), opts...)
}

func exchangeSuccess(lifetime time.Duration) func(ctx context.Context, code, redirectURL string) (*event.User, *event.Session, error) {
	return func(ctx context.Context, code, redirectURL string) (*event.User, *event.Session, error) {
		user := &event.User{ID: "user-1", Email: "user@example.com"}
		sess := &event.Session{
			AccessToken:  "access-" + code,
			RefreshToken: "refresh-" + code,
			ExpiresAt:    time.Now().Add(lifetime).Unix(),
			TokenType:    "bearer",
			User:         user,
		}
		return user, sess, nil
	}
}

func TestSignInBuildsDefaultCallbackURL(t *testing.T) {
	bus := event.New(testLogger())
	var gotRedirect, gotState string
	identity := &identityStub{
		authURL: func(state, redirectURL string) string {
			gotState = state
			gotRedirect = redirectURL
			return "https://idp.test/consent"
		},
	}
	provider := newTestProvider(bus, identity)

	result := provider.SignIn(context.Background(), SignInOptions{})

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.URL != "https://idp.test/consent" {
		t.Fatalf("unexpected consent URL %q", result.URL)
	}
	if result.State == "" || result.State != gotState {
		t.Fatalf("expected result state to match the one sent, got %q vs %q", result.State, gotState)
	}
	want := "https://app.test" + CallbackPath
	if gotRedirect != want {
		t.Fatalf("expected callback URL %q, got %q", want, gotRedirect)
	}
}

func TestCallbackExchangeRepeatsSignInRedirectURL(t *testing.T) {
	bus := event.New(testLogger())
	var authRedirect, exchangeRedirect string
	identity := &identityStub{
		authURL: func(state, redirectURL string) string {
			authRedirect = redirectURL
			return "https://idp.test/consent"
		},
		exchange: func(ctx context.Context, code, redirectURL string) (*event.User, *event.Session, error) {
			exchangeRedirect = redirectURL
			return exchangeSuccess(time.Hour)(ctx, code, redirectURL)
		},
	}
	provider := newTestProvider(bus, identity)

	provider.SignIn(context.Background(), SignInOptions{})
	result := provider.HandleCallback(context.Background(), "code-1")

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if exchangeRedirect != authRedirect {
		t.Fatalf("token exchange redirect %q differs from authorization redirect %q", exchangeRedirect, authRedirect)
	}
	if strings.Contains(authRedirect, "?") {
		t.Fatalf("callback URL must carry no per-request state, got %q", authRedirect)
	}
}

func TestCallbackExchangeRepeatsExplicitRedirectURL(t *testing.T) {
	bus := event.New(testLogger())
	var exchangeRedirect string
	identity := &identityStub{
		authURL: func(state, redirectURL string) string { return "https://idp.test/consent" },
		exchange: func(ctx context.Context, code, redirectURL string) (*event.User, *event.Session, error) {
			exchangeRedirect = redirectURL
			return exchangeSuccess(time.Hour)(ctx, code, redirectURL)
		},
	}
	provider := newTestProvider(bus, identity)

	provider.SignIn(context.Background(), SignInOptions{RedirectURL: "https://other.test/cb"})
	provider.HandleCallback(context.Background(), "code-1")

	if exchangeRedirect != "https://other.test/cb" {
		t.Fatalf("expected explicit redirect URL repeated at exchange, got %q", exchangeRedirect)
	}
}

func TestSignInHonorsExplicitRedirectURL(t *testing.T) {
	bus := event.New(testLogger())
	var gotRedirect string
	identity := &identityStub{
		authURL: func(state, redirectURL string) string {
			gotRedirect = redirectURL
			return "https://idp.test/consent"
		},
	}
	provider := newTestProvider(bus, identity)

	provider.SignIn(context.Background(), SignInOptions{RedirectURL: "https://other.test/cb"})

	if gotRedirect != "https://other.test/cb" {
		t.Fatalf("expected explicit redirect URL to pass through, got %q", gotRedirect)
	}
}

func TestSignInInitiationFailureEmitsErrorEvent(t *testing.T) {
	bus := event.New(testLogger())
	identity := &identityStub{
		authURL: func(state, redirectURL string) string { return "" },
	}
	provider := newTestProvider(bus, identity)

	var errEvents []event.Event
	bus.Subscribe(event.SignInError, func(ctx context.Context, evt event.Event) error {
		errEvents = append(errEvents, evt)
		return nil
	})

	result := provider.SignIn(context.Background(), SignInOptions{})

	if result.Success {
		t.Fatal("expected initiation failure")
	}
	if result.Error == "" {
		t.Fatal("expected error in result")
	}
	if len(errEvents) != 1 {
		t.Fatalf("expected exactly one error event, got %d", len(errEvents))
	}
	if errEvents[0].Metadata["step"] != "initiate" {
		t.Fatalf("expected initiate step metadata, got %v", errEvents[0].Metadata)
	}
}

func TestHandleCallbackSuccess(t *testing.T) {
	bus := event.New(testLogger())
	identity := &identityStub{exchange: exchangeSuccess(time.Hour)}
	provider := newTestProvider(bus, identity)

	var successEvents []event.Event
	bus.Subscribe(event.SignInSuccess, func(ctx context.Context, evt event.Event) error {
		successEvents = append(successEvents, evt)
		return nil
	})

	result := provider.HandleCallback(context.Background(), "code-1")

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if result.User == nil || result.User.ID != "user-1" {
		t.Fatalf("expected user in result, got %+v", result.User)
	}
	if result.Session == nil || result.Session.AccessToken != "access-code-1" {
		t.Fatalf("expected session in result, got %+v", result.Session)
	}
	if len(successEvents) != 1 {
		t.Fatalf("expected one signin success event, got %d", len(successEvents))
	}
	if successEvents[0].Session == nil || successEvents[0].User == nil {
		t.Fatal("expected event to carry both user and session")
	}
	if got := provider.Session(); got == nil || got.AccessToken != "access-code-1" {
		t.Fatalf("expected local session copy, got %+v", got)
	}
	if !provider.SessionValid() {
		t.Fatal("expected local session to be valid")
	}
}

func TestHandleCallbackExchangeFailure(t *testing.T) {
	bus := event.New(testLogger())
	identity := &identityStub{
		exchange: func(ctx context.Context, code, redirectURL string) (*event.User, *event.Session, error) {
			return nil, nil, errors.New("invalid or expired code")
		},
	}
	provider := newTestProvider(bus, identity)

	var errEvents []event.Event
	bus.Subscribe(event.SignInError, func(ctx context.Context, evt event.Event) error {
		errEvents = append(errEvents, evt)
		return nil
	})

	result := provider.HandleCallback(context.Background(), "bad-code")

	if result.Success {
		t.Fatal("expected callback failure")
	}
	if !strings.Contains(result.Error, "invalid or expired code") {
		t.Fatalf("expected exchange error surfaced, got %q", result.Error)
	}
	if len(errEvents) != 1 {
		t.Fatalf("expected exactly one error event, got %d", len(errEvents))
	}
	if errEvents[0].Metadata["step"] != "callback" {
		t.Fatalf("expected callback step metadata, got %v", errEvents[0].Metadata)
	}
	if provider.Session() != nil {
		t.Fatal("expected no local session after failed callback")
	}
}

func TestHandleCallbackMissingSession(t *testing.T) {
	bus := event.New(testLogger())
	identity := &identityStub{
		exchange: func(ctx context.Context, code, redirectURL string) (*event.User, *event.Session, error) {
			return nil, nil, nil
		},
	}
	provider := newTestProvider(bus, identity)

	var errEvents []event.Event
	bus.Subscribe(event.SignInError, func(ctx context.Context, evt event.Event) error {
		errEvents = append(errEvents, evt)
		return nil
	})

	result := provider.HandleCallback(context.Background(), "code")

	if result.Success {
		t.Fatal("expected failure when provider returns no session")
	}
	if !strings.Contains(result.Error, "no session") {
		t.Fatalf("expected missing-session error, got %q", result.Error)
	}
	if len(errEvents) != 1 {
		t.Fatalf("expected one error event, got %d", len(errEvents))
	}
}

func TestHandleCallbackUserFallsBackToSessionUser(t *testing.T) {
	bus := event.New(testLogger())
	identity := &identityStub{
		exchange: func(ctx context.Context, code, redirectURL string) (*event.User, *event.Session, error) {
			user := &event.User{ID: "user-1", Email: "user@example.com"}
			return nil, &event.Session{
				AccessToken: "tok",
				ExpiresAt:   time.Now().Add(time.Hour).Unix(),
				User:        user,
			}, nil
		},
	}
	provider := newTestProvider(bus, identity)

	result := provider.HandleCallback(context.Background(), "code")

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if result.User == nil || result.User.ID != "user-1" {
		t.Fatalf("expected user recovered from session payload, got %+v", result.User)
	}
}

func TestHandleCallbackMissingUser(t *testing.T) {
	bus := event.New(testLogger())
	identity := &identityStub{
		exchange: func(ctx context.Context, code, redirectURL string) (*event.User, *event.Session, error) {
			return nil, &event.Session{
				AccessToken: "tok",
				ExpiresAt:   time.Now().Add(time.Hour).Unix(),
			}, nil
		},
	}
	provider := newTestProvider(bus, identity)

	result := provider.HandleCallback(context.Background(), "code")

	if result.Success {
		t.Fatal("expected failure when provider returns no user")
	}
	if !strings.Contains(result.Error, "no user") {
		t.Fatalf("expected missing-user error, got %q", result.Error)
	}
	if got := len(bus.History(event.SignInError)); got != 1 {
		t.Fatalf("expected one error event, got %d", got)
	}
	if provider.Session() != nil {
		t.Fatal("expected no local session without a usable identity")
	}
}

func TestHandleCallbackEmptyCode(t *testing.T) {
	bus := event.New(testLogger())
	provider := newTestProvider(bus, &identityStub{})

	result := provider.HandleCallback(context.Background(), "")

	if result.Success {
		t.Fatal("expected failure on empty code")
	}
	if got := len(bus.History(event.SignInError)); got != 1 {
		t.Fatalf("expected one error event in history, got %d", got)
	}
}

func TestSignOutWhenSignedOutEmitsNothing(t *testing.T) {
	bus := event.New(testLogger())
	provider := newTestProvider(bus, &identityStub{})

	result := provider.SignOut(context.Background())

	if !result.Success {
		t.Fatalf("expected signout of signed-out provider to succeed, got %q", result.Error)
	}
	if got := len(bus.History()); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
}

func TestSignOutClearsSessionAndEmits(t *testing.T) {
	bus := event.New(testLogger())
	var revokedToken string
	identity := &identityStub{
		exchange: exchangeSuccess(time.Hour),
		revoke: func(ctx context.Context, token string) error {
			revokedToken = token
			return nil
		},
	}
	provider := newTestProvider(bus, identity)
	provider.HandleCallback(context.Background(), "code-1")

	result := provider.SignOut(context.Background())

	if !result.Success {
		t.Fatalf("expected signout success, got %q", result.Error)
	}
	if revokedToken != "refresh-code-1" {
		t.Fatalf("expected refresh token revoked, got %q", revokedToken)
	}
	if provider.Session() != nil {
		t.Fatal("expected local session cleared")
	}
	if got := len(bus.History(event.SignOutSuccess)); got != 1 {
		t.Fatalf("expected one signout success event, got %d", got)
	}
}

func TestSignOutRevocationFailure(t *testing.T) {
	bus := event.New(testLogger())
	identity := &identityStub{
		exchange: exchangeSuccess(time.Hour),
		revoke: func(ctx context.Context, token string) error {
			return errors.New("revocation endpoint unavailable")
		},
	}
	provider := newTestProvider(bus, identity)
	provider.HandleCallback(context.Background(), "code-1")

	result := provider.SignOut(context.Background())

	if result.Success {
		t.Fatal("expected signout failure")
	}
	if got := len(bus.History(event.SignOutError)); got != 1 {
		t.Fatalf("expected one signout error event, got %d", got)
	}
	if provider.Session() == nil {
		t.Fatal("expected local session kept after failed signout")
	}
}

func TestSessionValidBoundary(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	bus := event.New(testLogger())
	identity := &identityStub{
		exchange: func(ctx context.Context, code, redirectURL string) (*event.User, *event.Session, error) {
			return &event.User{ID: "u"}, &event.Session{AccessToken: "tok", ExpiresAt: now.Unix()}, nil
		},
	}
	provider := newTestProvider(bus, identity, WithProviderClock(func() time.Time { return now }))
	provider.HandleCallback(context.Background(), "code")

	if provider.SessionValid() {
		t.Fatal("session expiring exactly now must be invalid")
	}
}

func TestGenerateState(t *testing.T) {
	state1, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState returned error: %v", err)
	}
	state2, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState returned error: %v", err)
	}
	if state1 == "" || state2 == "" {
		t.Fatal("expected non-empty state")
	}
	if state1 == state2 {
		t.Fatal("expected unique state values")
	}
}

func TestAuthURLRequestsOfflineAccessAndConsent(t *testing.T) {
	identity := &OIDCIdentity{
		name: "google",
		config: &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "secret",
			RedirectURL:  "https://app.test/api/auth/callback",
			Endpoint:     oauth2.Endpoint{AuthURL: "https://auth.test/oauth"},
			Scopes:       []string{"openid", "email", "profile"},
		},
	}

	authURL := identity.AuthURL("state-1", "")
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("AuthURL returned unparseable URL: %v", err)
	}

	query := parsed.Query()
	if query.Get("access_type") != "offline" {
		t.Fatalf("expected access_type=offline, got %q", query.Get("access_type"))
	}
	if query.Get("prompt") != "consent" {
		t.Fatalf("expected prompt=consent, got %q", query.Get("prompt"))
	}
	if query.Get("state") != "state-1" {
		t.Fatalf("expected state passed through, got %q", query.Get("state"))
	}
	if query.Get("redirect_uri") != "https://app.test/api/auth/callback" {
		t.Fatalf("unexpected redirect_uri %q", query.Get("redirect_uri"))
	}
}

func TestAuthURLOverridesRedirect(t *testing.T) {
	identity := &OIDCIdentity{
		name: "google",
		config: &oauth2.Config{
			ClientID:    "client-id",
			RedirectURL: "https://app.test/api/auth/callback",
			Endpoint:    oauth2.Endpoint{AuthURL: "https://auth.test/oauth"},
		},
	}

	authURL := identity.AuthURL("state-1", "https://app.test/api/auth/callback?next=%2Fdashboard")
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("AuthURL returned unparseable URL: %v", err)
	}

	if got := parsed.Query().Get("redirect_uri"); got != "https://app.test/api/auth/callback?next=%2Fdashboard" {
		t.Fatalf("unexpected overridden redirect_uri %q", got)
	}
}
