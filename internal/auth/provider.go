// Package auth drives the redirect-based OAuth handshake and translates
// its outcome into bus events. Failures reach the direct caller as a
// structured Result and every other observer as an error event; the bus is
// never silent about a failed flow.
package auth

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"authbus/internal/event"
)

// CallbackPath is the default same-origin path the provider sends the
// user back to after the external handshake.
const CallbackPath = "/api/auth/callback"

// Result is the structured outcome of a provider operation. Operations
// never return an error to the caller; Success and Error carry the outcome.
type Result struct {
	Success bool           `json:"success"`
	URL     string         `json:"url,omitempty"`
	State   string         `json:"-"`
	User    *event.User    `json:"user,omitempty"`
	Session *event.Session `json:"session,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// SignInOptions tune one sign-in initiation.
type SignInOptions struct {
	// RedirectURL overrides the callback URL sent to the identity
	// provider. When empty the configured same-origin callback is used.
	// The token exchange must present the identical redirect_uri, so the
	// callback URL carries no per-request state; return-path routing is
	// the transport layer's job.
	RedirectURL string
}

// Provider owns one sign-in flow at a time and a short-lived local session
// copy, reconciled with the session manager only through the event stream.
type Provider struct {
	bus      *event.Bus
	identity Identity
	name     string
	baseURL  string
	logger   *slog.Logger
	now      func() time.Time

	mu              sync.Mutex
	session         *event.Session
	pendingRedirect string
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithProviderClock overrides the time source used for validity checks.
func WithProviderClock(now func() time.Time) ProviderOption {
	return func(p *Provider) { p.now = now }
}

// NewProvider creates a Provider. name labels events (e.g. "google");
// baseURL is the public origin used to build default callback URLs.
// Construct one per process and share it so all call sites observe the
// same in-flight state.
func NewProvider(bus *event.Bus, identity Identity, name, baseURL string, logger *slog.Logger, opts ...ProviderOption) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		bus:      bus,
		identity: identity,
		name:     name,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignIn initiates the external redirect flow. A successful Result carries
// the consent URL and the CSRF state; it confirms initiation only, not
// completion. Initiation failures are emitted as auth:signin:error and
// returned, never thrown.
func (p *Provider) SignIn(ctx context.Context, opts SignInOptions) Result {
	state, err := GenerateState()
	if err != nil {
		return p.signInFailure(ctx, "initiate", "generate state: "+err.Error())
	}

	redirectURL := opts.RedirectURL
	if redirectURL == "" {
		redirectURL = p.callbackURL()
	}
	if _, err := url.Parse(redirectURL); err != nil {
		return p.signInFailure(ctx, "initiate", "invalid redirect url: "+err.Error())
	}

	authURL := p.identity.AuthURL(state, redirectURL)
	if authURL == "" {
		return p.signInFailure(ctx, "initiate", "identity provider returned no authorization url")
	}

	// The token exchange has to repeat this exact redirect_uri.
	p.mu.Lock()
	p.pendingRedirect = redirectURL
	p.mu.Unlock()

	p.logger.Info("signin initiated", "provider", p.name)
	return Result{Success: true, URL: authURL, State: state}
}

// HandleCallback completes the handshake by exchanging the authorization
// code for a session. On success the normalized session becomes the
// provider's local copy and auth:signin:success is emitted with both the
// user and the session.
func (p *Provider) HandleCallback(ctx context.Context, code string) Result {
	if code == "" {
		return p.signInFailure(ctx, "callback", "missing authorization code")
	}

	p.mu.Lock()
	redirectURL := p.pendingRedirect
	p.mu.Unlock()
	if redirectURL == "" {
		redirectURL = p.callbackURL()
	}

	user, sess, err := p.identity.Exchange(ctx, code, redirectURL)
	if err != nil {
		return p.signInFailure(ctx, "callback", err.Error())
	}
	if sess == nil {
		// Provider answered success but sent no session body.
		return p.signInFailure(ctx, "callback", "no session returned by identity provider")
	}
	if user == nil {
		user = sess.User
	}
	if user == nil {
		return p.signInFailure(ctx, "callback", "no user returned by identity provider")
	}

	p.mu.Lock()
	p.session = sess
	p.pendingRedirect = ""
	p.mu.Unlock()

	p.bus.Emit(ctx, event.Event{
		Type:     event.SignInSuccess,
		User:     user,
		Session:  sess,
		Metadata: map[string]any{"provider": p.name},
	})
	p.logger.Info("signin completed", "provider", p.name, "user_id", user.ID)

	return Result{Success: true, User: user, Session: sess}
}

// SignOut revokes the session with the identity provider and clears the
// local copy. Signing out while already signed out emits nothing and
// succeeds.
func (p *Provider) SignOut(ctx context.Context) Result {
	p.mu.Lock()
	current := p.session
	p.mu.Unlock()

	if current == nil {
		return Result{Success: true}
	}

	token := current.RefreshToken
	if token == "" {
		token = current.AccessToken
	}
	if err := p.identity.Revoke(ctx, token); err != nil {
		p.bus.Emit(ctx, event.Event{
			Type:     event.SignOutError,
			Err:      err.Error(),
			Metadata: map[string]any{"provider": p.name},
		})
		p.logger.Error("signout failed", "provider", p.name, "error", err)
		return Result{Success: false, Error: err.Error()}
	}

	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()

	p.bus.Emit(ctx, event.Event{
		Type:     event.SignOutSuccess,
		Metadata: map[string]any{"provider": p.name},
	})
	p.logger.Info("signout completed", "provider", p.name)
	return Result{Success: true}
}

// Session returns the provider's short-lived local session copy.
func (p *Provider) Session() *event.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// SessionValid reports whether the local copy exists and has not expired.
func (p *Provider) SessionValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session.Valid(p.now())
}

func (p *Provider) signInFailure(ctx context.Context, step, reason string) Result {
	p.bus.Emit(ctx, event.Event{
		Type: event.SignInError,
		Err:  reason,
		Metadata: map[string]any{
			"provider": p.name,
			"step":     step,
		},
	})
	p.logger.Error("signin failed", "provider", p.name, "step", step, "error", reason)
	return Result{Success: false, Error: reason}
}

func (p *Provider) callbackURL() string {
	return p.baseURL + CallbackPath
}
