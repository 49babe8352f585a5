package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"authbus/internal/event"
)

// Identity abstracts the external identity provider: building the consent
// URL, exchanging an authorization code for a session, and revoking tokens
// on sign-out.
// Exchange must be called with the redirectURL the authorization request
// used; the token endpoint rejects the exchange on any mismatch.
type Identity interface {
	AuthURL(state, redirectURL string) string
	Exchange(ctx context.Context, code, redirectURL string) (*event.User, *event.Session, error)
	Revoke(ctx context.Context, token string) error
}

// idTokenClaims are the claims read from the provider's ID token.
type idTokenClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// OIDCIdentity implements Identity against any OIDC-discoverable provider.
type OIDCIdentity struct {
	name      string
	config    *oauth2.Config
	verifier  *oidc.IDTokenVerifier
	revokeURL string
	client    *http.Client
}

// NewOIDCIdentity discovers the issuer and prepares the OAuth configuration.
// The consent URL always requests offline access and explicit consent so a
// refresh token is issued on every sign-in.
func NewOIDCIdentity(ctx context.Context, name, issuer, clientID, clientSecret, redirectURL string) (*OIDCIdentity, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	var discovery struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&discovery); err != nil {
		return nil, fmt.Errorf("oidc discovery claims: %w", err)
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}

	return &OIDCIdentity{
		name:      name,
		config:    config,
		verifier:  provider.Verifier(&oidc.Config{ClientID: clientID}),
		revokeURL: discovery.RevocationEndpoint,
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// AuthURL generates the consent URL with the given state. A non-empty
// redirectURL overrides the configured callback.
func (o *OIDCIdentity) AuthURL(state, redirectURL string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	}
	if redirectURL != "" && redirectURL != o.config.RedirectURL {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURL))
	}
	return o.config.AuthCodeURL(state, opts...)
}

// Exchange trades the authorization code for tokens, verifies the ID token
// and normalizes the result. redirectURL must repeat the redirect_uri of
// the authorization request. A (nil, nil, nil) return means the provider
// answered without a usable session body.
func (o *OIDCIdentity) Exchange(ctx context.Context, code, redirectURL string) (*event.User, *event.Session, error) {
	var opts []oauth2.AuthCodeOption
	if redirectURL != "" && redirectURL != o.config.RedirectURL {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURL))
	}
	token, err := o.config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("token exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, nil, fmt.Errorf("no id_token in response")
	}

	idToken, err := o.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, nil, fmt.Errorf("verify id_token: %w", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("parse claims: %w", err)
	}

	if token.AccessToken == "" {
		return nil, nil, nil
	}

	user := &event.User{
		ID:    claims.Sub,
		Email: claims.Email,
		UserMetadata: map[string]any{
			"full_name":  claims.Name,
			"avatar_url": claims.Picture,
		},
		AppMetadata: map[string]any{
			"provider":       o.name,
			"email_verified": claims.EmailVerified,
		},
	}

	sess := &event.Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		User:         user,
	}
	if !token.Expiry.IsZero() {
		sess.ExpiresAt = token.Expiry.Unix()
		if remaining := time.Until(token.Expiry); remaining > 0 {
			sess.ExpiresIn = int64(remaining.Seconds())
		}
	}

	return user, sess, nil
}

// Revoke invalidates the token at the provider's revocation endpoint.
// Providers without one accept the sign-out locally.
func (o *OIDCIdentity) Revoke(ctx context.Context, token string) error {
	if o.revokeURL == "" || token == "" {
		return nil
	}

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke token: provider returned %s", resp.Status)
	}
	return nil
}

// GenerateState generates a cryptographically secure random state string.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
