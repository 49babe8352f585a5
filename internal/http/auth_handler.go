package http

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"authbus/internal/auth"
	"authbus/internal/event"
	"authbus/internal/session"
)

const (
	oauthStateCookieName = "authbus_oauth_state"
	oauthNextCookieName  = "authbus_oauth_next"
	oauthStateCookieTTL  = 10 * time.Minute
)

// isValidRedirectPath validates that a path is a safe relative redirect.
// It prevents open redirect attacks by ensuring the path:
// - Starts with a single "/" (not "//")
// - Has no scheme or host component
// - Cannot be bypassed via URL encoding
func isValidRedirectPath(path string) bool {
	if path == "" {
		return false
	}

	decoded, err := url.QueryUnescape(path)
	if err != nil {
		return false
	}

	if !strings.HasPrefix(decoded, "/") || strings.HasPrefix(decoded, "//") {
		return false
	}

	parsed, err := url.Parse(decoded)
	if err != nil {
		return false
	}

	if parsed.Scheme != "" || parsed.Host != "" {
		return false
	}

	return true
}

// AuthHandler exposes the OAuth sign-in flow and session introspection.
type AuthHandler struct {
	provider     *auth.Provider
	sessions     *session.Manager
	bus          *event.Bus
	logger       *slog.Logger
	frontendURL  string
	secureCookie bool
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(provider *auth.Provider, sessions *session.Manager, bus *event.Bus, frontendURL, env string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		provider:     provider,
		sessions:     sessions,
		bus:          bus,
		logger:       logger,
		frontendURL:  strings.TrimSuffix(frontendURL, "/"),
		secureCookie: !strings.EqualFold(env, "development"),
	}
}

// SignIn handles GET /api/auth/signin.
// Initiates the OAuth flow and redirects the user to the consent screen.
// The post-login path travels in its own cookie; the callback URL sent to
// the identity provider must be byte-identical on the token exchange, so
// it carries no per-request state.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	returnTo := r.URL.Query().Get("redirectTo")
	if returnTo != "" && !isValidRedirectPath(returnTo) {
		returnTo = ""
	}

	result := h.provider.SignIn(r.Context(), auth.SignInOptions{})
	if !result.Success {
		writeError(w, http.StatusBadGateway, result.Error)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    result.State,
		Path:     "/api/auth",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(oauthStateCookieTTL.Seconds()),
	})

	if returnTo != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     oauthNextCookieName,
			Value:    url.QueryEscape(returnTo),
			Path:     "/api/auth",
			HttpOnly: true,
			Secure:   h.secureCookie,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(oauthStateCookieTTL.Seconds()),
		})
	}

	http.Redirect(w, r, result.URL, http.StatusTemporaryRedirect)
}

// Callback handles GET /api/auth/callback.
// Verifies the CSRF state, completes the code exchange and sends the user
// back to the frontend.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil {
		h.logger.Warn("oauth callback: missing state cookie")
		h.redirectWithError(w, r, "invalid_request", "Session expired. Please try again.")
		return
	}

	stateParam := r.URL.Query().Get("state")
	if subtle.ConstantTimeCompare([]byte(stateParam), []byte(stateCookie.Value)) != 1 {
		h.logger.Warn("oauth callback: state mismatch")
		h.redirectWithError(w, r, "invalid_request", "Invalid state. Please try again.")
		return
	}

	// Clear the flow cookies
	for _, name := range []string{oauthStateCookieName, oauthNextCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/api/auth",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.secureCookie,
		})
	}

	redirectTo := "/"
	if nextCookie, err := r.Cookie(oauthNextCookieName); err == nil {
		if next, err := url.QueryUnescape(nextCookie.Value); err == nil && isValidRedirectPath(next) {
			redirectTo = next
		}
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("oauth callback: provider error", "error", errParam)
		h.redirectWithError(w, r, errParam, r.URL.Query().Get("error_description"))
		return
	}

	result := h.provider.HandleCallback(r.Context(), r.URL.Query().Get("code"))
	if !result.Success {
		h.redirectWithError(w, r, "exchange_error", result.Error)
		return
	}

	h.logger.Info("oauth login successful", "user_id", result.User.ID, "email", result.User.Email)
	http.Redirect(w, r, h.frontendURL+redirectTo, http.StatusTemporaryRedirect)
}

// SignOut handles POST /api/auth/signout.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	result := h.provider.SignOut(r.Context())
	if !result.Success {
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Session handles GET /api/auth/session.
// Reports the current session without exposing credential material.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Session(r.Context())
	if sess == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          sess.User,
		"expires_at":    sess.ExpiresAt,
		"expiring_soon": h.sessions.ExpiringSoon(r.Context(), 0),
	})
}

// Events handles GET /api/auth/events.
// Returns the bus's rolling event history, optionally filtered by type.
// Token material carried by session payloads is stripped before writing.
func (h *AuthHandler) Events(w http.ResponseWriter, r *http.Request) {
	var history []event.Event
	if raw := r.URL.Query().Get("type"); raw != "" {
		history = h.bus.History(event.Type(raw))
	} else {
		history = h.bus.History()
	}

	for i, evt := range history {
		if evt.Session == nil {
			continue
		}
		redacted := *evt.Session
		redacted.AccessToken = ""
		redacted.RefreshToken = ""
		history[i].Session = &redacted
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": history})
}

// redirectWithError redirects to the frontend login page with error details.
func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, code, message string) {
	target := h.frontendURL + "/login?error=" + url.QueryEscape(code)
	if message != "" {
		target += "&message=" + url.QueryEscape(message)
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}
