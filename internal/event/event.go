package event

import "time"

// Type identifies the kind of authentication lifecycle occurrence.
type Type string

const (
	SignInSuccess    Type = "auth:signin:success"
	SignInError      Type = "auth:signin:error"
	SignOutSuccess   Type = "auth:signout:success"
	SignOutError     Type = "auth:signout:error"
	SessionExpired   Type = "auth:session:expired"
	SessionRefreshed Type = "auth:session:refreshed"
	UserUpdated      Type = "auth:user:updated"
	ProfileSync      Type = "auth:profile:sync"
)

// User is an identity snapshot attached to lifecycle events. It is treated
// as an immutable value once published.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// Session represents one authenticated session. ExpiresAt is epoch seconds;
// zero means the expiry is unknown and the session cannot be considered valid.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// Valid reports whether the session expiry is known and strictly in the future.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.ExpiresAt == 0 {
		return false
	}
	return now.Unix() < s.ExpiresAt
}

// ExpiringWithin reports whether the session is invalid or expires at or
// before now+buffer. An unknown expiry counts as expiring.
func (s *Session) ExpiringWithin(now time.Time, buffer time.Duration) bool {
	if !s.Valid(now) {
		return true
	}
	return s.ExpiresAt-now.Unix() <= int64(buffer.Seconds())
}

// Event describes one authentication lifecycle occurrence. User and Session
// are present on success events, Err on error events. Metadata is an open
// bag for contextual data; the bus records a shallow copy with a timestamp
// added, so the caller's map is never mutated. ID is assigned by the bus at
// emission when the publisher leaves it empty.
type Event struct {
	ID       string         `json:"id"`
	Type     Type           `json:"type"`
	User     *User          `json:"user,omitempty"`
	Session  *Session       `json:"session,omitempty"`
	Err      string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
