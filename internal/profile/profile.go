package profile

import (
	"context"
	"time"

	"authbus/internal/event"
)

// Profile is the external profile record reconciled with the authenticated
// identity on every successful sign-in.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url"`
	Provider  string    `json:"provider"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository persists profiles. Upsert is keyed by Profile.ID and must
// never create duplicates on repeated calls.
type Repository interface {
	Upsert(ctx context.Context, p Profile) error
}

// FromUser derives a profile from an identity snapshot, falling back
// gracefully when optional metadata is absent. defaultProvider is used when
// the app metadata does not name one.
func FromUser(user *event.User, defaultProvider string, now time.Time) Profile {
	p := Profile{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  stringField(user.UserMetadata, "full_name", "name"),
		AvatarURL: stringField(user.UserMetadata, "avatar_url", "picture"),
		Provider:  stringField(user.AppMetadata, "provider"),
		UpdatedAt: now,
	}
	if p.Provider == "" {
		p.Provider = defaultProvider
	}
	return p
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
