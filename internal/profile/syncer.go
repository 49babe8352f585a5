// Package profile reconciles an external profile record with the
// authenticated identity. Reconciliation is best-effort: it retries a few
// times and then goes quiet, never disturbing the sign-in flow it observes.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"authbus/internal/event"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = time.Second
)

// Syncer subscribes to sign-in successes and upserts the derived profile.
type Syncer struct {
	bus       *event.Bus
	repo      Repository
	logger    *slog.Logger
	provider  string
	attempts  uint64
	baseDelay time.Duration
	now       func() time.Time

	mu    sync.Mutex
	unsub func()
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithAttempts bounds the total upsert attempts per sign-in.
func WithAttempts(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.attempts = uint64(n)
		}
	}
}

// WithBaseDelay sets the backoff unit; the wait grows linearly with the
// attempt number (base, 2*base, ...).
func WithBaseDelay(d time.Duration) SyncerOption {
	return func(s *Syncer) {
		if d > 0 {
			s.baseDelay = d
		}
	}
}

// WithSyncClock overrides the time source used for the profile timestamp.
func WithSyncClock(now func() time.Time) SyncerOption {
	return func(s *Syncer) { s.now = now }
}

// NewSyncer creates a Syncer. provider names the identity provider recorded
// on profiles whose app metadata does not carry one. Construct one per
// process and share it.
func NewSyncer(bus *event.Bus, repo Repository, provider string, logger *slog.Logger, opts ...SyncerOption) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Syncer{
		bus:       bus,
		repo:      repo,
		logger:    logger,
		provider:  provider,
		attempts:  defaultAttempts,
		baseDelay: defaultBaseDelay,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to sign-in successes. A second Start logs a warning and
// does nothing.
func (s *Syncer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsub != nil {
		s.logger.Warn("profile syncer already started")
		return
	}
	s.unsub = s.bus.Subscribe(event.SignInSuccess, s.onSignIn)
	s.logger.Debug("profile syncer started")
}

// Stop removes the subscription. Safe to call on a syncer that was never
// started.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.logger.Debug("profile syncer stopped")
}

func (s *Syncer) onSignIn(ctx context.Context, evt event.Event) error {
	if evt.User == nil || evt.User.ID == "" {
		s.logger.Warn("signin success without usable identity, skipping profile sync")
		return nil
	}
	s.Sync(ctx, evt.User)
	return nil
}

// Sync derives a profile from the identity snapshot and upserts it with
// bounded retries. Failures are logged and swallowed; the sign-in flow
// never observes them. On success an auth:profile:sync event is emitted
// exactly once.
func (s *Syncer) Sync(ctx context.Context, user *event.User) {
	p := FromUser(user, s.provider, s.now())

	backoff := retry.WithMaxRetries(s.attempts-1, linearBackoff(s.baseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.repo.Upsert(ctx, p); err != nil {
			return retry.RetryableError(fmt.Errorf("upsert profile %s: %w", p.ID, err))
		}
		return nil
	})
	if err != nil {
		s.logger.Error("profile sync exhausted retries", "user_id", p.ID, "attempts", s.attempts, "error", err)
		return
	}

	s.bus.Emit(ctx, event.Event{
		Type: event.ProfileSync,
		User: user,
		Metadata: map[string]any{
			"profile":  p,
			"provider": p.Provider,
		},
	})
	s.logger.Info("profile synced", "user_id", p.ID, "provider", p.Provider)
}

// linearBackoff waits base*1 after the first failure, base*2 after the
// second, and so on. go-retry ships constant, exponential and fibonacci
// shapes but not this one.
func linearBackoff(base time.Duration) retry.Backoff {
	var attempt int64
	var mu sync.Mutex
	return retry.BackoffFunc(func() (time.Duration, bool) {
		mu.Lock()
		attempt++
		n := attempt
		mu.Unlock()
		return base * time.Duration(n), false
	})
}
