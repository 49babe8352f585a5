// Package session owns the canonical answer to "is there currently a valid
// authenticated session". The Manager reacts to bus events and exposes
// synchronous reads; it is the only writer of the durable session record.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"authbus/internal/event"
)

// DefaultExpiryBuffer is the lead time ExpiringSoon uses when the caller
// does not supply one.
const DefaultExpiryBuffer = 5 * time.Minute

// Manager tracks the current session across sign-in, refresh, sign-out and
// expiry events. Reads that find a stale session lazily evict it.
type Manager struct {
	bus    *event.Bus
	store  Store
	logger *slog.Logger
	skew   time.Duration
	now    func() time.Time

	mu      sync.Mutex
	current *event.Session
	unsubs  []func()
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source. Tests use this to cross expiry
// boundaries deterministically.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithSkewTolerance keeps a session valid for the given duration past its
// recorded expiry, absorbing clock drift between this process and the
// identity provider. Zero (the default) keeps the strict comparison.
func WithSkewTolerance(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.skew = d
		}
	}
}

// NewManager creates a Manager. Construct exactly one per process and share
// it; session state must be globally consistent within a running instance.
func NewManager(bus *event.Bus, store Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = NoopStore{}
	}
	m := &Manager{
		bus:    bus,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start registers the manager's event subscriptions. Calling Start on an
// already started manager logs a warning and does nothing.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.unsubs) > 0 {
		m.logger.Warn("session manager already started")
		return
	}

	m.unsubs = []func(){
		m.bus.Subscribe(event.SignInSuccess, m.onSessionEstablished),
		m.bus.Subscribe(event.SessionRefreshed, m.onSessionEstablished),
		m.bus.Subscribe(event.SignOutSuccess, m.onSessionEnded),
		m.bus.Subscribe(event.SessionExpired, m.onSessionEnded),
	}
	m.logger.Debug("session manager started")
}

// Stop removes all subscriptions. Safe to call on a manager that was never
// started.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	m.logger.Debug("session manager stopped")
}

func (m *Manager) onSessionEstablished(ctx context.Context, evt event.Event) error {
	if evt.Session == nil {
		m.logger.Warn("session event without session payload", "type", string(evt.Type))
		return nil
	}

	m.mu.Lock()
	m.current = evt.Session
	m.mu.Unlock()

	if err := m.store.Save(ctx, evt.Session); err != nil {
		// Degrade to memory-only rather than failing the sign-in flow.
		m.logger.Error("persist session failed", "error", err)
	}
	return nil
}

func (m *Manager) onSessionEnded(ctx context.Context, evt event.Event) error {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("clear stored session failed", "error", err)
	}
	return nil
}

// Session returns the current valid session, consulting memory first and
// the durable store second. A valid stored session is promoted to memory; a
// stale one is cleared. Nil is the normal empty case, never an error.
func (m *Manager) Session(ctx context.Context) *event.Session {
	m.mu.Lock()
	if m.valid(m.current) {
		sess := m.current
		m.mu.Unlock()
		return sess
	}
	m.current = nil
	m.mu.Unlock()

	stored, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Error("load stored session failed", "error", err)
		return nil
	}
	if stored == nil {
		return nil
	}

	if m.valid(stored) {
		m.mu.Lock()
		m.current = stored
		m.mu.Unlock()
		return stored
	}

	// Lazy eviction of the stale durable copy.
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("evict stale session failed", "error", err)
	}
	return nil
}

// ExpiringSoon reports whether there is no valid session or the valid
// session's remaining lifetime is at or below the buffer. A non-positive
// buffer falls back to DefaultExpiryBuffer.
func (m *Manager) ExpiringSoon(ctx context.Context, buffer time.Duration) bool {
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	sess := m.Session(ctx)
	if sess == nil {
		return true
	}
	return sess.ExpiringWithin(m.now(), buffer)
}

func (m *Manager) valid(sess *event.Session) bool {
	return sess.Valid(m.now().Add(-m.skew))
}
