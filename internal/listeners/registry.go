// Package listeners is the composition root for the stateful bus
// subscribers. It holds no business logic; it only guarantees that the
// session manager and profile syncer start and stop together, exactly once.
package listeners

import (
	"log/slog"
	"sync"

	"authbus/internal/profile"
	"authbus/internal/session"
)

// Registry starts and stops the authentication listeners as one unit.
type Registry struct {
	sessions *session.Manager
	profiles *profile.Syncer
	logger   *slog.Logger

	mu          sync.Mutex
	initialized bool
}

// NewRegistry creates a Registry over the two listeners.
func NewRegistry(sessions *session.Manager, profiles *profile.Syncer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: sessions,
		profiles: profiles,
		logger:   logger,
	}
}

// Init starts both listeners. A second Init logs a warning and does nothing.
func (r *Registry) Init() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		r.logger.Warn("auth listeners already initialized")
		return
	}

	r.sessions.Start()
	r.profiles.Start()
	r.initialized = true
	r.logger.Info("auth listeners initialized")
}

// Stop stops both listeners. Stopping an uninitialized registry logs a
// warning and does nothing.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		r.logger.Warn("auth listeners not initialized")
		return
	}

	r.sessions.Stop()
	r.profiles.Stop()
	r.initialized = false
	r.logger.Info("auth listeners stopped")
}
