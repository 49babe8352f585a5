package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Listener receives one event. Returning an error (or panicking) is logged
// by the bus and never affects delivery to other listeners.
type Listener func(ctx context.Context, evt Event) error

const defaultHistoryCap = 50

type registration struct {
	id int64
	fn Listener
}

// Bus delivers authentication lifecycle events to subscribers. Delivery
// within one Emit call is deterministic: every global listener runs before
// any type-specific listener, each in registration order. A bounded FIFO
// history of emitted events is retained for diagnostics.
type Bus struct {
	logger *slog.Logger

	mu         sync.Mutex
	nextID     int64
	global     []registration
	byType     map[Type][]registration
	history    []Event
	historyCap int
}

// New creates a Bus. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:     logger,
		byType:     make(map[Type][]registration),
		historyCap: defaultHistoryCap,
	}
}

var defaultBus = sync.OnceValue(func() *Bus {
	return New(slog.Default())
})

// Default returns the process-wide bus shared by all call sites that do not
// receive an injected instance.
func Default() *Bus {
	return defaultBus()
}

// Subscribe registers a listener for one event type and returns an
// unsubscribe capability. Calling the capability more than once is a no-op
// after the first call.
func (b *Bus) Subscribe(t Type, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.byType[t] = append(b.byType[t], registration{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		remaining := removeRegistration(b.byType[t], id)
		if len(remaining) == 0 {
			delete(b.byType, t)
			return
		}
		b.byType[t] = remaining
	}
}

// SubscribeAll registers a listener invoked for every event regardless of
// type. Global listeners are delivered before type-specific ones.
func (b *Bus) SubscribeAll(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	b.global = append(b.global, registration{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.global = removeRegistration(b.global, id)
	}
}

// Emit records the event into history and invokes every global listener,
// then every listener registered for evt.Type, sequentially. Listener
// errors and panics are logged and swallowed; Emit never fails. Listeners
// may call back into the bus (including Emit) without deadlocking.
func (b *Bus) Emit(ctx context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}

	metadata := make(map[string]any, len(evt.Metadata)+1)
	for k, v := range evt.Metadata {
		metadata[k] = v
	}
	metadata["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	evt.Metadata = metadata

	b.mu.Lock()
	b.history = append(b.history, evt)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}
	// Snapshot under the lock, dispatch outside it: a listener may
	// subscribe, unsubscribe, or emit re-entrantly.
	targets := make([]registration, 0, len(b.global)+len(b.byType[evt.Type]))
	targets = append(targets, b.global...)
	targets = append(targets, b.byType[evt.Type]...)
	b.mu.Unlock()

	for _, reg := range targets {
		b.invoke(ctx, reg, evt)
	}
}

func (b *Bus) invoke(ctx context.Context, reg registration, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panic", "type", string(evt.Type), "panic", fmt.Sprint(r))
		}
	}()

	if err := reg.fn(ctx, evt); err != nil {
		b.logger.Error("event listener failed", "type", string(evt.Type), "error", err)
	}
}

// History returns a copy of the rolling history in emission order,
// optionally filtered to the given types.
func (b *Bus) History(types ...Type) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(types) == 0 {
		out := make([]Event, len(b.history))
		copy(out, b.history)
		return out
	}

	wanted := make(map[Type]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	out := make([]Event, 0, len(b.history))
	for _, evt := range b.history {
		if _, ok := wanted[evt.Type]; ok {
			out = append(out, evt)
		}
	}
	return out
}

// ClearHistory empties the rolling history without touching subscriptions.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}

// Reset removes all subscriptions, global and type-specific, without
// touching history. Intended for test teardown.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = nil
	b.byType = make(map[Type][]registration)
}

// ListenerCount reports active subscriptions: global listeners plus either
// all type-specific listeners or only those for the given types.
func (b *Bus) ListenerCount(types ...Type) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := len(b.global)
	if len(types) == 0 {
		for _, regs := range b.byType {
			count += len(regs)
		}
		return count
	}
	for _, t := range types {
		count += len(b.byType[t])
	}
	return count
}

func removeRegistration(regs []registration, id int64) []registration {
	for i, reg := range regs {
		if reg.id == id {
			return append(regs[:i:i], regs[i+1:]...)
		}
	}
	return regs
}
