package events

import (
	"log/slog"
	"sync"
)

// DefaultMaxListeners is the per-event listener ceiling before the bus
// starts warning about a possible subscription leak.
const DefaultMaxListeners = 10

// Handler receives the payload of a published event.
type Handler func(payload any)

// subscription is one registered handler. active is guarded by the bus
// mutex; a subscription removed mid-publish is skipped by the snapshot
// loop.
type subscription struct {
	event   string
	handler Handler
	once    bool
	active  bool
}

// Bus is a typed named-event publish/subscribe registry.
type Bus struct {
	mu           sync.Mutex
	handlers     map[string][]*subscription
	maxListeners int
	logger       *slog.Logger
}

// BusOption configures the Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used for handler panics and listener-ceiling
// warnings.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithMaxListeners sets the per-event listener ceiling. Exceeding it is a
// warning, not an error.
func WithMaxListeners(n int) BusOption {
	return func(b *Bus) {
		b.maxListeners = n
	}
}

// NewBus creates an empty bus.
func NewBus(options ...BusOption) *Bus {
	b := &Bus{
		handlers:     make(map[string][]*subscription),
		maxListeners: DefaultMaxListeners,
		logger:       slog.Default(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for an event and returns a function that
// removes it. Calling the returned function more than once is a no-op.
func (b *Bus) Subscribe(event string, handler Handler) func() {
	return b.add(event, handler, false)
}

// SubscribeOnce registers a handler that is removed from the registry
// before its first invocation, so a once-handler that re-subscribes itself
// observes a clean state.
func (b *Bus) SubscribeOnce(event string, handler Handler) func() {
	return b.add(event, handler, true)
}

func (b *Bus) add(event string, handler Handler, once bool) func() {
	if handler == nil {
		return func() {}
	}

	sub := &subscription{event: event, handler: handler, once: once, active: true}

	b.mu.Lock()
	b.handlers[event] = append(b.handlers[event], sub)
	count := len(b.handlers[event])
	b.mu.Unlock()

	if b.maxListeners > 0 && count > b.maxListeners {
		b.logger.Warn("possible event listener leak",
			"event", event,
			"listeners", count,
			"max", b.maxListeners)
	}

	return func() { b.remove(sub) }
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// An explicit unsubscribe always suppresses delivery, including for a
	// once-handler already pulled from the registry by an in-flight publish.
	sub.once = false

	if !sub.active {
		return
	}
	sub.active = false

	subs := b.handlers[sub.event]
	for i, s := range subs {
		if s == sub {
			b.handlers[sub.event] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[sub.event]) == 0 {
		delete(b.handlers, sub.event)
	}
}

// Publish delivers the payload to every handler registered for the event.
// It returns true iff at least one handler (regular or once) existed at
// publish time.
//
// Delivery iterates a snapshot of the handler set, so handlers may
// subscribe or unsubscribe during dispatch without corrupting iteration. A
// handler unsubscribed mid-publish is not invoked on the same pass.
func (b *Bus) Publish(event string, payload any) bool {
	b.mu.Lock()
	subs := b.handlers[event]
	if len(subs) == 0 {
		b.mu.Unlock()
		return false
	}
	snapshot := make([]*subscription, len(subs))
	copy(snapshot, subs)

	// Once-handlers leave the registry before they run.
	for _, sub := range snapshot {
		if sub.once {
			b.removeLocked(sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.mu.Lock()
		live := sub.active || sub.once
		if sub.once {
			// A once subscription fires at most once even if the same
			// publish pass races with another.
			sub.once = false
		}
		b.mu.Unlock()
		if !live {
			continue
		}
		b.invoke(event, sub.handler, payload)
	}
	return true
}

func (b *Bus) removeLocked(sub *subscription) {
	if !sub.active {
		return
	}
	sub.active = false
	subs := b.handlers[sub.event]
	for i, s := range subs {
		if s == sub {
			b.handlers[sub.event] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[sub.event]) == 0 {
		delete(b.handlers, sub.event)
	}
}

func (b *Bus) invoke(event string, handler Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", event,
				"panic", r)
		}
	}()
	handler(payload)
}

// ListenerCount returns the number of handlers registered for an event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}

// EventNames returns the events that currently have at least one handler.
func (b *Bus) EventNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	return names
}

// Clear removes every handler for one event.
func (b *Bus) Clear(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.handlers[event] {
		sub.active = false
		sub.once = false
	}
	delete(b.handlers, event)
}

// RemoveAll removes every handler for the named events, or for all events
// when called with no arguments.
func (b *Bus) RemoveAll(eventNames ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(eventNames) == 0 {
		for name := range b.handlers {
			for _, sub := range b.handlers[name] {
				sub.active = false
				sub.once = false
			}
			delete(b.handlers, name)
		}
		return
	}
	for _, name := range eventNames {
		for _, sub := range b.handlers[name] {
			sub.active = false
			sub.once = false
		}
		delete(b.handlers, name)
	}
}
