// Package events provides a minimal named-event publish/subscribe bus.
//
// The bus is used internally by the connection manager to fan out state
// changes, errors, and inbound messages, and is exposed to callers for
// message-type subscriptions. Handlers are invoked synchronously on the
// publishing goroutine; a handler that panics is isolated and reported to
// the logger without aborting delivery to the remaining handlers.
package events
