// Package reconnect implements the reconnection policy for the wirelink
// client: exponential backoff with a wall-clock ceiling, attempt
// bookkeeping, and cancellable scheduling of a single outstanding retry.
//
// The policy does not dial anything itself. The connection manager asks
// ShouldRetry and hands Attempt a retry function; the policy decides when
// the function runs and tracks whether it succeeded.
package reconnect
