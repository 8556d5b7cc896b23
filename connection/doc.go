// Package connection implements the resilient client connection manager.
//
// The Manager owns the transport lifecycle and composes the events.Bus
// (for fan-out of state changes, errors, and inbound messages) with the
// reconnect.Policy (for recovery from abnormal closure). While the
// connection is open it runs a heartbeat ping/pong exchange with a
// watchdog timer to detect silently dead connections, and keeps a
// correlation table so callers can issue request/response exchanges over
// the otherwise asynchronous channel.
//
// The transport is treated as a black box behind the Transport interface;
// reconnection discards the old instance and dials a fresh one from the
// TransportFactory.
package connection
