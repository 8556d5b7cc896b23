package connection

import "errors"

var (
	// ErrNotOpen is returned when an operation requires an open
	// connection. Operations are rejected, never queued.
	ErrNotOpen = errors.New("connection: not open")

	// ErrConnectionClosed settles pending requests when the connection is
	// torn down before their reply arrives.
	ErrConnectionClosed = errors.New("connection: connection closed")

	// ErrRequestTimeout settles a pending request whose reply did not
	// arrive within its window.
	ErrRequestTimeout = errors.New("connection: request timed out")

	// ErrManagerClosed is returned for any use after Close.
	ErrManagerClosed = errors.New("connection: manager closed")

	// ErrCloseInProgress is returned when a connect races a still-running
	// disconnect.
	ErrCloseInProgress = errors.New("connection: close in progress")
)
