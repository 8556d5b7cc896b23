package connection

import "context"

// CloseCode is a WebSocket-style close status code.
type CloseCode int

const (
	// CloseNormal is the caller-initiated normal closure code.
	CloseNormal CloseCode = 1000

	// CloseGoingAway signals the peer is shutting down.
	CloseGoingAway CloseCode = 1001

	// CloseAbnormal is the synthetic code for a connection that died
	// without a close frame.
	CloseAbnormal CloseCode = 1006
)

// Normal reports whether the code represents a clean, caller-initiated
// closure. Any other code takes the abnormal-close reconnection path.
func (c CloseCode) Normal() bool {
	return c == CloseNormal
}

// Transport is a single-use socket connection. A Manager never reuses a
// transport: recovery discards the old instance and dials a new one.
type Transport interface {
	// Dial establishes the connection. Events start flowing to the
	// TransportHandler only after Dial returns nil.
	Dial(ctx context.Context) error

	// Send transmits one text frame.
	Send(ctx context.Context, data []byte) error

	// Close tears the connection down with the given close code. After
	// Close no further handler callbacks may be delivered.
	Close(code CloseCode, reason string) error
}

// TransportHandler receives transport callbacks. Implemented by the
// Manager; calls arrive on the transport's read goroutine.
type TransportHandler interface {
	// HandleMessage delivers one inbound text frame.
	HandleMessage(data []byte)

	// HandleClose reports that the connection is gone. Delivered at most
	// once per transport.
	HandleClose(code CloseCode, reason string)

	// HandleError reports a transport-level error that did not close the
	// connection.
	HandleError(err error)
}

// TransportFactory creates a fresh transport for one connection attempt.
type TransportFactory func(url string, subprotocols []string, h TransportHandler) Transport
