package contracts

import (
	"fmt"
	"time"
)

// ErrorCode identifies the failure class of a WireError.
type ErrorCode string

const (
	// ErrCodeConnectionFailed means the transport could not be opened, or
	// errored before reaching the open state.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"

	// ErrCodeMessageSendFailed means a frame could not be transmitted or a
	// received frame could not be decoded.
	ErrCodeMessageSendFailed ErrorCode = "MESSAGE_SEND_FAILED"

	// ErrCodeHeartbeatTimeout means no heartbeat reply arrived within the
	// configured window.
	ErrCodeHeartbeatTimeout ErrorCode = "HEARTBEAT_TIMEOUT"

	// ErrCodeReconnectFailed means the reconnection policy exhausted its
	// attempts. Terminal for the session.
	ErrCodeReconnectFailed ErrorCode = "RECONNECT_FAILED"
)

// WireError is the error type reported on the client error channel. It is
// also returned directly from the operation that caused it, so callers can
// observe failures through either path.
type WireError struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Timestamp time.Time
}

// NewWireError creates a WireError stamped with the current time.
func NewWireError(code ErrorCode, message string, cause error) *WireError {
	return &WireError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now().UTC(),
	}
}

func (e *WireError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("wirelink: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("wirelink: %s: %s", e.Code, e.Message)
}

func (e *WireError) Unwrap() error {
	return e.Cause
}

// Recoverable reports whether the reconnection path can recover from this
// error class. RECONNECT_FAILED is terminal for the session.
func (e *WireError) Recoverable() bool {
	switch e.Code {
	case ErrCodeConnectionFailed, ErrCodeHeartbeatTimeout:
		return true
	default:
		return false
	}
}
