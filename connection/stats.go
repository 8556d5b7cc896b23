package connection

import "time"

// Stats holds the monotonically increasing connection counters. Counters
// never reset for the lifetime of a Manager.
type Stats struct {
	ConnectionAttempts    uint64
	SuccessfulConnections uint64
	ReconnectAttempts     uint64
	MessagesSent          uint64
	MessagesReceived      uint64
	LastConnectedAt       time.Time
	LastDisconnectedAt    time.Time
}
