// Package wstransport implements connection.Transport over a WebSocket
// using github.com/gorilla/websocket.
//
// Each Conn is single-use: Dial once, then discard after close. The read
// loop translates peer close frames and network errors into the
// TransportHandler callbacks the connection manager expects.
package wstransport
