package wstransport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/glimte/wirelink-go/connection"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// Conn is a single-use WebSocket transport.
type Conn struct {
	url          string
	subprotocols []string
	handler      connection.TransportHandler
	logger       *slog.Logger

	handshakeTimeout time.Duration
	writeTimeout     time.Duration

	writeMu sync.Mutex
	ws      *websocket.Conn

	done      chan struct{}
	closeOnce sync.Once
	// closeDelivered guarantees at most one HandleClose per transport.
	closeDelivered sync.Once
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		c.logger = logger
	}
}

// WithHandshakeTimeout bounds the WebSocket dial.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.handshakeTimeout = d
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.writeTimeout = d
	}
}

// New creates an undialed transport.
func New(url string, subprotocols []string, h connection.TransportHandler, options ...Option) *Conn {
	c := &Conn{
		url:              url,
		subprotocols:     subprotocols,
		handler:          h,
		logger:           slog.Default(),
		handshakeTimeout: defaultHandshakeTimeout,
		writeTimeout:     defaultWriteTimeout,
		done:             make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Factory adapts New to the connection.TransportFactory signature.
func Factory(options ...Option) connection.TransportFactory {
	return func(url string, subprotocols []string, h connection.TransportHandler) connection.Transport {
		return New(url, subprotocols, h, options...)
	}
}

// Dial establishes the WebSocket connection and starts the read loop.
func (c *Conn) Dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.handshakeTimeout,
		Subprotocols:     c.subprotocols,
	}

	ws, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.ws = ws

	go c.readLoop()
	c.logger.Debug("websocket connected", "url", c.url)
	return nil
}

// Send writes one text frame. Writes are serialized; gorilla permits only
// one concurrent writer.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.ws == nil {
		return errors.New("wstransport: not dialed")
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with the given code and tears the socket
// down. No handler callbacks are delivered after Close returns.
func (c *Conn) Close(code connection.CloseCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		// Callbacks are suppressed from here on; the local closer already
		// knows the connection is gone.
		c.closeDelivered.Do(func() {})

		if c.ws == nil {
			return
		}
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(int(code), reason),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// readLoop pumps inbound frames until the connection dies, then reports
// how it died.
func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Locally closed; stay silent.
			default:
				c.reportClose(err)
			}
			return
		}

		select {
		case <-c.done:
			return
		default:
		}
		c.handler.HandleMessage(data)
	}
}

// reportClose maps a read error to exactly one HandleClose callback. A
// peer close frame keeps its code; anything else is an abnormal closure.
func (c *Conn) reportClose(err error) {
	c.closeDelivered.Do(func() {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			c.handler.HandleClose(connection.CloseCode(closeErr.Code), closeErr.Text)
			return
		}
		c.handler.HandleError(err)
		c.handler.HandleClose(connection.CloseAbnormal, err.Error())
	})
}
