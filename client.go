// Copyright 2026 Wirelink Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wirelink

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/wirelink-go/connection"
	"github.com/glimte/wirelink-go/contracts"
	"github.com/glimte/wirelink-go/events"
	"github.com/glimte/wirelink-go/internal/wstransport"
	"github.com/glimte/wirelink-go/reconnect"
)

// Client is the main entry point for wirelink-go. It wraps a
// connection.Manager wired to the WebSocket transport.
type Client struct {
	manager *connection.Manager
}

// NewClient creates a client for the given WebSocket URL. Nothing is
// dialed until Connect.
func NewClient(url string, options ...ClientOption) *Client {
	cfg := &clientConfig{
		conn:   connection.DefaultConfig(url),
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}

	factory := wstransport.Factory(wstransport.WithLogger(cfg.logger))
	managerOpts := []connection.ManagerOption{connection.WithLogger(cfg.logger)}
	if cfg.bus != nil {
		managerOpts = append(managerOpts, connection.WithBus(cfg.bus))
	}

	return &Client{
		manager: connection.NewManager(cfg.conn, factory, managerOpts...),
	}
}

// Connect opens the connection, blocking until it is open or failed.
func (c *Client) Connect(ctx context.Context) error {
	return c.manager.Connect(ctx)
}

// Disconnect closes the connection cleanly and disables automatic
// reconnection.
func (c *Client) Disconnect() error {
	return c.manager.Disconnect()
}

// Close tears the client down permanently.
func (c *Client) Close() error {
	return c.manager.Close()
}

// Send transmits a fire-and-forget message of the given type.
func (c *Client) Send(ctx context.Context, messageType string, payload any) error {
	env, err := contracts.NewEnvelope(messageType, payload)
	if err != nil {
		return err
	}
	return c.manager.Send(ctx, env)
}

// SendEnvelope transmits a prebuilt envelope.
func (c *Client) SendEnvelope(ctx context.Context, env *contracts.Envelope) error {
	return c.manager.Send(ctx, env)
}

// Request transmits a message and waits for its correlated reply. A zero
// timeout uses the configured default.
func (c *Client) Request(ctx context.Context, messageType string, payload any, timeout time.Duration) (*contracts.Envelope, error) {
	env, err := contracts.NewEnvelope(messageType, payload)
	if err != nil {
		return nil, err
	}
	return c.manager.Request(ctx, env, timeout)
}

// OnMessage subscribes to every ordinary inbound message. The returned
// function unsubscribes.
func (c *Client) OnMessage(h func(*contracts.Envelope)) func() {
	return c.manager.OnMessage(h)
}

// On subscribes to inbound messages of one type.
func (c *Client) On(messageType string, h func(*contracts.Envelope)) func() {
	return c.manager.On(messageType, h)
}

// OnError subscribes to connection errors.
func (c *Client) OnError(h func(*contracts.WireError)) func() {
	return c.manager.OnError(h)
}

// OnStateChange subscribes to connection state transitions.
func (c *Client) OnStateChange(h func(connection.StateEvent)) func() {
	return c.manager.OnStateChange(h)
}

// State returns the current connection state.
func (c *Client) State() connection.State {
	return c.manager.State()
}

// Connected reports whether the connection is open.
func (c *Client) Connected() bool {
	return c.manager.State() == connection.StateOpen
}

// Stats returns a copy of the connection counters.
func (c *Client) Stats() connection.Stats {
	return c.manager.Stats()
}

// ReconnectionState returns a snapshot of the reconnection policy.
func (c *Client) ReconnectionState() reconnect.State {
	return c.manager.ReconnectionState()
}

// SetReconnectEnabled toggles automatic reconnection.
func (c *Client) SetReconnectEnabled(enabled bool) {
	c.manager.SetReconnectEnabled(enabled)
}

// Manager exposes the underlying connection manager.
func (c *Client) Manager() *connection.Manager {
	return c.manager
}

// clientConfig holds client configuration.
type clientConfig struct {
	conn   connection.Config
	logger *slog.Logger
	bus    *events.Bus
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithDefaultLogger uses the process-wide default slog logger.
func WithDefaultLogger() ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = slog.Default()
	}
}

// WithSubprotocols sets the WebSocket subprotocols offered on dial.
func WithSubprotocols(subprotocols ...string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.conn.Subprotocols = subprotocols
	}
}

// WithHeartbeat sets the heartbeat probe interval and reply window. A
// negative interval disables the heartbeat.
func WithHeartbeat(interval, timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.conn.HeartbeatInterval = interval
		cfg.conn.HeartbeatTimeout = timeout
	}
}

// WithRequestTimeout sets the default Request timeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.conn.RequestTimeout = d
	}
}

// WithReconnect replaces the reconnection policy configuration.
func WithReconnect(rc reconnect.Config) ClientOption {
	return func(cfg *clientConfig) {
		cfg.conn.Reconnect = rc
	}
}

// WithoutReconnect disables automatic reconnection.
func WithoutReconnect() ClientOption {
	return func(cfg *clientConfig) {
		cfg.conn.Reconnect.Enabled = false
	}
}

// WithBus supplies an externally created event bus.
func WithBus(bus *events.Bus) ClientOption {
	return func(cfg *clientConfig) {
		cfg.bus = bus
	}
}
