package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/wirelink-go/contracts"
	"github.com/glimte/wirelink-go/events"
	"github.com/glimte/wirelink-go/reconnect"
)

// Bus channels used by the Manager. An ordinary inbound frame is
// additionally published on the channel named after its type.
const (
	EventMessage = "message"
	EventError   = "error"
	EventState   = "state"
)

// Defaults applied by NewManager when the config leaves a field zero.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultRequestTimeout    = 30 * time.Second
)

// Config controls a Manager. A negative HeartbeatInterval disables the
// heartbeat entirely.
type Config struct {
	URL               string
	Subprotocols      []string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	RequestTimeout    time.Duration
	Reconnect         reconnect.Config
}

// DefaultConfig returns the stock configuration for the given URL.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		RequestTimeout:    DefaultRequestTimeout,
		Reconnect:         reconnect.DefaultConfig(),
	}
}

type requestResult struct {
	reply *contracts.Envelope
	err   error
}

// pendingRequest is one entry in the correlation table. Settling removes
// the entry under the manager mutex, so a timeout and a late reply cannot
// both deliver a result.
type pendingRequest struct {
	id     string
	result chan requestResult
	timer  *time.Timer
}

// Manager owns the transport lifecycle, the heartbeat cadence, and the
// request correlation table. All its exported methods are safe for
// concurrent use.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	factory TransportFactory
	bus     *events.Bus
	policy  *reconnect.Policy

	mu        sync.Mutex
	state     State
	transport Transport
	// session invalidates callbacks from discarded transports: every dial
	// and every teardown bumps it, and stale callbacks are dropped.
	session  uint64
	pending  map[string]*pendingRequest
	stats    Stats
	hbStop   chan struct{}
	watchdog *time.Timer
	closed   bool
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithBus supplies an externally created event bus.
func WithBus(bus *events.Bus) ManagerOption {
	return func(m *Manager) {
		m.bus = bus
	}
}

// NewManager creates a manager in the closed state. Nothing is dialed
// until Connect.
func NewManager(cfg Config, factory TransportFactory, options ...ManagerOption) *Manager {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	m := &Manager{
		cfg:     cfg,
		factory: factory,
		logger:  slog.Default(),
		state:   StateClosed,
		pending: make(map[string]*pendingRequest),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.bus == nil {
		m.bus = events.NewBus(events.WithLogger(m.logger))
	}
	m.policy = reconnect.NewPolicy(cfg.Reconnect, reconnect.WithLogger(m.logger))
	return m
}

// transportEvents routes transport callbacks to the manager, tagged with
// the session that created the transport.
type transportEvents struct {
	m       *Manager
	session uint64
}

func (h *transportEvents) HandleMessage(data []byte) {
	h.m.handleMessage(h.session, data)
}

func (h *transportEvents) HandleClose(code CloseCode, reason string) {
	h.m.handleClose(h.session, code, reason)
}

func (h *transportEvents) HandleError(err error) {
	h.m.handleError(h.session, err)
}

// Connect opens the transport and blocks until it is open or failed.
// Calling Connect while already connecting or open is a no-op returning
// nil; it never opens a second transport.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	// A caller-initiated connect supersedes any pending automatic retry.
	m.policy.Cancel()
	return m.dial(ctx)
}

// dial performs one connection attempt. Shared by Connect and the
// reconnection path.
func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return nil
	}
	prev := m.state
	next, ok := transition(m.state, evDial)
	if !ok {
		m.mu.Unlock()
		return ErrCloseInProgress
	}
	m.state = next
	m.stats.ConnectionAttempts++
	m.session++
	session := m.session
	t := m.factory(m.cfg.URL, m.cfg.Subprotocols, &transportEvents{m: m, session: session})
	m.transport = t
	m.mu.Unlock()

	m.publishState(prev, next, nil)
	m.logger.Debug("connecting", "url", m.cfg.URL)

	if err := t.Dial(ctx); err != nil {
		werr := contracts.NewWireError(contracts.ErrCodeConnectionFailed, "failed to open transport", err)
		m.mu.Lock()
		if m.session == session {
			m.transport = nil
			if closedState, ok := transition(m.state, evClosed); ok {
				from := m.state
				m.state = closedState
				m.mu.Unlock()
				m.publishState(from, closedState, werr)
			} else {
				m.mu.Unlock()
			}
		} else {
			m.mu.Unlock()
		}
		m.logger.Warn("connect failed", "url", m.cfg.URL, "error", err)
		m.bus.Publish(EventError, werr)
		return werr
	}

	m.mu.Lock()
	if m.session != session || m.closed {
		// A disconnect raced the dial; the fresh transport is unwanted.
		m.mu.Unlock()
		_ = t.Close(CloseNormal, "superseded")
		return ErrConnectionClosed
	}
	from := m.state
	open, ok := transition(m.state, evOpened)
	if !ok {
		m.mu.Unlock()
		_ = t.Close(CloseNormal, "client disconnect")
		return ErrConnectionClosed
	}
	m.state = open
	m.stats.SuccessfulConnections++
	m.stats.LastConnectedAt = time.Now().UTC()
	m.startHeartbeatLocked(session)
	m.mu.Unlock()

	m.policy.Reset()
	m.publishState(from, open, nil)
	m.logger.Info("connected", "url", m.cfg.URL)
	return nil
}

// Disconnect closes the connection with the normal-closure code and
// disables automatic reconnection until SetReconnectEnabled(true). Every
// pending request fails immediately with ErrConnectionClosed.
func (m *Manager) Disconnect() error {
	m.policy.SetEnabled(false)

	m.mu.Lock()
	m.session++
	t := m.transport
	m.transport = nil
	m.stopHeartbeatLocked()
	failed := m.takePendingLocked()

	var transitions []StateEvent
	if next, ok := transition(m.state, evDisconnect); ok {
		transitions = append(transitions, StateEvent{Previous: m.state, Current: next})
		m.state = next
	}
	if next, ok := transition(m.state, evClosed); ok {
		transitions = append(transitions, StateEvent{Previous: m.state, Current: next})
		m.state = next
		m.stats.LastDisconnectedAt = time.Now().UTC()
	}
	m.mu.Unlock()

	for _, pr := range failed {
		pr.result <- requestResult{err: ErrConnectionClosed}
	}
	for _, ev := range transitions {
		m.bus.Publish(EventState, ev)
	}

	var err error
	if t != nil {
		err = t.Close(CloseNormal, "client disconnect")
	}
	m.logger.Info("disconnected")
	return err
}

// Close is terminal teardown: disconnect, cancel any in-flight
// reconnection timer, and drop every bus subscription. The manager must
// not be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	err := m.Disconnect()
	m.policy.Cancel()
	m.bus.RemoveAll()
	return err
}

// Send transmits a fire-and-forget message. The connection must be open;
// sends in any other state are rejected, not queued. A missing ID or
// timestamp is filled in before transmission.
func (m *Manager) Send(ctx context.Context, env *contracts.Envelope) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.state != StateOpen {
		m.mu.Unlock()
		return ErrNotOpen
	}
	t := m.transport
	m.mu.Unlock()

	env.Stamp()
	data, err := env.Encode()
	if err != nil {
		return m.reportSendFailure("failed to encode message", err)
	}
	if err := t.Send(ctx, data); err != nil {
		return m.reportSendFailure("failed to transmit message", err)
	}

	m.mu.Lock()
	m.stats.MessagesSent++
	m.mu.Unlock()
	return nil
}

// Request transmits a message and waits for the reply that carries its id
// as correlation key. A non-positive timeout uses the configured default.
// The pending entry is registered before transmission and removed exactly
// once: on reply, on timeout, or on teardown.
func (m *Manager) Request(ctx context.Context, env *contracts.Envelope, timeout time.Duration) (*contracts.Envelope, error) {
	if timeout <= 0 {
		timeout = m.cfg.RequestTimeout
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if m.state != StateOpen {
		m.mu.Unlock()
		return nil, ErrNotOpen
	}
	t := m.transport

	env.Stamp()
	id := env.ID
	if env.CorrelationID == "" {
		env.CorrelationID = id
	}
	pr := &pendingRequest{
		id:     id,
		result: make(chan requestResult, 1),
	}
	pr.timer = time.AfterFunc(timeout, func() {
		m.settle(id, nil, ErrRequestTimeout)
	})
	m.pending[id] = pr
	m.mu.Unlock()

	data, err := env.Encode()
	if err != nil {
		m.removeRequest(id)
		return nil, m.reportSendFailure("failed to encode request", err)
	}
	if err := t.Send(ctx, data); err != nil {
		m.removeRequest(id)
		return nil, m.reportSendFailure("failed to transmit request", err)
	}

	m.mu.Lock()
	m.stats.MessagesSent++
	m.mu.Unlock()

	select {
	case res := <-pr.result:
		return res.reply, res.err
	case <-ctx.Done():
		m.removeRequest(id)
		return nil, ctx.Err()
	}
}

// settle resolves a pending request exactly once.
func (m *Manager) settle(id string, reply *contracts.Envelope, err error) {
	m.mu.Lock()
	pr, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, id)
	pr.timer.Stop()
	m.mu.Unlock()

	pr.result <- requestResult{reply: reply, err: err}
}

// removeRequest drops a pending entry without delivering a result.
func (m *Manager) removeRequest(id string) {
	m.mu.Lock()
	if pr, ok := m.pending[id]; ok {
		delete(m.pending, id)
		pr.timer.Stop()
	}
	m.mu.Unlock()
}

// takePendingLocked empties the correlation table, stopping every timeout
// timer, and returns the entries so the caller can fail them outside the
// lock.
func (m *Manager) takePendingLocked() []*pendingRequest {
	if len(m.pending) == 0 {
		return nil
	}
	out := make([]*pendingRequest, 0, len(m.pending))
	for id, pr := range m.pending {
		pr.timer.Stop()
		delete(m.pending, id)
		out = append(out, pr)
	}
	return out
}

func (m *Manager) reportSendFailure(msg string, cause error) error {
	werr := contracts.NewWireError(contracts.ErrCodeMessageSendFailed, msg, cause)
	m.bus.Publish(EventError, werr)
	return werr
}

// handleMessage decodes one inbound frame and dispatches it with the
// precedence: pending-request reply, heartbeat, then dual fan-out.
func (m *Manager) handleMessage(session uint64, data []byte) {
	env, err := contracts.DecodeEnvelope(data)
	if err != nil {
		werr := contracts.NewWireError(contracts.ErrCodeMessageSendFailed, "failed to decode inbound frame", err)
		m.logger.Warn("dropping malformed frame", "error", err)
		m.bus.Publish(EventError, werr)
		return
	}

	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		return
	}

	// A reply that matches a pending request is consumed here and never
	// fanned out.
	key := env.CorrelationID
	if key == "" {
		key = env.ID
	}
	if pr, ok := m.pending[key]; ok {
		delete(m.pending, key)
		pr.timer.Stop()
		m.mu.Unlock()
		pr.result <- requestResult{reply: env}
		return
	}

	switch env.Type {
	case contracts.TypePong:
		if m.watchdog != nil {
			m.watchdog.Stop()
			m.watchdog = nil
		}
		m.mu.Unlock()
		return
	case contracts.TypePing:
		t := m.transport
		m.mu.Unlock()
		m.replyPong(t, env)
		return
	}

	m.stats.MessagesReceived++
	m.mu.Unlock()

	m.bus.Publish(EventMessage, env)
	m.bus.Publish(env.Type, env)
}

// replyPong answers a server-initiated heartbeat probe.
func (m *Manager) replyPong(t Transport, ping *contracts.Envelope) {
	if t == nil {
		return
	}
	pong := (&contracts.Envelope{
		Type:          contracts.TypePong,
		CorrelationID: ping.ID,
	}).Stamp()
	data, err := pong.Encode()
	if err != nil {
		return
	}
	if err := t.Send(context.Background(), data); err != nil {
		m.logger.Warn("heartbeat reply failed", "error", err)
	}
}

func (m *Manager) handleClose(session uint64, code CloseCode, reason string) {
	if code.Normal() {
		m.finalizeClose(session)
		return
	}
	m.transportLost(session, code, reason, nil)
}

func (m *Manager) handleError(session uint64, err error) {
	m.mu.Lock()
	stale := m.session != session
	state := m.state
	m.mu.Unlock()
	if stale {
		return
	}

	if state == StateConnecting {
		werr := contracts.NewWireError(contracts.ErrCodeConnectionFailed, "transport error while connecting", err)
		m.bus.Publish(EventError, werr)
		return
	}
	m.logger.Warn("transport error", "error", err)
}

// finalizeClose handles a clean closure: transition to closed without
// entering the reconnection path.
func (m *Manager) finalizeClose(session uint64) {
	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		return
	}
	m.session++
	m.transport = nil
	m.stopHeartbeatLocked()
	failed := m.takePendingLocked()
	m.stats.LastDisconnectedAt = time.Now().UTC()
	prev := m.state
	next, ok := transition(m.state, evClosed)
	if ok {
		m.state = next
	}
	m.mu.Unlock()

	for _, pr := range failed {
		pr.result <- requestResult{err: ErrConnectionClosed}
	}
	if ok {
		m.publishState(prev, next, nil)
	}
}

// transportLost handles abnormal closure: tear down, then consult the
// reconnection policy.
func (m *Manager) transportLost(session uint64, code CloseCode, reason string, cause error) {
	m.mu.Lock()
	if m.session != session || m.closed {
		m.mu.Unlock()
		return
	}
	m.session++
	m.transport = nil
	m.stopHeartbeatLocked()
	failed := m.takePendingLocked()
	m.stats.LastDisconnectedAt = time.Now().UTC()
	prev := m.state
	next, ok := transition(m.state, evClosed)
	if ok {
		m.state = next
	}
	m.mu.Unlock()

	for _, pr := range failed {
		pr.result <- requestResult{err: ErrConnectionClosed}
	}
	if ok {
		m.publishState(prev, next, cause)
	}
	m.logger.Warn("connection lost", "code", int(code), "reason", reason)

	m.scheduleReconnect()
}

// scheduleReconnect asks the policy for another attempt, chaining itself
// from the attempt's completion until a connect succeeds or the policy
// gives up.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	if !m.policy.ShouldRetry() {
		// Attempts exhausted is terminal for the session; a disabled
		// policy means a caller-initiated disconnect, which is silent.
		if m.policy.Enabled() {
			werr := contracts.NewWireError(contracts.ErrCodeReconnectFailed, "reconnection attempts exhausted", nil)
			m.logger.Error("giving up on reconnection", "attempts", m.policy.Snapshot().Attempt)
			m.bus.Publish(EventError, werr)
		}
		return
	}

	m.mu.Lock()
	prev := m.state
	next, ok := transition(m.state, evRetryPending)
	if ok {
		m.state = next
	}
	m.stats.ReconnectAttempts++
	m.mu.Unlock()
	if ok {
		m.publishState(prev, next, nil)
	}

	m.policy.Attempt(func() error {
		return m.dial(context.Background())
	}, func(err error) {
		if err != nil {
			m.scheduleReconnect()
		}
	})
}

// startHeartbeatLocked launches the heartbeat loop for one session.
func (m *Manager) startHeartbeatLocked(session uint64) {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	m.hbStop = stop
	interval := m.cfg.HeartbeatInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.sendPing(session)
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
}

// sendPing transmits one heartbeat probe and arms the watchdog. The
// watchdog is a single shared timer rearmed each cycle; the matching pong
// disarms it.
func (m *Manager) sendPing(session uint64) {
	m.mu.Lock()
	if m.session != session || m.state != StateOpen {
		m.mu.Unlock()
		return
	}
	t := m.transport
	if m.watchdog != nil {
		m.watchdog.Stop()
	}
	m.watchdog = time.AfterFunc(m.cfg.HeartbeatTimeout, func() {
		m.heartbeatExpired(session)
	})
	m.mu.Unlock()

	ping, err := contracts.NewEnvelope(contracts.TypePing, nil)
	if err != nil {
		return
	}
	data, err := ping.Encode()
	if err != nil {
		return
	}
	if err := t.Send(context.Background(), data); err != nil {
		m.logger.Warn("heartbeat send failed", "error", err)
	}
}

// heartbeatExpired treats a missed heartbeat reply as an abnormal loss:
// the error is emitted, the transport is discarded, and the normal
// reconnection path runs. It does not disable reconnection the way a
// caller-initiated Disconnect does.
func (m *Manager) heartbeatExpired(session uint64) {
	m.mu.Lock()
	if m.session != session || m.state != StateOpen {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.mu.Unlock()

	werr := contracts.NewWireError(contracts.ErrCodeHeartbeatTimeout, "no heartbeat reply within window", nil)
	m.logger.Warn("heartbeat timed out", "timeout", m.cfg.HeartbeatTimeout)
	m.bus.Publish(EventError, werr)

	_ = t.Close(CloseGoingAway, "heartbeat timeout")
	m.transportLost(session, CloseAbnormal, "heartbeat timeout", werr)
}

func (m *Manager) publishState(prev, cur State, cause error) {
	m.bus.Publish(EventState, StateEvent{Previous: prev, Current: cur, Err: cause})
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a copy of the connection counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ReconnectionState returns a snapshot of the reconnection policy.
func (m *Manager) ReconnectionState() reconnect.State {
	return m.policy.Snapshot()
}

// SetReconnectEnabled toggles automatic reconnection. Required before
// Connect after an explicit Disconnect, which disables it.
func (m *Manager) SetReconnectEnabled(enabled bool) {
	m.policy.SetEnabled(enabled)
}

// PendingRequests returns the size of the correlation table.
func (m *Manager) PendingRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Bus exposes the event bus for message-type subscriptions.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// OnMessage subscribes to every ordinary inbound frame.
func (m *Manager) OnMessage(h func(*contracts.Envelope)) func() {
	return m.subscribeEnvelope(EventMessage, h)
}

// On subscribes to inbound frames of one message type.
func (m *Manager) On(messageType string, h func(*contracts.Envelope)) func() {
	return m.subscribeEnvelope(messageType, h)
}

func (m *Manager) subscribeEnvelope(event string, h func(*contracts.Envelope)) func() {
	return m.bus.Subscribe(event, func(payload any) {
		if env, ok := payload.(*contracts.Envelope); ok {
			h(env)
		}
	})
}

// OnError subscribes to the error channel.
func (m *Manager) OnError(h func(*contracts.WireError)) func() {
	return m.bus.Subscribe(EventError, func(payload any) {
		if werr, ok := payload.(*contracts.WireError); ok {
			h(werr)
		}
	})
}

// OnStateChange subscribes to connection state transitions.
func (m *Manager) OnStateChange(h func(StateEvent)) func() {
	return m.bus.Subscribe(EventState, func(payload any) {
		if ev, ok := payload.(StateEvent); ok {
			h(ev)
		}
	})
}
