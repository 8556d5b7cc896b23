package wirelink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/wirelink-go/connection"
	"github.com/glimte/wirelink-go/contracts"
	"github.com/glimte/wirelink-go/reconnect"
)

// wireServer is a minimal envelope-speaking peer. It answers requests of
// type "echo" with an "echo_result" carrying the same correlation id, and
// answers heartbeat pings with pongs.
func wireServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			env, err := contracts.DecodeEnvelope(data)
			if err != nil {
				continue
			}

			var reply *contracts.Envelope
			switch env.Type {
			case contracts.TypePing:
				reply = &contracts.Envelope{Type: contracts.TypePong, CorrelationID: env.ID}
			case "echo":
				reply = &contracts.Envelope{
					Type:          "echo_result",
					Payload:       env.Payload,
					CorrelationID: env.CorrelationID,
				}
			default:
				continue
			}

			out, err := reply.Stamp().Encode()
			if err != nil {
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func serverURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientLifecycle(t *testing.T) {
	srv := wireServer(t)
	client := NewClient(serverURL(srv), WithoutReconnect())
	defer client.Close()

	var mu sync.Mutex
	var states []connection.State
	client.OnStateChange(func(ev connection.StateEvent) {
		mu.Lock()
		states = append(states, ev.Current)
		mu.Unlock()
	})

	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.Connected())

	require.NoError(t, client.Disconnect())
	assert.Equal(t, connection.StateClosed, client.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []connection.State{
		connection.StateConnecting,
		connection.StateOpen,
		connection.StateClosing,
		connection.StateClosed,
	}, states)
}

func TestClientRequest(t *testing.T) {
	srv := wireServer(t)
	client := NewClient(serverURL(srv), WithoutReconnect())
	defer client.Close()
	require.NoError(t, client.Connect(context.Background()))

	reply, err := client.Request(context.Background(), "echo", map[string]string{"msg": "hello"}, time.Second)

	require.NoError(t, err)
	assert.Equal(t, "echo_result", reply.Type)
	var payload map[string]string
	require.NoError(t, reply.DecodePayload(&payload))
	assert.Equal(t, "hello", payload["msg"])

	stats := client.Stats()
	assert.Equal(t, uint64(1), stats.MessagesSent)
}

func TestClientSendAndDispatch(t *testing.T) {
	srv := wireServer(t)
	client := NewClient(serverURL(srv), WithoutReconnect())
	defer client.Close()
	require.NoError(t, client.Connect(context.Background()))

	// Fire a request but subscribe instead of awaiting: the unsolicited
	// reply must be fanned out once no pending entry matches.
	received := make(chan *contracts.Envelope, 1)
	client.On("echo_result", func(env *contracts.Envelope) {
		received <- env
	})

	env, err := contracts.NewEnvelope("echo", map[string]string{"msg": "fanout"})
	require.NoError(t, err)
	env.CorrelationID = "unsolicited"
	require.NoError(t, client.SendEnvelope(context.Background(), env))

	select {
	case got := <-received:
		assert.Equal(t, "echo_result", got.Type)
	case <-time.After(time.Second):
		t.Fatal("typed subscription never fired")
	}
}

func TestClientHeartbeat(t *testing.T) {
	srv := wireServer(t)
	client := NewClient(serverURL(srv),
		WithoutReconnect(),
		WithHeartbeat(20*time.Millisecond, 200*time.Millisecond),
	)
	defer client.Close()

	var errCount int
	var mu sync.Mutex
	client.OnError(func(*contracts.WireError) {
		mu.Lock()
		errCount++
		mu.Unlock()
	})

	require.NoError(t, client.Connect(context.Background()))
	time.Sleep(120 * time.Millisecond)

	assert.True(t, client.Connected())
	mu.Lock()
	assert.Equal(t, 0, errCount)
	mu.Unlock()
}

func TestClientReconnectsAfterServerRestart(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var dropOnce sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dropped := false
		dropOnce.Do(func() {
			dropped = true
			ws.Close() // drop the first connection without a close frame
		})
		if dropped {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := NewClient(serverURL(srv), WithReconnect(reconnect.Config{
		Enabled:            true,
		MaxAttempts:        5,
		InitialDelay:       10 * time.Millisecond,
		MaxDelay:           100 * time.Millisecond,
		ExponentialBackoff: true,
	}))
	defer client.Close()

	require.NoError(t, client.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return client.Connected() && client.Stats().ReconnectAttempts >= 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, client.Stats().SuccessfulConnections, uint64(2))
}

func TestClientOptions(t *testing.T) {
	t.Run("json payload round trip through envelope helpers", func(t *testing.T) {
		env, err := contracts.NewEnvelope("booking_update", struct {
			Room int `json:"room"`
		}{Room: 12})
		require.NoError(t, err)
		assert.Equal(t, json.RawMessage(`{"room":12}`), env.Payload)
	})

	t.Run("send before connect is rejected", func(t *testing.T) {
		client := NewClient("ws://example.test", WithoutReconnect())
		defer client.Close()
		err := client.Send(context.Background(), "test", nil)
		assert.ErrorIs(t, err, connection.ErrNotOpen)
	})

	t.Run("reconnect state reflects configuration", func(t *testing.T) {
		client := NewClient("ws://example.test", WithoutReconnect())
		defer client.Close()
		assert.False(t, client.ReconnectionState().Enabled)

		client.SetReconnectEnabled(true)
		assert.True(t, client.ReconnectionState().Enabled)
	})
}
