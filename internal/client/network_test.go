package client

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danrezi-gif/encontro/internal/protocol"
)

// wsTestServer accepts WebSocket connections and answers join_room with a
// welcome carrying a fresh identity, mimicking the gateway handshake.
type wsTestServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	connSeq  atomic.Int64
	live     atomic.Int64

	// mu guards conns, the upgraded transports. httptest stops tracking a
	// connection once it is hijacked, so srv.CloseClientConnections cannot
	// reach these; closeClientConnections must be used instead.
	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	s := &wsTestServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, ws)
		s.mu.Unlock()
		s.live.Add(1)
		defer s.live.Add(-1)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.DecodeClient(data)
			if err != nil {
				continue
			}
			if join, ok := msg.(*protocol.JoinRoom); ok {
				welcome, _ := protocol.EncodeServer(&protocol.Welcome{
					UserID:       fmt.Sprintf("user-%d", s.connSeq.Add(1)),
					RoomID:       join.RoomID,
					Participants: []string{},
				})
				ws.WriteMessage(websocket.TextMessage, welcome)
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

// closeClientConnections tears down every upgraded transport, which
// srv.CloseClientConnections cannot do for hijacked connections.
func (s *wsTestServer) closeClientConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.UnderlyingConn().Close()
	}
	s.conns = nil
}

func (s *wsTestServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func waitWelcome(t *testing.T, ch <-chan *protocol.Welcome) *protocol.Welcome {
	t.Helper()
	select {
	case w := <-ch:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for welcome")
		return nil
	}
}

func waitState(t *testing.T, ch <-chan ConnState, want ConnState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func TestConnectSendsJoinHandshake(t *testing.T) {
	server := newWSTestServer(t)
	n := NewNetworkManager(server.wsURL(), clockwork.NewFakeClock())
	defer n.Close()

	welcomes := make(chan *protocol.Welcome, 4)
	n.Subscribe(func(msg protocol.ServerMessage) {
		if w, ok := msg.(*protocol.Welcome); ok {
			welcomes <- w
		}
	})

	require.NoError(t, n.Connect("r1"))
	w := waitWelcome(t, welcomes)
	assert.Equal(t, "r1", w.RoomID)
	assert.True(t, n.Connected())
	assert.Equal(t, StateConnected, n.State())
}

func TestConnectReplacesLiveConnection(t *testing.T) {
	server := newWSTestServer(t)
	n := NewNetworkManager(server.wsURL(), clockwork.NewFakeClock())
	defer n.Close()

	welcomes := make(chan *protocol.Welcome, 4)
	n.Subscribe(func(msg protocol.ServerMessage) {
		if w, ok := msg.(*protocol.Welcome); ok {
			welcomes <- w
		}
	})

	require.NoError(t, n.Connect("r1"))
	waitWelcome(t, welcomes)

	require.NoError(t, n.Connect("r2"))
	second := waitWelcome(t, welcomes)
	assert.Equal(t, "r2", second.RoomID)

	// The first transport must be torn down, not left reading beside the
	// new one.
	require.Eventually(t, func() bool {
		return server.live.Load() == 1
	}, 2*time.Second, 10*time.Millisecond, "old connection still open")
	assert.True(t, n.Connected())
}

func TestReconnectRejoinsWithFreshIdentity(t *testing.T) {
	server := newWSTestServer(t)
	clock := clockwork.NewFakeClock()
	n := NewNetworkManager(server.wsURL(), clock)
	defer n.Close()

	welcomes := make(chan *protocol.Welcome, 4)
	n.Subscribe(func(msg protocol.ServerMessage) {
		if w, ok := msg.(*protocol.Welcome); ok {
			welcomes <- w
		}
	})

	require.NoError(t, n.Connect("r1"))
	first := waitWelcome(t, welcomes)

	// Kill the transport out from under the client.
	server.closeClientConnections()

	// The manager schedules the first backoff attempt; release it.
	clock.BlockUntil(1)
	clock.Advance(reconnectBaseDelay)

	second := waitWelcome(t, welcomes)
	assert.Equal(t, "r1", second.RoomID, "reconnect replays the join handshake")
	assert.NotEqual(t, first.UserID, second.UserID, "reconnection is a rejoin, not a resumption")
}

func TestReconnectGivesUpAfterBudget(t *testing.T) {
	// Nothing listens on port 1; every dial fails fast.
	clock := clockwork.NewFakeClock()
	n := NewNetworkManager("ws://127.0.0.1:1/ws", clock)
	defer n.Close()

	states := make(chan ConnState, 16)
	n.SubscribeState(func(s ConnState) { states <- s })

	require.Error(t, n.Connect("r1"))

	delay := reconnectBaseDelay
	for i := 0; i < maxReconnectAttempts; i++ {
		clock.BlockUntil(1)
		clock.Advance(delay)
		delay *= 2
	}

	waitState(t, states, StateDisconnected)
	assert.False(t, n.Connected())
}

func TestIntentionalCloseDoesNotReconnect(t *testing.T) {
	server := newWSTestServer(t)
	clock := clockwork.NewFakeClock()
	n := NewNetworkManager(server.wsURL(), clock)

	welcomes := make(chan *protocol.Welcome, 4)
	n.Subscribe(func(msg protocol.ServerMessage) {
		if w, ok := msg.(*protocol.Welcome); ok {
			welcomes <- w
		}
	})
	states := make(chan ConnState, 16)
	n.SubscribeState(func(s ConnState) { states <- s })

	require.NoError(t, n.Connect("r1"))
	waitWelcome(t, welcomes)

	n.Close()
	waitState(t, states, StateClosed)

	// No reconnect timer may exist; advancing time must change nothing.
	clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateClosed, n.State())
	assert.False(t, n.Connected())
	assert.EqualValues(t, 1, server.connSeq.Load(), "no new join after intentional close")
}

func TestSendWithoutConnection(t *testing.T) {
	n := NewNetworkManager("ws://127.0.0.1:1/ws", clockwork.NewFakeClock())
	err := n.Send(&protocol.Ready{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSubscribeCancel(t *testing.T) {
	n := NewNetworkManager("ws://127.0.0.1:1/ws", clockwork.NewFakeClock())

	var calls atomic.Int64
	cancel := n.Subscribe(func(protocol.ServerMessage) { calls.Add(1) })

	for _, h := range n.snapshotHandlers() {
		h(&protocol.MergeDeny{})
	}
	cancel()
	for _, h := range n.snapshotHandlers() {
		h(&protocol.MergeDeny{})
	}
	assert.EqualValues(t, 1, calls.Load())
}
