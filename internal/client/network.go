// Package client implements the participant side of the wire: a resilient
// WebSocket connection with message pub/sub, roster tracking, presence
// transmission at a fixed cadence, and time-delayed interpolation of
// everyone else's snapshots.
package client

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/danrezi-gif/encontro/internal/protocol"
)

const (
	// maxReconnectAttempts bounds the backoff schedule; exhausting it is a
	// terminal, user-visible failure.
	maxReconnectAttempts = 5
	// reconnectBaseDelay doubles per attempt.
	reconnectBaseDelay = time.Second
)

// ErrNotConnected is returned by Send without a live connection.
var ErrNotConnected = errors.New("not connected")

// ConnState describes the connection lifecycle as surfaced to subscribers.
type ConnState int

const (
	// StateIdle is the initial state, before any Connect.
	StateIdle ConnState = iota
	// StateConnecting covers dialing and reconnect waits.
	StateConnecting
	// StateConnected means the join handshake has been sent.
	StateConnected
	// StateDisconnected is terminal: the reconnect budget is exhausted.
	StateDisconnected
	// StateClosed is an intentional local close; no reconnect follows.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// NetworkManager owns the client's single transport connection. An
// unexpected closure triggers reconnection with exponential backoff, each
// attempt replaying the join handshake for the last requested room; the
// server issues a fresh identity every time, so a reconnect is a rejoin,
// not a resumption. An intentional Close never reconnects.
type NetworkManager struct {
	url   string
	clock clockwork.Clock

	mu          sync.Mutex
	ws          *websocket.Conn
	roomID      string
	attempts    int
	timer       clockwork.Timer
	timerCancel chan struct{}
	closed      bool
	state       ConnState

	handlers  map[int]func(protocol.ServerMessage)
	stateSubs map[int]func(ConnState)
	nextSub   int

	// writeMu serializes writers; gorilla permits one concurrent writer.
	writeMu sync.Mutex
}

// NewNetworkManager builds a manager for the given ws:// or wss:// URL.
func NewNetworkManager(url string, clock clockwork.Clock) *NetworkManager {
	return &NetworkManager{
		url:       url,
		clock:     clock,
		handlers:  make(map[int]func(protocol.ServerMessage)),
		stateSubs: make(map[int]func(ConnState)),
	}
}

// Connect dials the server and joins roomID, resetting any previous
// reconnect state. At most one transport connection is live at a time:
// an existing connection is closed before the new dial, and its read
// loop recognizes itself as stale. A dial failure starts the backoff
// schedule; the error reports only the first attempt.
func (n *NetworkManager) Connect(roomID string) error {
	n.mu.Lock()
	n.cancelTimerLocked()
	n.closed = false
	n.roomID = roomID
	n.attempts = 0
	old := n.ws
	n.ws = nil
	n.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return n.dial()
}

// dial performs one connection attempt and, on failure, schedules the next.
func (n *NetworkManager) dial() error {
	n.setState(StateConnecting)

	ws, _, err := websocket.DefaultDialer.Dial(n.url, nil)
	if err != nil {
		log.Warn().Err(err).Str("url", n.url).Msg("dial failed")
		n.mu.Lock()
		n.scheduleReconnectLocked()
		n.mu.Unlock()
		return err
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		ws.Close()
		return errors.New("closed during dial")
	}
	n.ws = ws
	n.attempts = 0
	roomID := n.roomID
	n.mu.Unlock()

	n.setState(StateConnected)
	go n.readLoop(ws)

	if err := n.Send(&protocol.JoinRoom{RoomID: roomID}); err != nil {
		return err
	}
	return nil
}

// readLoop fans inbound messages out to subscribers until the connection
// drops, then hands off to the reconnect logic.
func (n *NetworkManager) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			n.onReadClosed(ws)
			return
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			log.Warn().Err(err).Msg("bad server frame")
			continue
		}
		for _, h := range n.snapshotHandlers() {
			h(msg)
		}
	}
}

func (n *NetworkManager) onReadClosed(ws *websocket.Conn) {
	n.mu.Lock()
	if n.ws != ws {
		// A stale read loop from a connection already replaced.
		n.mu.Unlock()
		return
	}
	n.ws = nil
	if n.closed {
		n.mu.Unlock()
		return
	}
	log.Info().Msg("connection lost")
	n.scheduleReconnectLocked()
	n.mu.Unlock()
}

// scheduleReconnectLocked arms the next backoff timer, or surfaces the
// terminal disconnected state once the budget is spent. Caller holds mu.
func (n *NetworkManager) scheduleReconnectLocked() {
	if n.attempts >= maxReconnectAttempts {
		log.Warn().Int("attempts", n.attempts).Msg("reconnect budget exhausted")
		go n.setState(StateDisconnected)
		return
	}

	delay := reconnectBaseDelay << n.attempts
	n.attempts++
	log.Info().
		Dur("delay", delay).
		Int("attempt", n.attempts).
		Msg("reconnecting")

	timer := n.clock.NewTimer(delay)
	cancel := make(chan struct{})
	n.timer = timer
	n.timerCancel = cancel

	go func() {
		select {
		case <-timer.Chan():
			n.redial()
		case <-cancel:
			stopAndDrainTimer(timer)
		}
	}()
}

func (n *NetworkManager) redial() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.timer = nil
	n.timerCancel = nil
	n.mu.Unlock()

	// A failed dial schedules the next attempt itself.
	_ = n.dial()
}

// Close tears the connection down intentionally: the reconnect timer is
// cancelled and no reconnect is attempted.
func (n *NetworkManager) Close() {
	n.mu.Lock()
	n.closed = true
	n.cancelTimerLocked()
	ws := n.ws
	n.ws = nil
	n.mu.Unlock()

	if ws != nil {
		n.writeMu.Lock()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		n.writeMu.Unlock()
		ws.Close()
	}
	n.setState(StateClosed)
}

// cancelTimerLocked stops a pending reconnect. Caller holds mu.
func (n *NetworkManager) cancelTimerLocked() {
	if n.timerCancel != nil {
		close(n.timerCancel)
		n.timer = nil
		n.timerCancel = nil
	}
}

// Send encodes and writes one message.
func (n *NetworkManager) Send(msg protocol.ClientMessage) error {
	n.mu.Lock()
	ws := n.ws
	n.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	data, err := protocol.EncodeClient(msg)
	if err != nil {
		return err
	}

	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, data)
}

// Connected reports whether a live connection exists.
func (n *NetworkManager) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ws != nil
}

// State returns the current connection state.
func (n *NetworkManager) State() ConnState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Subscribe registers a handler for every inbound server message and
// returns its cancel func. Handlers run on the read goroutine and must
// not block.
func (n *NetworkManager) Subscribe(h func(protocol.ServerMessage)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextSub
	n.nextSub++
	n.handlers[id] = h
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.handlers, id)
	}
}

// SubscribeState registers a connection state observer.
func (n *NetworkManager) SubscribeState(h func(ConnState)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextSub
	n.nextSub++
	n.stateSubs[id] = h
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.stateSubs, id)
	}
}

func (n *NetworkManager) snapshotHandlers() []func(protocol.ServerMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]func(protocol.ServerMessage), 0, len(n.handlers))
	for _, h := range n.handlers {
		out = append(out, h)
	}
	return out
}

func (n *NetworkManager) setState(s ConnState) {
	n.mu.Lock()
	if n.state == s {
		n.mu.Unlock()
		return
	}
	n.state = s
	subs := make([]func(ConnState), 0, len(n.stateSubs))
	for _, h := range n.stateSubs {
		subs = append(subs, h)
	}
	n.mu.Unlock()

	for _, h := range subs {
		h(s)
	}
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
