// Package gateway owns the server side of the wire: it accepts WebSocket
// connections, issues ephemeral identities, parses and dispatches inbound
// messages to the ceremony registry, and fans authoritative notifications
// back out to everyone bound to a room.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/danrezi-gif/encontro/internal/ceremony"
	"github.com/danrezi-gif/encontro/internal/events"
	"github.com/danrezi-gif/encontro/internal/protocol"
)

// sendBuffer is the per-connection outbound queue depth. A connection
// that falls this far behind at 30 Hz is beyond saving and gets evicted.
const sendBuffer = 256

// Manager is the connection hub. It owns the room→connection index used
// for broadcast and implements ceremony.Sink so timer-driven phase
// transitions reach the room without the registry knowing about sockets.
type Manager struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Conn]bool
	byUser map[string]*Conn

	registry  *ceremony.Registry
	publisher events.Publisher
	upgrader  websocket.Upgrader
	config    ConnectionConfig
	clock     clockwork.Clock
}

// NewManager wires a hub around a fresh registry.
func NewManager(cfg ConnectionConfig, durations ceremony.Durations, limits ceremony.Limits, pub events.Publisher, clock clockwork.Clock) *Manager {
	if pub == nil {
		pub = events.Nop{}
	}
	m := &Manager{
		rooms:  make(map[string]map[*Conn]bool),
		byUser: make(map[string]*Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		config:    cfg,
		publisher: pub,
		clock:     clock,
	}
	m.registry = ceremony.NewRegistry(clock, durations, limits, m)
	return m
}

// Registry exposes the ceremony state, mainly for the HTTP surface and tests.
func (m *Manager) Registry() *ceremony.Registry { return m.registry }

// Upgrade turns an HTTP request into a managed WebSocket connection with
// a freshly issued ephemeral identity. Identity is connection-scoped: a
// reconnecting client joins again as a new participant.
func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request) error {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Conn{
		ID:          uuid.New().String(),
		UserID:      uuid.New().String(),
		ws:          ws,
		send:        make(chan []byte, sendBuffer),
		manager:     m,
		connectedAt: time.Now(),
	}

	m.mu.Lock()
	m.byUser[c.UserID] = c
	m.mu.Unlock()

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("user_id", c.UserID).
		Msg("connection established")
	return nil
}

// Close tears down the registry and with it every pending phase timer.
func (m *Manager) Close() {
	m.registry.Close()
	m.publisher.Close()
}

// dispatch decodes and handles one inbound frame on the connection's
// read goroutine. Undecodable frames earn the sender an error message
// and nothing else; the connection and the room stay up.
func (m *Manager) dispatch(c *Conn, data []byte) {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("bad client frame")
		m.sendTo(c, &protocol.Error{Message: "invalid message format"})
		return
	}

	switch msg := msg.(type) {
	case *protocol.JoinRoom:
		m.handleJoin(c, msg.RoomID)
	case *protocol.LeaveRoom:
		m.leaveRoom(c)
	case *protocol.PresenceUpdate:
		m.handlePresence(c, msg)
	case *protocol.MergeInitiate:
		m.handleMergeInitiate(c, msg.TargetUserID)
	case *protocol.MergeRelease:
		m.handleMergeRelease(c)
	case *protocol.Ready:
		m.handleReady(c)
	}
}

func (m *Manager) handleJoin(c *Conn, roomID string) {
	if c.roomID != "" {
		m.leaveRoom(c)
	}

	// Enter the broadcast index before the roster: once the registry admits
	// this participant, a concurrent joiner's user_joined fan-out must
	// already be able to reach it.
	m.mu.Lock()
	if m.rooms[roomID] == nil {
		m.rooms[roomID] = make(map[*Conn]bool)
	}
	m.rooms[roomID][c] = true
	m.mu.Unlock()

	others, err := m.registry.Join(roomID, c.UserID)
	if err != nil {
		m.mu.Lock()
		if conns := m.rooms[roomID]; conns != nil {
			delete(conns, c)
			if len(conns) == 0 {
				delete(m.rooms, roomID)
			}
		}
		m.mu.Unlock()
		m.sendTo(c, &protocol.Error{Message: err.Error()})
		return
	}
	c.roomID = roomID

	m.sendTo(c, &protocol.Welcome{UserID: c.UserID, RoomID: roomID, Participants: others})
	m.broadcast(roomID, &protocol.UserJoined{UserID: c.UserID}, c)

	if len(others) == 0 {
		m.publish(events.New(roomID, events.TypeRoomCreated, nil))
	}
	m.publish(events.New(roomID, events.TypeParticipantJoined, events.ParticipantPayload{
		UserID:    c.UserID,
		Occupancy: len(others) + 1,
	}))
}

// leaveRoom unbinds the connection from its room, if any, and announces
// the departure. Emptied rooms are destroyed by the registry, which also
// cancels their phase timer.
func (m *Manager) leaveRoom(c *Conn) {
	roomID := c.roomID
	if roomID == "" {
		return
	}
	c.roomID = ""

	m.mu.Lock()
	if conns := m.rooms[roomID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(m.rooms, roomID)
		}
	}
	m.mu.Unlock()

	emptied := m.registry.Leave(roomID, c.UserID)
	m.broadcast(roomID, &protocol.UserLeft{UserID: c.UserID}, c)

	m.publish(events.New(roomID, events.TypeParticipantLeft, events.ParticipantPayload{
		UserID: c.UserID,
	}))
	if emptied {
		m.publish(events.New(roomID, events.TypeRoomDestroyed, nil))
	}
}

// handlePresence relays a snapshot to the rest of the room. Updates from
// connections not yet in a room are a benign ordering race and dropped.
func (m *Manager) handlePresence(c *Conn, msg *protocol.PresenceUpdate) {
	if c.roomID == "" {
		return
	}
	m.broadcast(c.roomID, &protocol.RemotePresenceUpdate{
		UserID: c.UserID,
		State:  msg.State,
	}, c)
}

func (m *Manager) handleMergeInitiate(c *Conn, targetUserID string) {
	if c.roomID == "" {
		return
	}
	confirmed := m.registry.RequestMerge(c.roomID, c.UserID, targetUserID)
	if !confirmed {
		return
	}

	m.sendTo(c, &protocol.MergeConfirm{PartnerUserID: targetUserID})
	m.mu.RLock()
	partner := m.byUser[targetUserID]
	m.mu.RUnlock()
	if partner != nil {
		m.sendTo(partner, &protocol.MergeConfirm{PartnerUserID: c.UserID})
	}

	m.publish(events.New(c.roomID, events.TypeMergeConfirmed, events.MergeConfirmedPayload{
		UserA: c.UserID,
		UserB: targetUserID,
	}))
}

func (m *Manager) handleMergeRelease(c *Conn) {
	if c.roomID == "" {
		return
	}
	m.registry.ReleaseMerge(c.roomID, c.UserID)
}

func (m *Manager) handleReady(c *Conn) {
	if c.roomID == "" {
		return
	}
	started, startAt := m.registry.MarkReady(c.roomID, c.UserID)
	if !started {
		return
	}

	m.broadcast(c.roomID, &protocol.CeremonyStart{StartTime: startAt.UnixMilli()}, nil)
	m.publish(events.New(c.roomID, events.TypeCeremonyStarted, events.CeremonyStartedPayload{
		StartAt: startAt,
	}))
}

// handleDisconnect runs when a read pump exits, expected or not.
func (m *Manager) handleDisconnect(c *Conn) {
	m.leaveRoom(c)

	m.mu.Lock()
	delete(m.byUser, c.UserID)
	m.mu.Unlock()
	c.closeSend()

	log.Info().
		Str("connection_id", c.ID).
		Str("user_id", c.UserID).
		Msg("connection closed")
}

// PhaseChanged implements ceremony.Sink: fan the transition out to the
// room and mirror it. Runs with the registry lock held, so it must not
// call back into the registry.
func (m *Manager) PhaseChanged(roomID string, phase ceremony.Phase, startAt time.Time, duration time.Duration, bounded bool) {
	var durationMS *int64
	if bounded {
		ms := duration.Milliseconds()
		durationMS = &ms
	}
	m.broadcast(roomID, &protocol.PhaseChange{
		Phase:      phase,
		StartTime:  startAt.UnixMilli(),
		DurationMS: durationMS,
	}, nil)

	m.publish(events.New(roomID, events.TypePhaseAdvanced, events.PhaseAdvancedPayload{
		Phase:      string(phase),
		StartAt:    startAt,
		DurationMS: durationMS,
	}))
}

// broadcast delivers a message to every connection bound to the room,
// minus the excluded sender. Delivery is fire-and-forget per connection:
// a full send buffer evicts that connection and never stalls the rest.
// Fan-out is synchronous with the mutation that caused it, so receivers
// observe a room's messages in the order they were produced.
func (m *Manager) broadcast(roomID string, msg protocol.ServerMessage, exclude *Conn) {
	data, err := protocol.EncodeServer(msg)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("encode broadcast")
		return
	}

	m.mu.RLock()
	targets := make([]*Conn, 0, len(m.rooms[roomID]))
	for conn := range m.rooms[roomID] {
		if conn != exclude {
			targets = append(targets, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range targets {
		m.deliver(conn, data)
	}
}

// sendTo serializes a message for a single connection.
func (m *Manager) sendTo(c *Conn, msg protocol.ServerMessage) {
	data, err := protocol.EncodeServer(msg)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("encode message")
		return
	}
	m.deliver(c, data)
}

// deliver queues a frame, evicting the connection when its buffer is
// full. The closed websocket then terminates the read pump, which runs
// the normal disconnect path.
func (m *Manager) deliver(c *Conn, data []byte) {
	if !c.enqueue(data) {
		log.Warn().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Msg("send buffer full, evicting connection")
		c.ws.Close()
	}
}

// publish mirrors a lifecycle event without blocking the dispatch path.
func (m *Manager) publish(ev events.Event) {
	go m.publisher.Publish(context.Background(), ev)
}

// Stats reports current connection counts.
func (m *Manager) Stats() (totalConnections, activeRooms int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser), len(m.rooms)
}
