package client

import (
	"sync"

	"github.com/danrezi-gif/encontro/internal/protocol"
)

// RoomManager tracks the local identity and the roster of the joined
// room from welcome/user_joined/user_left messages.
type RoomManager struct {
	network *NetworkManager

	mu           sync.Mutex
	userID       string
	roomID       string
	participants map[string]struct{}

	// Optional callbacks, invoked on the network read goroutine.
	OnConnected  func(userID string, participants []string)
	OnUserJoined func(userID string)
	OnUserLeft   func(userID string)

	unsubscribe func()
}

// NewRoomManager wires roster tracking onto a network manager.
func NewRoomManager(network *NetworkManager) *RoomManager {
	r := &RoomManager{
		network:      network,
		participants: make(map[string]struct{}),
	}
	r.unsubscribe = network.Subscribe(r.handleMessage)
	return r
}

// JoinRoom connects and joins. The identity arrives with the welcome.
func (r *RoomManager) JoinRoom(roomID string) error {
	r.mu.Lock()
	r.roomID = roomID
	r.mu.Unlock()
	return r.network.Connect(roomID)
}

// LeaveRoom leaves explicitly and closes the connection.
func (r *RoomManager) LeaveRoom() {
	r.network.Send(&protocol.LeaveRoom{})

	r.mu.Lock()
	r.participants = make(map[string]struct{})
	r.userID = ""
	r.roomID = ""
	r.mu.Unlock()

	r.network.Close()
}

// MarkReady signals readiness for the ceremony.
func (r *RoomManager) MarkReady() error {
	return r.network.Send(&protocol.Ready{})
}

// UserID returns the server-issued identity, empty before the welcome.
func (r *RoomManager) UserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}

// RoomID returns the requested room, empty after leaving.
func (r *RoomManager) RoomID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID
}

// Participants returns the other members currently known.
func (r *RoomManager) Participants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.participants))
	for id := range r.participants {
		out = append(out, id)
	}
	return out
}

// Dispose detaches from the network manager.
func (r *RoomManager) Dispose() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

func (r *RoomManager) handleMessage(msg protocol.ServerMessage) {
	switch msg := msg.(type) {
	case *protocol.Welcome:
		r.mu.Lock()
		r.userID = msg.UserID
		r.participants = make(map[string]struct{}, len(msg.Participants))
		for _, id := range msg.Participants {
			r.participants[id] = struct{}{}
		}
		r.mu.Unlock()
		if r.OnConnected != nil {
			r.OnConnected(msg.UserID, msg.Participants)
		}
	case *protocol.UserJoined:
		r.mu.Lock()
		r.participants[msg.UserID] = struct{}{}
		r.mu.Unlock()
		if r.OnUserJoined != nil {
			r.OnUserJoined(msg.UserID)
		}
	case *protocol.UserLeft:
		r.mu.Lock()
		delete(r.participants, msg.UserID)
		r.mu.Unlock()
		if r.OnUserLeft != nil {
			r.OnUserLeft(msg.UserID)
		}
	}
}
