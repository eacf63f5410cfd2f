// Package protocol defines the tagged wire messages exchanged over the
// WebSocket connection, one closed set per direction. Every frame is a
// JSON object with a "type" discriminator alongside the type's fields.
// Adding a message type means adding a variant here and extending the
// codec switches, which the compiler then enforces at every dispatch site.
package protocol

import (
	"github.com/danrezi-gif/encontro/internal/ceremony"
	"github.com/danrezi-gif/encontro/internal/presence"
)

// Message type discriminators, client to server.
const (
	TypeJoinRoom       = "join_room"
	TypeLeaveRoom      = "leave_room"
	TypePresenceUpdate = "presence_update"
	TypeMergeInitiate  = "merge_initiate"
	TypeMergeRelease   = "merge_release"
	TypeReady          = "ready"
)

// Message type discriminators, server to client.
const (
	TypeWelcome              = "welcome"
	TypeUserJoined           = "user_joined"
	TypeUserLeft             = "user_left"
	TypeRemotePresenceUpdate = "remote_presence_update"
	TypePhaseChange          = "phase_change"
	TypeCeremonyStart        = "ceremony_start"
	TypeMergeConfirm         = "merge_confirm"
	TypeMergeDeny            = "merge_deny"
	TypeError                = "error"
)

// ClientMessage is implemented by every message a participant can send.
type ClientMessage interface{ clientMessage() }

// JoinRoom enters a room, creating it if needed. A client already in a
// room implicitly leaves it first.
type JoinRoom struct {
	RoomID string `json:"roomId"`
}

// LeaveRoom exits the current room.
type LeaveRoom struct{}

// PresenceUpdate carries the sender's latest snapshot for relay to the
// rest of the room.
type PresenceUpdate struct {
	State presence.State `json:"state"`
}

// MergeInitiate declares a merge target. The merge confirms only when the
// target reciprocates.
type MergeInitiate struct {
	TargetUserID string `json:"targetUserId"`
}

// MergeRelease withdraws the sender's merge target.
type MergeRelease struct{}

// Ready flags the sender ready for the ceremony to begin.
type Ready struct{}

func (*JoinRoom) clientMessage()       {}
func (*LeaveRoom) clientMessage()      {}
func (*PresenceUpdate) clientMessage() {}
func (*MergeInitiate) clientMessage()  {}
func (*MergeRelease) clientMessage()   {}
func (*Ready) clientMessage()          {}

// ServerMessage is implemented by every message the server can push.
type ServerMessage interface{ serverMessage() }

// Welcome acknowledges a join: the ephemeral identity issued to the
// joiner and the ids of the other current members.
type Welcome struct {
	UserID       string   `json:"userId"`
	RoomID       string   `json:"roomId"`
	Participants []string `json:"participants"`
}

// UserJoined announces a new member to the rest of the room.
type UserJoined struct {
	UserID string `json:"userId"`
}

// UserLeft announces a departure to the rest of the room.
type UserLeft struct {
	UserID string `json:"userId"`
}

// RemotePresenceUpdate relays another participant's snapshot.
type RemotePresenceUpdate struct {
	UserID string         `json:"userId"`
	State  presence.State `json:"state"`
}

// PhaseChange announces an authoritative phase transition. StartTime is
// epoch milliseconds on the server clock; DurationMS is nil for the
// unbounded terminal phase.
type PhaseChange struct {
	Phase      ceremony.Phase `json:"phase"`
	StartTime  int64          `json:"startTime"`
	DurationMS *int64         `json:"duration"`
}

// CeremonyStart announces the countdown: the ceremony's first phase
// begins at StartTime (epoch milliseconds, server clock).
type CeremonyStart struct {
	StartTime int64 `json:"startTime"`
}

// MergeConfirm tells a participant its merge became mutual.
type MergeConfirm struct {
	PartnerUserID string `json:"partnerUserId"`
}

// MergeDeny is reserved for an explicit merge refusal. The server never
// sends it today; clients must tolerate it.
type MergeDeny struct{}

// Error reports a malformed or rejected request to the sender only.
type Error struct {
	Message string `json:"message"`
}

func (*Welcome) serverMessage()              {}
func (*UserJoined) serverMessage()           {}
func (*UserLeft) serverMessage()             {}
func (*RemotePresenceUpdate) serverMessage() {}
func (*PhaseChange) serverMessage()          {}
func (*CeremonyStart) serverMessage()        {}
func (*MergeConfirm) serverMessage()         {}
func (*MergeDeny) serverMessage()            {}
func (*Error) serverMessage()                {}
