// Package events defines the room lifecycle events mirrored to external
// observers. The mirror is observation-only telemetry: it never carries
// authority, and a lost or slow publish never touches the realtime path.
package events

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Type discriminates lifecycle events.
type Type string

const (
	TypeRoomCreated       Type = "RoomCreated"
	TypeRoomDestroyed     Type = "RoomDestroyed"
	TypeParticipantJoined Type = "ParticipantJoined"
	TypeParticipantLeft   Type = "ParticipantLeft"
	TypeCeremonyStarted   Type = "CeremonyStarted"
	TypePhaseAdvanced     Type = "PhaseAdvanced"
	TypeMergeConfirmed    Type = "MergeConfirmed"
)

// Event is the published envelope.
type Event struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"roomId"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ParticipantPayload accompanies join/leave events.
type ParticipantPayload struct {
	UserID    string `json:"userId"`
	Occupancy int    `json:"occupancy"`
}

// CeremonyStartedPayload carries the authoritative start instant.
type CeremonyStartedPayload struct {
	StartAt      time.Time `json:"startAt"`
	Participants int       `json:"participants"`
}

// PhaseAdvancedPayload mirrors a phase transition. DurationMS is nil for
// the unbounded terminal phase.
type PhaseAdvancedPayload struct {
	Phase      string    `json:"phase"`
	StartAt    time.Time `json:"startAt"`
	DurationMS *int64    `json:"durationMs"`
}

// MergeConfirmedPayload names a newly mutual pair.
type MergeConfirmedPayload struct {
	UserA string `json:"userA"`
	UserB string `json:"userB"`
}

// New builds an event, marshaling the payload. payload may be nil.
func New(roomID string, t Type, payload any) Event {
	ev := Event{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		// Payload structs marshal by construction; a failure here would
		// be a programming error, so it degrades to an empty body.
		if data, err := json.Marshal(payload); err == nil {
			ev.Data = data
		}
	}
	return ev
}
