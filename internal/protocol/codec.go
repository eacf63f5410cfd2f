package protocol

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// envelope peels the discriminator off a frame before the payload decode.
type envelope struct {
	Type string `json:"type"`
}

// DecodeClient parses one client frame. Unknown discriminators and
// undecodable payloads are errors; the caller reports them to the sender
// and drops the frame.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoom
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &m, nil
	case TypeLeaveRoom:
		return &LeaveRoom{}, nil
	case TypePresenceUpdate:
		var m PresenceUpdate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &m, nil
	case TypeMergeInitiate:
		var m MergeInitiate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &m, nil
	case TypeMergeRelease:
		return &MergeRelease{}, nil
	case TypeReady:
		return &Ready{}, nil
	default:
		return nil, fmt.Errorf("unknown client message type %q", env.Type)
	}
}

// DecodeServer parses one server frame.
func DecodeServer(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case TypeWelcome:
		var m Welcome
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &m, nil
	case TypeUserJoined:
		var m UserJoined
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &m, nil
	case TypeUserLeft:
		var m UserLeft
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &m, nil
	case TypeRemotePresenceUpdate:
		var m RemotePresenceUpdate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &m, nil
	case TypePhaseChange:
		var m PhaseChange
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &m, nil
	case TypeCeremonyStart:
		var m CeremonyStart
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &m, nil
	case TypeMergeConfirm:
		var m MergeConfirm
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &m, nil
	case TypeMergeDeny:
		return &MergeDeny{}, nil
	case TypeError:
		var m Error
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown server message type %q", env.Type)
	}
}

// EncodeClient serializes one client frame, splicing in the type tag.
func EncodeClient(m ClientMessage) ([]byte, error) {
	switch msg := m.(type) {
	case *JoinRoom:
		return json.Marshal(struct {
			Type string `json:"type"`
			*JoinRoom
		}{TypeJoinRoom, msg})
	case *LeaveRoom:
		return json.Marshal(envelope{TypeLeaveRoom})
	case *PresenceUpdate:
		return json.Marshal(struct {
			Type string `json:"type"`
			*PresenceUpdate
		}{TypePresenceUpdate, msg})
	case *MergeInitiate:
		return json.Marshal(struct {
			Type string `json:"type"`
			*MergeInitiate
		}{TypeMergeInitiate, msg})
	case *MergeRelease:
		return json.Marshal(envelope{TypeMergeRelease})
	case *Ready:
		return json.Marshal(envelope{TypeReady})
	default:
		return nil, fmt.Errorf("unencodable client message %T", m)
	}
}

// EncodeServer serializes one server frame, splicing in the type tag.
func EncodeServer(m ServerMessage) ([]byte, error) {
	switch msg := m.(type) {
	case *Welcome:
		w := *msg
		if w.Participants == nil {
			w.Participants = []string{}
		}
		return json.Marshal(struct {
			Type string `json:"type"`
			*Welcome
		}{TypeWelcome, &w})
	case *UserJoined:
		return json.Marshal(struct {
			Type string `json:"type"`
			*UserJoined
		}{TypeUserJoined, msg})
	case *UserLeft:
		return json.Marshal(struct {
			Type string `json:"type"`
			*UserLeft
		}{TypeUserLeft, msg})
	case *RemotePresenceUpdate:
		return json.Marshal(struct {
			Type string `json:"type"`
			*RemotePresenceUpdate
		}{TypeRemotePresenceUpdate, msg})
	case *PhaseChange:
		return json.Marshal(struct {
			Type string `json:"type"`
			*PhaseChange
		}{TypePhaseChange, msg})
	case *CeremonyStart:
		return json.Marshal(struct {
			Type string `json:"type"`
			*CeremonyStart
		}{TypeCeremonyStart, msg})
	case *MergeConfirm:
		return json.Marshal(struct {
			Type string `json:"type"`
			*MergeConfirm
		}{TypeMergeConfirm, msg})
	case *MergeDeny:
		return json.Marshal(envelope{TypeMergeDeny})
	case *Error:
		return json.Marshal(struct {
			Type string `json:"type"`
			*Error
		}{TypeError, msg})
	default:
		return nil, fmt.Errorf("unencodable server message %T", m)
	}
}
