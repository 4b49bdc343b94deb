package sync

import (
	"encoding/json"
	"errors"

	"github.com/marcus/evstream/internal/event"
)

// Phase is where a connection is in its lifecycle.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnected          // connected, replaying history if subscribed
	PhaseLive               // EOSE seen
)

func (p Phase) String() string {
	switch p {
	case PhaseConnected:
		return "connected"
	case PhaseLive:
		return "live"
	default:
		return "disconnected"
	}
}

// Inbound is a downloaded event to mark and ingest.
type Inbound struct {
	ID      string
	Payload json.RawMessage
}

// Rejection is an OK frame with a false flag.
type Rejection struct {
	ID      string
	Message string
}

// Effects is what the runner must do after a transition. Fields are
// independent; at most one of Ingest, Rejected, Notice or Unexpected is set
// per frame.
type Effects struct {
	Send       [][]byte
	Ingest     *Inbound
	Rejected   *Rejection
	Notice     string
	Unexpected bool // EVENT received on an upload-only connection
	Live       bool // EOSE received
}

// Machine is the per-connection protocol state. Transitions are pure: they
// return the next Machine and the effects to apply, and never touch the
// network or shared state.
type Machine struct {
	Role   Role
	Peer   Peer
	SubID  string
	Phase  Phase
	Frames int64
}

// NewMachine returns a disconnected machine.
func NewMachine(role Role, peer Peer, subID string) Machine {
	return Machine{Role: role, Peer: peer, SubID: subID}
}

// Connected is the transition on connection establishment. Downloading roles
// send their subscription; upload-only roles send nothing.
func (m Machine) Connected() (Machine, Effects) {
	m.Phase = PhaseConnected
	var eff Effects
	if d, ok := m.Role.(Downloader); ok {
		eff.Send = append(eff.Send, d.SubscribeFrame(m.SubID))
	}
	return m, eff
}

// Disconnected is the transition when the transport drops.
func (m Machine) Disconnected() Machine {
	m.Phase = PhaseDisconnected
	return m
}

// Handle processes one inbound frame. A non-nil error is a *ProtocolError
// and ends the connection.
func (m Machine) Handle(data []byte) (Machine, Effects, error) {
	m.Frames++
	var eff Effects

	env, err := parseEnvelope(data)
	if err != nil {
		return m, eff, m.protocolError(err.Error(), data)
	}

	switch env.Tag {
	case TagEOSE:
		m.Phase = PhaseLive
		eff.Live = true

	case TagNotice:
		var text string
		if err := json.Unmarshal(env.Elems[1], &text); err != nil {
			text = string(env.Elems[1])
		}
		eff.Notice = text

	case TagOK:
		if len(env.Elems) < 3 {
			return m, eff, m.protocolError("array too short", data)
		}
		var accepted bool
		if err := json.Unmarshal(env.Elems[2], &accepted); err != nil {
			return m, eff, m.protocolError("OK flag is not a boolean", data)
		}
		if !accepted {
			rej := &Rejection{}
			if err := json.Unmarshal(env.Elems[1], &rej.ID); err != nil {
				rej.ID = string(env.Elems[1])
			}
			if len(env.Elems) > 3 {
				if err := json.Unmarshal(env.Elems[3], &rej.Message); err != nil {
					rej.Message = string(env.Elems[3])
				}
			}
			eff.Rejected = rej
		}

	case TagEvent:
		if _, ok := m.Role.(Downloader); !ok {
			eff.Unexpected = true
			break
		}
		if len(env.Elems) < 3 {
			return m, eff, m.protocolError("array too short", data)
		}
		id, err := eventID(env.Elems[2])
		if err != nil {
			return m, eff, m.protocolError(err.Error(), data)
		}
		eff.Ingest = &Inbound{ID: id, Payload: env.Elems[2]}

	default:
		return m, eff, m.protocolError("unexpected first element", data)
	}

	return m, eff, nil
}

func (m Machine) protocolError(reason string, data []byte) error {
	return &ProtocolError{Peer: m.Peer.Name, Reason: reason, Frame: truncateFrame(data)}
}

var (
	errEventMalformed = errors.New("event object is malformed")
	errEventNoID      = errors.New("event has no string id")
	errEventBadID     = errors.New("event id is not 64 hex characters")
)

// eventID extracts and validates the id field of an event object.
func eventID(raw json.RawMessage) (string, error) {
	var head struct {
		ID *string `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", errEventMalformed
	}
	if head.ID == nil {
		return "", errEventNoID
	}
	if !event.ValidID(*head.ID) {
		return "", errEventBadID
	}
	return *head.ID, nil
}
