// Package signaling carries SDP/ICE negotiation messages between peers through
// a stateless WebSocket relay. It provides the wire format, the reconnecting
// client used by peers and the relay server itself.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// PeerID is an opaque, relay-assigned identifier for a connected endpoint.
type PeerID string

// MessageType is the top-level discriminator of a wire message.
type MessageType string

const (
	TypeSignal MessageType = "signal" // negotiation payload addressed to a peer
	TypeHello  MessageType = "hello"  // relay → client, carries the assigned PeerID
)

// Kind identifies which negotiation step a signal message carries.
type Kind int

const (
	KindInvalid Kind = iota
	KindOffer
	KindAnswer
	KindCandidate
)

func (k Kind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindCandidate:
		return "candidate"
	default:
		return "invalid"
	}
}

// ErrMalformed is wrapped by every validation failure.
var ErrMalformed = errors.New("malformed signaling message")

// Message is the JSON structure exchanged with the relay.
//
// A signal carries exactly one of SDP or ICE. To is set by the sender, Sender
// is stamped by the relay and never trusted from the client.
type Message struct {
	Type   MessageType                `json:"type"`
	To     PeerID                     `json:"to,omitempty"`
	Sender PeerID                     `json:"sender,omitempty"`
	SDP    *webrtc.SessionDescription `json:"sdp,omitempty"`
	ICE    *webrtc.ICECandidateInit   `json:"ice,omitempty"`
	ID     PeerID                     `json:"id,omitempty"` // hello only
}

// NewDescription builds an outbound offer or answer for peer to.
func NewDescription(to PeerID, sd webrtc.SessionDescription) Message {
	return Message{Type: TypeSignal, To: to, SDP: &sd}
}

// NewCandidate builds an outbound ICE candidate message for peer to.
func NewCandidate(to PeerID, c webrtc.ICECandidateInit) Message {
	return Message{Type: TypeSignal, To: to, ICE: &c}
}

// Kind reports the negotiation step of a signal. It does not validate.
func (m Message) Kind() Kind {
	switch {
	case m.Type != TypeSignal:
		return KindInvalid
	case m.SDP != nil && m.ICE == nil:
		switch m.SDP.Type {
		case webrtc.SDPTypeOffer:
			return KindOffer
		case webrtc.SDPTypeAnswer:
			return KindAnswer
		}
	case m.ICE != nil && m.SDP == nil:
		return KindCandidate
	}
	return KindInvalid
}

// validateSignal checks the payload of a signal, ignoring addressing.
func (m Message) validateSignal() error {
	if m.SDP != nil && m.ICE != nil {
		return fmt.Errorf("%w: both sdp and ice present", ErrMalformed)
	}
	switch {
	case m.SDP != nil:
		if m.SDP.Type != webrtc.SDPTypeOffer && m.SDP.Type != webrtc.SDPTypeAnswer {
			return fmt.Errorf("%w: unsupported sdp type %q", ErrMalformed, m.SDP.Type.String())
		}
		if m.SDP.SDP == "" {
			return fmt.Errorf("%w: empty sdp", ErrMalformed)
		}
	case m.ICE != nil:
		if m.ICE.Candidate == "" {
			return fmt.Errorf("%w: empty ice candidate", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: neither sdp nor ice present", ErrMalformed)
	}
	return nil
}

// ValidateOutbound checks a message before it is written to the relay.
func (m Message) ValidateOutbound() error {
	if m.Type != TypeSignal {
		return fmt.Errorf("%w: unexpected type %q", ErrMalformed, m.Type)
	}
	if m.To == "" {
		return fmt.Errorf("%w: missing recipient", ErrMalformed)
	}
	return m.validateSignal()
}

// Validate checks a message received from the relay.
func (m Message) Validate() error {
	switch m.Type {
	case TypeHello:
		if m.ID == "" {
			return fmt.Errorf("%w: hello without id", ErrMalformed)
		}
		return nil
	case TypeSignal:
		if m.Sender == "" {
			return fmt.Errorf("%w: missing sender", ErrMalformed)
		}
		return m.validateSignal()
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
}

// Decode parses and validates an inbound wire message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}
