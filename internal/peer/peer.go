// Package peer implements the connection lifecycle for direct data channels
// to remote peers: role selection, offer/answer/candidate sequencing over the
// signaling relay, failure detection and Caller-driven reconnection.
//
// A Manager owns every peer and runs all transitions on a single event loop.
// Callbacks from the WebRTC stack are delivered to the loop as events tagged
// with the session that produced them; events from a superseded session are
// discarded.
package peer

import (
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/signaling"
)

var (
	// ErrNotReady is returned by Send when the channel is not open. The
	// payload is dropped and a reconnect may have been started.
	ErrNotReady = errors.New("data channel not open")

	// ErrUnknownPeer is returned for a PeerID the Manager does not track.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrClosed is returned once the Manager has stopped.
	ErrClosed = errors.New("peer manager closed")
)

// Role is the side a peer plays in one negotiation attempt.
type Role int

const (
	RoleCaller Role = iota // creates the data channel and the offer
	RoleCallee             // waits for the remote offer and answers
)

func (r Role) String() string {
	if r == RoleCaller {
		return "caller"
	}
	return "callee"
}

// State is the lifecycle state of a peer.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelState is the readiness of a data channel.
type ChannelState int

const (
	ChannelAbsent ChannelState = iota
	ChannelConnecting
	ChannelOpen
	ChannelClosing
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelAbsent:
		return "absent"
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is the established bidirectional byte stream. Send is best-effort
// and must not block.
type Channel interface {
	State() ChannelState
	Send(data []byte) error
	Close() error
}

// Events receives callbacks from a Negotiator. Implementations may be called
// from any goroutine.
type Events interface {
	LocalCandidate(webrtc.ICECandidateInit)
	ConnectionStateChanged(webrtc.PeerConnectionState)
	ICEStateChanged(webrtc.ICEConnectionState)
	ChannelOpened(Channel)
	ChannelClosed()
	Message(data []byte)
}

// Negotiator is one WebRTC session: a peer connection plus at most one data
// channel.
type Negotiator interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddRemoteCandidate(webrtc.ICECandidateInit) error
	CreateDataChannel(label string) error
	Close() error
}

// NegotiatorFactory creates a Negotiator that reports to events.
type NegotiatorFactory func(events Events) (Negotiator, error)

// SignalSender delivers outbound signals to the relay.
type SignalSender interface {
	SendSignal(signaling.Message) error
}
