package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/signaling"
)

// sessionEvents is the Events sink handed to one Negotiator. Every callback
// is posted to the Manager's loop tagged with the session it came from.
type sessionEvents struct {
	m       *Manager
	peer    signaling.PeerID
	session string
}

func (e *sessionEvents) LocalCandidate(c webrtc.ICECandidateInit) {
	e.m.loop.post(func() { e.m.onLocalCandidate(e.peer, e.session, c) })
}

func (e *sessionEvents) ConnectionStateChanged(st webrtc.PeerConnectionState) {
	e.m.loop.post(func() { e.m.onConnectionState(e.peer, e.session, st) })
}

func (e *sessionEvents) ICEStateChanged(st webrtc.ICEConnectionState) {
	e.m.loop.post(func() { e.m.onICEState(e.peer, e.session, st) })
}

func (e *sessionEvents) ChannelOpened(ch Channel) {
	e.m.loop.post(func() { e.m.onChannelOpened(e.peer, e.session, ch) })
}

func (e *sessionEvents) ChannelClosed() {
	e.m.loop.post(func() { e.m.onChannelClosed(e.peer, e.session) })
}

func (e *sessionEvents) Message(data []byte) {
	e.m.loop.post(func() { e.m.onMessage(e.peer, e.session, data) })
}
