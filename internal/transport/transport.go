// Package transport implements peer.Negotiator on top of pion/webrtc: one
// PeerConnection plus the single DataChannel carried over it.
package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/peer"
	"github.com/1ureka/peerlink/internal/util"
)

var errChannelExists = errors.New("data channel already created")

// Factory creates pion-backed sessions sharing one configuration.
type Factory struct {
	api     *webrtc.API
	servers []webrtc.ICEServer
	channel config.ChannelConfig
}

// NewFactory prepares a Factory from the ICE and channel sections of cfg.
func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		api:     newAPI(cfg.ICE),
		servers: iceServers(cfg.ICE),
		channel: cfg.Channel,
	}
}

// New creates a Session reporting to events. It satisfies
// peer.NegotiatorFactory.
func (f *Factory) New(events peer.Events) (peer.Negotiator, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.servers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	s := &Session{pc: pc, channel: f.channel, events: events}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		events.LocalCandidate(c.ToJSON())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		events.ConnectionStateChanged(state)
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		events.ICEStateChanged(state)
	})

	// Callee side: adopt the first channel the Caller opens.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if !s.adopt(dc) {
			util.LogDebug("ignoring extra data channel %q", dc.Label())
			dc.Close()
		}
	})

	return s, nil
}

// Session wraps a single PeerConnection. Its callbacks feed peer.Events and
// it is discarded, never reused, once closed.
type Session struct {
	pc      *webrtc.PeerConnection
	channel config.ChannelConfig
	events  peer.Events

	mu     sync.Mutex
	dc     *webrtc.DataChannel
	closed bool
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (s *Session) CreateOffer() (webrtc.SessionDescription, error) {
	return s.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (s *Session) CreateAnswer() (webrtc.SessionDescription, error) {
	return s.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP and starts candidate gathering.
func (s *Session) SetLocalDescription(sd webrtc.SessionDescription) error {
	return s.pc.SetLocalDescription(sd)
}

// SetRemoteDescription applies the remote SDP.
func (s *Session) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return s.pc.SetRemoteDescription(sd)
}

// AddRemoteCandidate adds a remote ICE candidate received through signaling.
func (s *Session) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(c)
}

// CreateDataChannel opens the Caller's channel. It must precede CreateOffer
// so the offer carries an application section.
func (s *Session) CreateDataChannel(label string) error {
	dc, err := newDataChannel(s.pc, label, s.channel.Ordered)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	if !s.adopt(dc) {
		dc.Close()
		return errChannelExists
	}
	return nil
}

// Close shuts the PeerConnection down, closing its channel with it.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.pc.Close()
}

// ---------------------------------------------------------------------------
// Channel
// ---------------------------------------------------------------------------

// adopt makes dc the session's channel and wires its callbacks. It reports
// false if the session already has a channel or is closed.
func (s *Session) adopt(dc *webrtc.DataChannel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dc != nil || s.closed {
		return false
	}
	s.dc = dc

	ch := newChannel(dc, s.channel.HighWaterMark)
	dc.OnOpen(func() {
		s.events.ChannelOpened(ch)
	})
	dc.OnClose(func() {
		s.events.ChannelClosed()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.events.Message(msg.Data)
	})
	return true
}
