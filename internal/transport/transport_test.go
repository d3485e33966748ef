package transport

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/peer"
)

func TestChannelStateMapping(t *testing.T) {
	cases := map[webrtc.DataChannelState]peer.ChannelState{
		webrtc.DataChannelStateUnknown:    peer.ChannelAbsent,
		webrtc.DataChannelStateConnecting: peer.ChannelConnecting,
		webrtc.DataChannelStateOpen:       peer.ChannelOpen,
		webrtc.DataChannelStateClosing:    peer.ChannelClosing,
		webrtc.DataChannelStateClosed:     peer.ChannelClosed,
	}
	for in, want := range cases {
		assert.Equal(t, want, channelState(in), in.String())
	}
}

func TestICEServers(t *testing.T) {
	got := iceServers(config.ICEConfig{Servers: []config.ICEServer{
		{URLs: []string{"stun:stun.example.org:3478"}},
		{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "p"},
	}})

	if assert.Len(t, got, 2) {
		assert.Nil(t, got[0].Credential)
		assert.Equal(t, "u", got[1].Username)
		assert.Equal(t, "p", got[1].Credential)
	}
	assert.Empty(t, iceServers(config.ICEConfig{}))
}

func TestCreateDataChannelOnce(t *testing.T) {
	f := NewFactory(config.Default())
	neg, err := f.New(nopEvents{})
	if !assert.NoError(t, err) {
		return
	}
	defer neg.Close()

	assert.NoError(t, neg.CreateDataChannel("a"))
	assert.ErrorIs(t, neg.CreateDataChannel("b"), errChannelExists)

	offer, err := neg.CreateOffer()
	assert.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=application")

	assert.NoError(t, neg.Close())
	assert.NoError(t, neg.Close())
}

func TestChannelSendBeforeOpen(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if !assert.NoError(t, err) {
		return
	}
	defer pc.Close()

	dc, err := newDataChannel(pc, "x", true)
	if !assert.NoError(t, err) {
		return
	}

	ch := newChannel(dc, 1)
	assert.Equal(t, peer.ChannelConnecting, ch.State())
	assert.Equal(t, "x", dc.Label())
	assert.ErrorIs(t, ch.Send([]byte("hi")), errChannelNotOpen)
}

type nopEvents struct{}

func (nopEvents) LocalCandidate(webrtc.ICECandidateInit)            {}
func (nopEvents) ConnectionStateChanged(webrtc.PeerConnectionState) {}
func (nopEvents) ICEStateChanged(webrtc.ICEConnectionState)         {}
func (nopEvents) ChannelOpened(peer.Channel)                        {}
func (nopEvents) ChannelClosed()                                    {}
func (nopEvents) Message([]byte)                                    {}
