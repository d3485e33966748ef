package signaling_test

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/peerlink/internal/signaling"
)

func TestDecodeKinds(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		kind signaling.Kind
	}{
		{"offer", `{"type":"signal","sender":"a","sdp":{"type":"offer","sdp":"v=0"}}`, signaling.KindOffer},
		{"answer", `{"type":"signal","sender":"a","sdp":{"type":"answer","sdp":"v=0"}}`, signaling.KindAnswer},
		{"candidate", `{"type":"signal","sender":"a","ice":{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}`, signaling.KindCandidate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := signaling.Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.kind, msg.Kind())
			assert.Equal(t, signaling.PeerID("a"), msg.Sender)
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{`,
		"unknown type":   `{"type":"peers"}`,
		"no sender":      `{"type":"signal","sdp":{"type":"offer","sdp":"v=0"}}`,
		"empty payload":  `{"type":"signal","sender":"a"}`,
		"both payloads":  `{"type":"signal","sender":"a","sdp":{"type":"offer","sdp":"v=0"},"ice":{"candidate":"x"}}`,
		"pranswer":       `{"type":"signal","sender":"a","sdp":{"type":"pranswer","sdp":"v=0"}}`,
		"bogus sdp type": `{"type":"signal","sender":"a","sdp":{"type":"nope","sdp":"v=0"}}`,
		"empty sdp":      `{"type":"signal","sender":"a","sdp":{"type":"offer","sdp":""}}`,
		"empty ice":      `{"type":"signal","sender":"a","ice":{"candidate":""}}`,
		"hello no id":    `{"type":"hello"}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := signaling.Decode([]byte(raw))
			assert.ErrorIs(t, err, signaling.ErrMalformed)
		})
	}
}

func TestDecodeHello(t *testing.T) {
	msg, err := signaling.Decode([]byte(`{"type":"hello","id":"me"}`))
	require.NoError(t, err)
	assert.Equal(t, signaling.TypeHello, msg.Type)
	assert.Equal(t, signaling.PeerID("me"), msg.ID)
	assert.Equal(t, signaling.KindInvalid, msg.Kind())
}

func TestOutboundWireShape(t *testing.T) {
	msg := signaling.NewDescription("peerB", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	require.NoError(t, msg.ValidateOutbound())

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "signal", wire["type"])
	assert.Equal(t, "peerB", wire["to"])
	assert.NotContains(t, wire, "sender")
	assert.NotContains(t, wire, "ice")
	assert.Equal(t, map[string]any{"type": "offer", "sdp": "v=0"}, wire["sdp"])
}

func TestValidateOutboundNeedsRecipient(t *testing.T) {
	msg := signaling.NewCandidate("", webrtc.ICECandidateInit{Candidate: "candidate:1"})
	assert.ErrorIs(t, msg.ValidateOutbound(), signaling.ErrMalformed)
}
