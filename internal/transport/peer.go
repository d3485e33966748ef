package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/config"
)

// iceServers converts configured STUN/TURN servers to pion's form.
func iceServers(cfg config.ICEConfig) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers
}

// newAPI builds the pion API shared by every PeerConnection of a Factory.
func newAPI(cfg config.ICEConfig) *webrtc.API {
	var se webrtc.SettingEngine
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

// newDataChannel creates the Caller's in-band negotiated DataChannel. The
// Callee receives it through OnDataChannel.
func newDataChannel(pc *webrtc.PeerConnection, label string, ordered bool) (*webrtc.DataChannel, error) {
	return pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
}
