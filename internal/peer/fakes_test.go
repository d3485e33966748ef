package peer_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/peer"
	"github.com/1ureka/peerlink/internal/signaling"
	"github.com/1ureka/peerlink/internal/util"
)

// Compile-time interface checks.
var (
	_ peer.Negotiator   = (*fakeNegotiator)(nil)
	_ peer.Channel      = (*fakeChannel)(nil)
	_ peer.SignalSender = (*fakeSignal)(nil)
)

// ---------------------------------------------------------------------------
// Signal sender
// ---------------------------------------------------------------------------

// fakeSignal records every outbound signal.
type fakeSignal struct {
	mu   sync.Mutex
	sent []signaling.Message
}

func (f *fakeSignal) SendSignal(msg signaling.Message) error {
	if err := msg.ValidateOutbound(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSignal) Sent() []signaling.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]signaling.Message(nil), f.sent...)
}

// Count returns how many signals of kind were sent to peer.
func (f *fakeSignal) Count(to signaling.PeerID, kind signaling.Kind) int {
	n := 0
	for _, m := range f.Sent() {
		if m.To == to && m.Kind() == kind {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Channel
// ---------------------------------------------------------------------------

type fakeChannel struct {
	mu    sync.Mutex
	state peer.ChannelState
	sent  [][]byte
}

func newOpenChannel() *fakeChannel {
	return &fakeChannel{state: peer.ChannelOpen}
}

func (c *fakeChannel) State() peer.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) SetState(st peer.ChannelState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = st
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != peer.ChannelOpen {
		return errors.New("channel not open")
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeChannel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeChannel) Close() error {
	c.SetState(peer.ChannelClosed)
	return nil
}

// ---------------------------------------------------------------------------
// Negotiator
// ---------------------------------------------------------------------------

// fakeNegotiator records calls; tests drive its Events directly.
type fakeNegotiator struct {
	events peer.Events
	seq    int

	mu         sync.Mutex
	calls      []string
	remote     []webrtc.SessionDescription
	candidates []string
	closed     bool
	failRemote error
}

func (n *fakeNegotiator) record(call string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call)
}

func (n *fakeNegotiator) CreateOffer() (webrtc.SessionDescription, error) {
	n.record("CreateOffer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", n.seq)}, nil
}

func (n *fakeNegotiator) CreateAnswer() (webrtc.SessionDescription, error) {
	n.record("CreateAnswer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", n.seq)}, nil
}

func (n *fakeNegotiator) SetLocalDescription(webrtc.SessionDescription) error {
	n.record("SetLocalDescription")
	return nil
}

func (n *fakeNegotiator) SetRemoteDescription(sd webrtc.SessionDescription) error {
	n.record("SetRemoteDescription")
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failRemote != nil {
		return n.failRemote
	}
	n.remote = append(n.remote, sd)
	return nil
}

func (n *fakeNegotiator) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	n.record("AddRemoteCandidate")
	n.mu.Lock()
	defer n.mu.Unlock()
	n.candidates = append(n.candidates, c.Candidate)
	return nil
}

func (n *fakeNegotiator) CreateDataChannel(label string) error {
	n.record("CreateDataChannel:" + label)
	return nil
}

func (n *fakeNegotiator) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func (n *fakeNegotiator) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

func (n *fakeNegotiator) Remote() []webrtc.SessionDescription {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), n.remote...)
}

func (n *fakeNegotiator) Candidates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.candidates...)
}

func (n *fakeNegotiator) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// fakeFactory hands out fakeNegotiators and keeps them all.
type fakeFactory struct {
	mu         sync.Mutex
	sessions   []*fakeNegotiator
	failRemote error
	err        error
}

func (f *fakeFactory) New(events peer.Events) (peer.Negotiator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	n := &fakeNegotiator{events: events, seq: len(f.sessions), failRemote: f.failRemote}
	f.sessions = append(f.sessions, n)
	return n, nil
}

func (f *fakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) Last() *fakeNegotiator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[len(f.sessions)-1]
}

func (f *fakeFactory) Get(i int) *fakeNegotiator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

// Live counts negotiators that have not been closed.
func (f *fakeFactory) Live() int {
	f.mu.Lock()
	sessions := append([]*fakeNegotiator(nil), f.sessions...)
	f.mu.Unlock()

	n := 0
	for _, s := range sessions {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Observer
// ---------------------------------------------------------------------------

type recorder struct {
	mu     sync.Mutex
	events []util.Event
}

func (r *recorder) Observe(e util.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Count(cat util.Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Category == cat {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

// testPolicy retries once immediately and then effectively never.
func testPolicy() peer.Policy {
	return peer.Policy{
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Multiplier:   2,
	}
}

type harness struct {
	m   *peer.Manager
	sig *fakeSignal
	fac *fakeFactory
	obs *recorder

	mu   sync.Mutex
	recv []string
}

func newHarness(t *testing.T, policy peer.Policy) *harness {
	t.Helper()

	h := &harness{sig: &fakeSignal{}, fac: &fakeFactory{}, obs: &recorder{}}
	h.m = peer.NewManager(context.Background(), peer.Options{
		Signal:        h.sig,
		NewNegotiator: h.fac.New,
		Policy:        policy,
		Label:         "test",
		Observer:      h.obs,
		OnMessage: func(from signaling.PeerID, data []byte) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.recv = append(h.recv, string(from)+":"+string(data))
		},
	})
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) Received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.recv...)
}

func (h *harness) status(t *testing.T, id signaling.PeerID) peer.Status {
	t.Helper()
	st, ok := h.m.Status(id)
	if !ok {
		t.Fatalf("peer %s not tracked", id)
	}
	return st
}

// connected drives a Caller through offer/answer/open and returns its channel.
func (h *harness) connected(t *testing.T, id signaling.PeerID) (*fakeNegotiator, *fakeChannel) {
	t.Helper()

	if err := h.m.Connect(id); err != nil {
		t.Fatal(err)
	}
	h.m.HandleSignal(answerFrom(id))
	h.m.Settle()

	neg := h.fac.Last()
	ch := newOpenChannel()
	neg.events.ChannelOpened(ch)
	h.m.Settle()
	return neg, ch
}

// ---------------------------------------------------------------------------
// Message builders
// ---------------------------------------------------------------------------

func offerFrom(id signaling.PeerID) signaling.Message {
	return signaling.Message{
		Type:   signaling.TypeSignal,
		Sender: id,
		SDP:    &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"},
	}
}

func answerFrom(id signaling.PeerID) signaling.Message {
	return signaling.Message{
		Type:   signaling.TypeSignal,
		Sender: id,
		SDP:    &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"},
	}
}

func iceFrom(id signaling.PeerID, candidate string) signaling.Message {
	return signaling.Message{
		Type:   signaling.TypeSignal,
		Sender: id,
		ICE:    &webrtc.ICECandidateInit{Candidate: candidate},
	}
}
