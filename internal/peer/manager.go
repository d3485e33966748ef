package peer

import (
	"context"
	"time"

	"github.com/1ureka/peerlink/internal/signaling"
	"github.com/1ureka/peerlink/internal/util"
)

// Options wires a Manager to its collaborators.
type Options struct {
	Signal        SignalSender      // required
	NewNegotiator NegotiatorFactory // required
	Policy        Policy
	Label         string // data channel label used by Callers
	Observer      util.Observer

	// OnMessage receives every inbound data channel payload. It runs on the
	// Manager's loop and must not call back into the Manager synchronously.
	OnMessage func(from signaling.PeerID, data []byte)
}

// Manager owns one peer per PeerID. All exported methods are safe for
// concurrent use; the work itself runs on the Manager's single loop.
type Manager struct {
	opts   Options
	loop   *loop
	cancel context.CancelFunc

	// Loop-owned.
	peers   map[signaling.PeerID]*peer
	localID signaling.PeerID
}

// peer is the loop-owned record for one remote PeerID.
type peer struct {
	id    signaling.PeerID
	role  Role
	state State
	sess  *session

	attempts int // reconnects since the channel was last open
	errors   int // negotiation errors since the channel was last open

	retry    *time.Timer
	retryGen uint64
}

// NewManager starts a Manager. It stops, closing every peer, when ctx is
// cancelled or Close is called.
func NewManager(ctx context.Context, opts Options) *Manager {
	if opts.Observer == nil {
		opts.Observer = util.LogObserver
	}
	if opts.Label == "" {
		opts.Label = "data-channel"
	}

	mCtx, cancel := context.WithCancel(ctx)
	m := &Manager{
		opts:   opts,
		loop:   newLoop(),
		cancel: cancel,
		peers:  make(map[signaling.PeerID]*peer),
	}

	go m.loop.run(mCtx, m.shutdown)

	return m
}

// call runs fn on the loop and waits for it.
func (m *Manager) call(fn func()) error {
	done := make(chan struct{})
	if !m.loop.post(func() {
		fn()
		close(done)
	}) {
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-m.loop.done:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close stops the loop and releases every session.
func (m *Manager) Close() {
	m.cancel()
	<-m.loop.done
}

// Done is closed once the Manager has stopped.
func (m *Manager) Done() <-chan struct{} {
	return m.loop.done
}

func (m *Manager) shutdown() {
	for _, p := range m.peers {
		m.close(p, "manager stopped")
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// SetLocalID records the PeerID the relay assigned to this endpoint. It is
// used to break ties when both sides offer at once.
func (m *Manager) SetLocalID(id signaling.PeerID) {
	m.loop.post(func() { m.localID = id })
}

// Connect starts a negotiation as Caller. It does nothing if the peer is
// already negotiating or connected.
func (m *Manager) Connect(id signaling.PeerID) error {
	return m.call(func() { m.connect(id) })
}

// HandleSignal queues an inbound signal. Signals are processed in the order
// HandleSignal is called; invalid messages are rejected here.
func (m *Manager) HandleSignal(msg signaling.Message) {
	if msg.Type != signaling.TypeSignal {
		return
	}
	if err := msg.Validate(); err != nil {
		m.opts.Observer.Observe(util.Event{
			Severity: util.SeverityWarn,
			Category: util.CategorySignaling,
			Peer:     string(msg.Sender),
			Message:  "rejected inbound signal",
			Err:      err,
		})
		return
	}
	m.loop.post(func() { m.handleSignal(msg) })
}

// Send hands data to the peer's open channel. When the channel is not open
// the data is dropped, ErrNotReady is returned and a new attempt is started
// unless one is already in progress.
func (m *Manager) Send(id signaling.PeerID, data []byte) error {
	var err error
	if cerr := m.call(func() { err = m.send(id, data) }); cerr != nil {
		return cerr
	}
	return err
}

// Discard closes the peer and forgets it.
func (m *Manager) Discard(id signaling.PeerID) error {
	var err error
	if cerr := m.call(func() {
		p := m.peers[id]
		if p == nil {
			err = ErrUnknownPeer
			return
		}
		m.close(p, "discarded")
	}); cerr != nil {
		return cerr
	}
	return err
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Status is a snapshot of one peer.
type Status struct {
	ID      signaling.PeerID
	Role    Role
	State   State
	Channel ChannelState
	Session string // current session id, empty without a live session
}

// Status returns a snapshot of the peer, or false if it is not tracked.
func (m *Manager) Status(id signaling.PeerID) (Status, bool) {
	var st Status
	var ok bool
	m.call(func() {
		p := m.peers[id]
		if p == nil {
			return
		}
		st, ok = p.status(), true
	})
	return st, ok
}

// Peers returns a snapshot of every tracked peer.
func (m *Manager) Peers() []Status {
	var out []Status
	m.call(func() {
		for _, p := range m.peers {
			out = append(out, p.status())
		}
	})
	return out
}

// IsOpen reports whether the peer's data channel is open.
func (m *Manager) IsOpen(id signaling.PeerID) bool {
	st, ok := m.Status(id)
	return ok && st.Channel == ChannelOpen
}

// IsConnecting reports whether a negotiation for the peer is in progress.
func (m *Manager) IsConnecting(id signaling.PeerID) bool {
	st, ok := m.Status(id)
	return ok && (st.State == StateNegotiating || st.Channel == ChannelConnecting)
}

func (p *peer) status() Status {
	st := Status{ID: p.id, Role: p.role, State: p.state, Channel: ChannelAbsent}
	if p.sess != nil {
		st.Session = p.sess.id
		if p.sess.channel != nil {
			st.Channel = p.sess.channel.State()
		}
	}
	return st
}
