package peer

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/signaling"
	"github.com/1ureka/peerlink/internal/util"
)

var errUnexpectedAnswer = errors.New("answer without a pending local offer")

// session is one negotiation attempt: at most one per peer is live.
type session struct {
	id      string
	neg     Negotiator
	channel Channel // set once the channel reports open

	offered   bool // our offer is the local description
	remoteSet bool // a remote description has been applied
	pending   []webrtc.ICECandidateInit

	timeout *time.Timer
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

func (m *Manager) newPeer(id signaling.PeerID) *peer {
	p := &peer{id: id, state: StateIdle}
	m.peers[id] = p
	return p
}

func (m *Manager) setState(p *peer, st State) {
	if p.state == st {
		return
	}
	old := p.state
	p.state = st
	m.observe(p, util.SeverityInfo, util.CategoryStateChange,
		fmt.Sprintf("%s → %s (%s)", old, st, p.role), nil)
}

func (m *Manager) connect(id signaling.PeerID) {
	p := m.peers[id]
	if p == nil {
		p = m.newPeer(id)
	}
	if p.state == StateNegotiating || p.state == StateConnected {
		return
	}
	m.start(p, RoleCaller)
}

// start supersedes any live session with a new one in the given role. A
// Caller immediately creates the data channel and sends an offer; a Callee
// waits for one.
func (m *Manager) start(p *peer, role Role) {
	m.teardown(p)
	p.role = role

	sess := &session{id: uuid.NewString()}
	neg, err := m.opts.NewNegotiator(&sessionEvents{m: m, peer: p.id, session: sess.id})
	if err != nil {
		m.negotiationError(p, "failed to create session", err)
		if p.state != StateClosed {
			m.lost(p, "session setup failed", err)
		}
		return
	}

	sess.neg = neg
	p.sess = sess
	util.Stats.AddSession()
	m.setState(p, StateNegotiating)

	if d := m.opts.Policy.NegotiationTimeout; d > 0 {
		id, sid := p.id, sess.id
		sess.timeout = time.AfterFunc(d, func() {
			m.loop.post(func() { m.onNegotiationTimeout(id, sid) })
		})
	}

	if role == RoleCaller {
		if err := neg.CreateDataChannel(m.opts.Label); err != nil {
			m.negotiationError(p, "failed to create data channel", err)
			return
		}
		m.sendOffer(p, sess)
	}
}

// teardown releases the live session and cancels a pending retry.
func (m *Manager) teardown(p *peer) {
	if p.retry != nil {
		p.retry.Stop()
		p.retry = nil
	}
	p.retryGen++

	sess := p.sess
	if sess == nil {
		return
	}
	p.sess = nil

	if sess.timeout != nil {
		sess.timeout.Stop()
	}
	if err := sess.neg.Close(); err != nil {
		m.observeSession(p, sess, util.SeverityDebug, util.CategoryTransportFailure, "session close failed", err)
	}
}

// lost moves a peer to Reconnecting. Only a Caller schedules a new attempt;
// a Callee waits for the remote Caller's next offer.
func (m *Manager) lost(p *peer, reason string, err error) {
	m.teardown(p)
	m.observe(p, util.SeverityWarn, util.CategoryTransportFailure, reason, err)
	m.setState(p, StateReconnecting)

	if p.role == RoleCaller {
		m.scheduleRetry(p)
	}
}

func (m *Manager) scheduleRetry(p *peer) {
	p.attempts++
	if limit := m.opts.Policy.MaxAttempts; limit > 0 && p.attempts > limit {
		m.close(p, "reconnect attempts exhausted")
		return
	}

	delay := m.opts.Policy.Delay(p.attempts)
	m.observe(p, util.SeverityInfo, util.CategoryReconnectAttempt,
		fmt.Sprintf("reconnect attempt %d in %s", p.attempts, delay), nil)
	util.Stats.AddReconnect()

	id, gen := p.id, p.retryGen
	retry := func() { m.retryNow(id, gen) }
	if delay <= 0 {
		m.loop.post(retry)
		return
	}
	p.retry = time.AfterFunc(delay, func() { m.loop.post(retry) })
}

func (m *Manager) retryNow(id signaling.PeerID, gen uint64) {
	p := m.peers[id]
	if p == nil || p.retryGen != gen || p.state != StateReconnecting {
		return
	}
	p.retry = nil
	m.start(p, RoleCaller)
}

// close releases the peer for good and forgets it.
func (m *Manager) close(p *peer, reason string) {
	m.teardown(p)
	m.setState(p, StateClosed)
	m.observe(p, util.SeverityInfo, util.CategoryStateChange, reason, nil)
	delete(m.peers, p.id)
}

// negotiationError records a soft failure. The connection is kept unless the
// error budget is exhausted, in which case the peer is closed.
func (m *Manager) negotiationError(p *peer, msg string, err error) {
	p.errors++
	m.observeSession(p, p.sess, util.SeverityWarn, util.CategoryNegotiationError, msg, err)

	if budget := m.opts.Policy.ErrorBudget; budget > 0 && p.errors > budget {
		m.close(p, "negotiation error budget exceeded")
	}
}

// refresh starts a new attempt with the existing role unless one is already
// negotiating or open.
func (m *Manager) refresh(p *peer) {
	if p.state == StateNegotiating {
		return
	}
	if p.sess != nil && p.sess.channel != nil && p.sess.channel.State() == ChannelOpen {
		return
	}
	m.observe(p, util.SeverityInfo, util.CategoryReconnectAttempt, "send on closed channel, refreshing", nil)
	util.Stats.AddReconnect()
	m.start(p, p.role)
}

func (m *Manager) send(id signaling.PeerID, data []byte) error {
	p := m.peers[id]
	if p == nil {
		return ErrUnknownPeer
	}

	if p.sess != nil && p.sess.channel != nil && p.sess.channel.State() == ChannelOpen {
		if err := p.sess.channel.Send(data); err != nil {
			return fmt.Errorf("send to %s: %w", id, err)
		}
		util.Stats.AddSent(len(data))
		return nil
	}

	m.refresh(p)
	return ErrNotReady
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

func (m *Manager) signal(p *peer, msg signaling.Message) {
	if err := m.opts.Signal.SendSignal(msg); err != nil {
		m.observe(p, util.SeverityWarn, util.CategorySignaling, "failed to send signal", err)
	}
}

func (m *Manager) sendOffer(p *peer, sess *session) {
	offer, err := sess.neg.CreateOffer()
	if err != nil {
		m.negotiationError(p, "CreateOffer failed", err)
		return
	}
	if err := sess.neg.SetLocalDescription(offer); err != nil {
		m.negotiationError(p, "SetLocalDescription failed", err)
		return
	}
	sess.offered = true
	m.signal(p, signaling.NewDescription(p.id, offer))
}

func (m *Manager) handleSignal(msg signaling.Message) {
	util.Stats.AddSignalRecv()

	p := m.peers[msg.Sender]
	if p == nil {
		p = m.newPeer(msg.Sender)
	}

	if p.sess == nil {
		// A Caller waiting to retry only yields to a fresh offer; anything
		// else belongs to the session it already tore down.
		if p.state == StateReconnecting && p.role == RoleCaller && msg.Kind() != signaling.KindOffer {
			m.observe(p, util.SeverityDebug, util.CategorySignaling, "dropping "+msg.Kind().String()+" while awaiting retry", nil)
			return
		}
		m.start(p, RoleCallee)
		if p.sess == nil {
			return
		}
	}

	switch msg.Kind() {
	case signaling.KindOffer:
		m.onOffer(p, *msg.SDP)
	case signaling.KindAnswer:
		m.onAnswer(p, *msg.SDP)
	case signaling.KindCandidate:
		m.onCandidate(p, *msg.ICE)
	}
}

func (m *Manager) onOffer(p *peer, offer webrtc.SessionDescription) {
	sess := p.sess

	switch {
	case sess.offered && !sess.remoteSet:
		// Both sides offered. The lower id yields and answers instead.
		if m.localID != "" && m.localID > p.id {
			m.observe(p, util.SeverityInfo, util.CategorySignaling, "offer collision, keeping local offer", nil)
			return
		}
		m.observe(p, util.SeverityInfo, util.CategorySignaling, "offer collision, yielding to remote offer", nil)
		m.start(p, RoleCallee)
	case sess.remoteSet:
		// The remote Caller started over; supersede the old session.
		m.start(p, RoleCallee)
	}

	sess = p.sess
	if sess == nil {
		return
	}

	if err := sess.neg.SetRemoteDescription(offer); err != nil {
		m.negotiationError(p, "SetRemoteDescription(offer) failed", err)
		return
	}
	sess.remoteSet = true
	if !m.flushCandidates(p, sess) {
		return
	}

	answer, err := sess.neg.CreateAnswer()
	if err != nil {
		m.negotiationError(p, "CreateAnswer failed", err)
		return
	}
	if err := sess.neg.SetLocalDescription(answer); err != nil {
		m.negotiationError(p, "SetLocalDescription failed", err)
		return
	}
	m.signal(p, signaling.NewDescription(p.id, answer))
}

func (m *Manager) onAnswer(p *peer, answer webrtc.SessionDescription) {
	sess := p.sess
	if !sess.offered || sess.remoteSet {
		m.negotiationError(p, "unexpected answer", errUnexpectedAnswer)
		return
	}

	if err := sess.neg.SetRemoteDescription(answer); err != nil {
		m.negotiationError(p, "SetRemoteDescription(answer) failed", err)
		return
	}
	sess.remoteSet = true
	m.flushCandidates(p, sess)
}

// onCandidate applies a remote candidate, buffering it until a remote
// description exists.
func (m *Manager) onCandidate(p *peer, c webrtc.ICECandidateInit) {
	sess := p.sess
	if !sess.remoteSet {
		sess.pending = append(sess.pending, c)
		return
	}
	if err := sess.neg.AddRemoteCandidate(c); err != nil {
		m.negotiationError(p, "AddICECandidate failed", err)
	}
}

// flushCandidates applies buffered candidates in arrival order. It returns
// false if the session did not survive.
func (m *Manager) flushCandidates(p *peer, sess *session) bool {
	pending := sess.pending
	sess.pending = nil

	for _, c := range pending {
		if err := sess.neg.AddRemoteCandidate(c); err != nil {
			m.negotiationError(p, "AddICECandidate failed", err)
			if p.sess != sess {
				return false
			}
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Session events
// ---------------------------------------------------------------------------

// current resolves a tagged event to its peer and session, or nil when the
// session has been superseded.
func (m *Manager) current(id signaling.PeerID, sid string) (*peer, *session) {
	p := m.peers[id]
	if p == nil || p.sess == nil || p.sess.id != sid {
		m.opts.Observer.Observe(util.Event{
			Severity: util.SeverityDebug,
			Category: util.CategoryStateChange,
			Peer:     string(id),
			Session:  sid,
			Message:  "dropping event from stale session",
		})
		return nil, nil
	}
	return p, p.sess
}

func (m *Manager) onLocalCandidate(id signaling.PeerID, sid string, c webrtc.ICECandidateInit) {
	p, _ := m.current(id, sid)
	if p == nil {
		return
	}
	m.signal(p, signaling.NewCandidate(p.id, c))
}

func (m *Manager) onChannelOpened(id signaling.PeerID, sid string, ch Channel) {
	p, sess := m.current(id, sid)
	if p == nil {
		ch.Close()
		return
	}

	sess.channel = ch
	if sess.timeout != nil {
		sess.timeout.Stop()
		sess.timeout = nil
	}
	p.attempts = 0
	p.errors = 0
	m.setState(p, StateConnected)
}

func (m *Manager) onChannelClosed(id signaling.PeerID, sid string) {
	p, _ := m.current(id, sid)
	if p == nil {
		return
	}
	m.lost(p, "data channel closed", nil)
}

func (m *Manager) onConnectionState(id signaling.PeerID, sid string, st webrtc.PeerConnectionState) {
	p, sess := m.current(id, sid)
	if p == nil {
		return
	}
	m.observeSession(p, sess, util.SeverityDebug, util.CategoryStateChange, "connection "+st.String(), nil)

	switch st {
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		m.lost(p, "connection "+st.String(), nil)
	}
}

func (m *Manager) onICEState(id signaling.PeerID, sid string, st webrtc.ICEConnectionState) {
	p, sess := m.current(id, sid)
	if p == nil {
		return
	}
	if st == webrtc.ICEConnectionStateFailed {
		m.observeSession(p, sess, util.SeverityWarn, util.CategoryTransportFailure, "ICE failed", nil)
		return
	}
	m.observeSession(p, sess, util.SeverityDebug, util.CategoryStateChange, "ICE "+st.String(), nil)
}

func (m *Manager) onMessage(id signaling.PeerID, sid string, data []byte) {
	p, _ := m.current(id, sid)
	if p == nil {
		return
	}
	util.Stats.AddRecv(len(data))
	if m.opts.OnMessage != nil {
		m.opts.OnMessage(p.id, data)
	}
}

func (m *Manager) onNegotiationTimeout(id signaling.PeerID, sid string) {
	p, _ := m.current(id, sid)
	if p == nil || p.state != StateNegotiating {
		return
	}
	m.lost(p, "negotiation timed out", nil)
}

// ---------------------------------------------------------------------------
// Observation
// ---------------------------------------------------------------------------

func (m *Manager) observe(p *peer, sev util.Severity, cat util.Category, msg string, err error) {
	m.observeSession(p, p.sess, sev, cat, msg, err)
}

func (m *Manager) observeSession(p *peer, sess *session, sev util.Severity, cat util.Category, msg string, err error) {
	e := util.Event{
		Severity: sev,
		Category: cat,
		Peer:     string(p.id),
		Message:  msg,
		Err:      err,
	}
	if sess != nil {
		e.Session = sess.id
	}
	m.opts.Observer.Observe(e)
}
