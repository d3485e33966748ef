package util

import (
	"github.com/pterm/pterm"
)

// Severity classifies an observed event.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Category groups events by the part of the connection lifecycle they concern.
type Category string

const (
	CategoryNegotiationError Category = "negotiation-error"
	CategoryTransportFailure Category = "transport-failure"
	CategoryReconnectAttempt Category = "reconnect-attempt"
	CategoryStateChange      Category = "state-change"
	CategorySignaling        Category = "signaling"
)

// Event is a single structured observation emitted by the peer state machine,
// the signaling client or the relay.
type Event struct {
	Severity Severity
	Category Category
	Peer     string // remote PeerID, empty when not peer-scoped
	Session  string // originating session id, empty when not session-scoped
	Message  string
	Err      error
}

// Observer receives events. Implementations must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// LogObserver writes events to the pterm default logger with structured args.
var LogObserver Observer = logObserver{}

type logObserver struct{}

func (logObserver) Observe(e Event) {
	l := pterm.DefaultLogger
	kv := []any{"category", string(e.Category)}
	if e.Peer != "" {
		kv = append(kv, "peer", e.Peer)
	}
	if e.Session != "" {
		kv = append(kv, "session", e.Session)
	}
	if e.Err != nil {
		kv = append(kv, "err", e.Err.Error())
	}
	args := l.Args(kv...)

	switch e.Severity {
	case SeverityDebug:
		l.Debug(e.Message, args)
	case SeverityInfo:
		l.Info(e.Message, args)
	case SeverityWarn:
		l.Warn(e.Message, args)
	default:
		l.Error(e.Message, args)
	}
}
