package peer

import (
	"math"
	"time"

	"github.com/1ureka/peerlink/internal/config"
)

// Policy bounds reconnection and negotiation failures.
//
// The first reconnect attempt after a failure starts immediately; attempt n
// waits InitialDelay*Multiplier^(n-2), capped at MaxDelay. Counters reset
// when a data channel opens.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	MaxAttempts        int           // consecutive reconnects before Closed, 0 = unlimited
	ErrorBudget        int           // consecutive negotiation errors before Closed, 0 = unlimited
	NegotiationTimeout time.Duration // Negotiating longer than this counts as a failure, 0 = never
}

// PolicyFromConfig converts the reconnect section of the config.
func PolicyFromConfig(c config.ReconnectConfig) Policy {
	return Policy{
		InitialDelay:       c.InitialDelay,
		MaxDelay:           c.MaxDelay,
		Multiplier:         c.Multiplier,
		MaxAttempts:        c.MaxAttempts,
		ErrorBudget:        c.ErrorBudget,
		NegotiationTimeout: c.NegotiationTimeout,
	}
}

// DefaultPolicy returns the policy of config.Default.
func DefaultPolicy() Policy {
	return PolicyFromConfig(config.Default().Reconnect)
}

// Delay returns the wait before reconnect attempt n (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-2))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
