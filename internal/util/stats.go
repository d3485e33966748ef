package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/traffic counter.
var Stats = &stats{}

type stats struct {
	SignalsSent atomic.Int64 // outbound signaling messages handed to the relay
	SignalsRecv atomic.Int64 // inbound signaling messages accepted by a Manager
	Sessions    atomic.Int64 // negotiation sessions created
	Reconnects  atomic.Int64 // reconnect attempts started by a Caller
	BytesSent   atomic.Int64 // bytes handed to a DataChannel
	BytesRecv   atomic.Int64 // bytes received from a DataChannel
}

func (s *stats) AddSignalSent() { s.SignalsSent.Add(1) }
func (s *stats) AddSignalRecv() { s.SignalsRecv.Add(1) }
func (s *stats) AddSession()    { s.Sessions.Add(1) }
func (s *stats) AddReconnect()  { s.Reconnects.Add(1) }
func (s *stats) AddSent(n int)  { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)  { s.BytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs peer statistics every
// interval, but only when something changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevSent, prevRecv, prevSessions, prevReconnects int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				sessions := Stats.Sessions.Load()
				reconnects := Stats.Reconnects.Load()

				secs := interval.Seconds()
				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				newSessions := sessions - prevSessions
				newReconnects := reconnects - prevReconnects

				if newSessions > 0 || newReconnects > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, newSessions, newReconnects))
				}

				prevSent = sent
				prevRecv = recv
				prevSessions = sessions
				prevReconnects = reconnects

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns the reporter line.
func formatStats(inS, outS float64, sessions, reconnects int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Sessions: %2d | Reconnects: %2d",
		formatBytes(inS),
		formatBytes(outS),
		sessions,
		reconnects,
	)
}
