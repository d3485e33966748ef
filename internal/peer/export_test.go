package peer

// This file exposes loop synchronisation for black-box tests in package
// peer_test. It is compiled only during `go test`.

// Settle blocks until the loop queue is empty, including events queued by
// the handlers that ran while settling. Timer-driven retries with a non-zero
// delay are not waited for.
func (m *Manager) Settle() {
	for {
		n := -1
		if err := m.call(func() { n = m.loop.pending() }); err != nil {
			return
		}
		if n == 0 {
			return
		}
	}
}
