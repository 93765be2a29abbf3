// Package membus provides an in-memory shared-medium fake bus for tests,
// grounded on the teacher's VirtualCanBus (virtual.go) — generalized from
// a TCP-loopback point-to-point link to a shared broadcast medium so
// multiple simulated nodes can be wired onto the same Medium the way a
// real RS-485 segment lets every attached transceiver hear every bit
// every other one writes.
package membus

import "sync"

// Medium is a shared half-duplex broadcast bus: a Write from any
// attached Endpoint appends to every other attached Endpoint's receive
// queue, approximating RS-485's physical broadcast-to-all property.
// It does not model collisions; spec §5's token-holder-only-writes
// discipline is enforced by the protocol layer, not the medium.
type Medium struct {
	mu        sync.Mutex
	endpoints []*Endpoint
}

func NewMedium() *Medium {
	return &Medium{}
}

// Endpoint is one node's attachment point.
type Endpoint struct {
	medium *Medium
	mu     sync.Mutex
	rx     []byte
}

// Attach creates a new Endpoint wired onto m.
func (m *Medium) Attach() *Endpoint {
	ep := &Endpoint{medium: m}
	m.mu.Lock()
	m.endpoints = append(m.endpoints, ep)
	m.mu.Unlock()
	return ep
}

func (e *Endpoint) Available() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rx)
}

func (e *Endpoint) ReadByte() (byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rx) == 0 {
		return 0, errEmpty
	}
	c := e.rx[0]
	e.rx = e.rx[1:]
	return c, nil
}

func (e *Endpoint) Write(p []byte) (int, error) {
	e.medium.mu.Lock()
	defer e.medium.mu.Unlock()
	for _, other := range e.medium.endpoints {
		if other == e {
			continue
		}
		other.mu.Lock()
		other.rx = append(other.rx, p...)
		other.mu.Unlock()
	}
	return len(p), nil
}

type emptyError struct{}

func (emptyError) Error() string { return "membus: no data available" }

var errEmpty = emptyError{}
