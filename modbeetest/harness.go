// Package modbeetest provides a deterministic, multi-node test harness
// for exercising the full join/token/eviction lifecycle without a real
// serial link, by wiring several modbee.Node instances to a shared
// in-memory bus and driving them from a single simulated clock instead
// of wall time.
package modbeetest

import (
	"time"

	"github.com/modbee/modbee"
	"github.com/modbee/modbee/config"
	"github.com/modbee/modbee/transport/membus"
)

// Harness owns a set of nodes sharing one membus.Medium and a single
// simulated clock, so a test can advance time in controlled steps and
// observe the ring converge exactly the way a real deployment would,
// just without jitter from an actual scheduler.
type Harness struct {
	Medium *membus.Medium
	nodes  []*modbee.Node
	clock  time.Time
}

// New builds a harness with count nodes, IDs 1..count, each bound to its
// own endpoint on a freshly created shared medium and Begin'd but not
// yet Connect'd.
func New(cfg config.Config, count int) *Harness {
	h := &Harness{
		Medium: membus.NewMedium(),
		clock:  time.Unix(0, 0),
	}
	for i := 1; i <= count; i++ {
		n := modbee.NewNode(cfg)
		if err := n.Begin(h.Medium.Attach(), uint8(i)); err != nil {
			panic(err) // harness construction, not a production path
		}
		h.nodes = append(h.nodes, n)
	}
	return h
}

// Nodes returns every node in the harness, indexed by (ID - 1).
func (h *Harness) Nodes() []*modbee.Node { return h.nodes }

// Node returns the node with the given ModBee address, or nil.
func (h *Harness) Node(id uint8) *modbee.Node {
	if int(id) < 1 || int(id) > len(h.nodes) {
		return nil
	}
	return h.nodes[id-1]
}

// ConnectAll requests every node join the ring.
func (h *Harness) ConnectAll() {
	for _, n := range h.nodes {
		n.Connect()
	}
}

// Step advances the simulated clock by d and ticks every node once, in
// ID order. Bus traffic written during a node's tick becomes visible to
// every other node's Available()/ReadByte() immediately, since
// membus.Endpoint.Write broadcasts synchronously.
func (h *Harness) Step(d time.Duration) {
	h.clock = h.clock.Add(d)
	for _, n := range h.nodes {
		if err := n.Tick(d, h.clock); err != nil {
			panic(err) // harness drives a simulated medium, so a tick error is a test bug
		}
	}
}

// Run calls Step count times with the same step duration, a convenience
// for driving the ring through many ticks of settled-state behavior.
func (h *Harness) Run(step time.Duration, count int) {
	for i := 0; i < count; i++ {
		h.Step(step)
	}
}

// AllConnected reports whether every node in the harness believes it is
// connected to the ring.
func (h *Harness) AllConnected() bool {
	for _, n := range h.nodes {
		if !n.IsConnected() {
			return false
		}
	}
	return true
}

// Now returns the harness's current simulated time.
func (h *Harness) Now() time.Time { return h.clock }
