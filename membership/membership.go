// Package membership implements the nine-state network-formation and
// token-passing state machine of spec §4.6/§4.7. Grounded on the
// teacher's NMT object (nmt.go): a Process(timeDifference, timerNext)
// tick method driving state transitions, generalized from CANopen's
// fixed NMT state set to ModBee's listen/coordinate/join/token states,
// and on heartbeat_consumer.go's liveness-timeout-then-evict pattern for
// §4.7's node eviction.
package membership

import (
	"sort"
	"time"

	"github.com/modbee/modbee/config"
	"github.com/modbee/modbee/diag"
	"github.com/modbee/modbee/frame"
)

// State is one of the nine protocol states of spec §4.6.
type State uint8

const (
	InitialListen State = iota
	CoordBuild
	WaitInvite
	Connecting
	Idle
	HaveToken
	PassingToken
	Disconnecting
	Disconnected
)

func (s State) String() string {
	switch s {
	case InitialListen:
		return "INITIAL_LISTEN"
	case CoordBuild:
		return "COORD_BUILD"
	case WaitInvite:
		return "WAIT_INVITE"
	case Connecting:
		return "CONNECTING"
	case Idle:
		return "IDLE"
	case HaveToken:
		return "HAVE_TOKEN"
	case PassingToken:
		return "PASSING_TOKEN"
	case Disconnecting:
		return "DISCONNECTING"
	case Disconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Stats accumulates counters for diagnostics; not present in the
// original source but supplements it (its OperationStats struct tracked
// equivalent per-protocol counters) for hosts that want a cheap health
// snapshot without parsing the debug sink stream.
type Stats struct {
	TokensPassed    uint64
	TokensReceived  uint64
	PassRetries     uint64
	Evictions       uint64
	JoinInvitesSent uint64
	JoinsAccepted   uint64
	NodeTimeouts    uint64
	FramesTx        uint64
	FramesRx        uint64
	CRCFailures     uint64
}

// Action describes the control frame the caller should build and
// transmit this tick. The FSM never touches the bus or frame codec
// directly (spec §9's "single owning ProtocolState" note) — it only
// decides intent.
type Action struct {
	Send   bool
	Next   byte
	Add    byte
	Remove byte
}

// FSM owns one node's membership state and ring view.
type FSM struct {
	nodeID uint8
	cfg    config.Config
	sink   diag.Sink
	stats  Stats

	state State

	known    map[uint8]struct{}
	lastSeen map[uint8]time.Duration
	clock    time.Duration // monotonic simulated/real time since FSM creation

	listenDeadline   time.Duration
	coordDeadline    time.Duration
	waitDeadline     time.Duration
	nextCandidate    uint8
	lastInviteAt     time.Duration
	awaitingResponse bool
	joinWaitDeadline time.Duration

	successor        uint8
	passDeadline     time.Duration
	passRetries      int
	reclaimDue       time.Duration
	handoffSuccessor uint8

	lastFrameSeen    time.Duration
	busSilenceWarned bool

	evicted []uint8
}

// New creates an FSM for nodeID starting in Disconnected, per spec §6
// ("begin" binds identity; connect() is required to join).
func New(nodeID uint8, cfg config.Config, sink diag.Sink) *FSM {
	if sink == nil {
		sink = diag.NopSink
	}
	f := &FSM{
		nodeID:   nodeID,
		cfg:      cfg,
		sink:     sink,
		state:    Disconnected,
		known:    map[uint8]struct{}{nodeID: {}},
		lastSeen: map[uint8]time.Duration{},
	}
	return f
}

func (f *FSM) State() State { return f.state }

func (f *FSM) setState(next State) {
	if next == f.state {
		return
	}
	f.sink(diag.Event{Category: diag.StateChange, NodeID: f.nodeID, Message: f.state.String() + " -> " + next.String()})
	f.state = next
}

// IsConnected reports membership per spec §6's is_connected().
func (f *FSM) IsConnected() bool {
	switch f.state {
	case Idle, HaveToken, PassingToken, Disconnecting:
		return true
	default:
		return false
	}
}

// IsNodeKnown reports whether n is in the current ring view.
func (f *FSM) IsNodeKnown(n uint8) bool {
	_, ok := f.known[n]
	return ok
}

// Known returns the ring membership in sorted order, always containing
// self (invariant of spec §3).
func (f *FSM) Known() []uint8 {
	out := make([]uint8, 0, len(f.known))
	for n := range f.known {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f *FSM) isLowestKnown() bool {
	lowest := f.nodeID
	for n := range f.known {
		if n < lowest {
			lowest = n
		}
	}
	return lowest == f.nodeID
}

func (f *FSM) successorOf(n uint8) uint8 {
	ring := f.Known()
	if len(ring) <= 1 {
		return f.nodeID
	}
	for i, id := range ring {
		if id == n {
			return ring[(i+1)%len(ring)]
		}
	}
	return f.nodeID
}

// Stats returns a snapshot of the accumulated counters.
func (f *FSM) Stats() Stats { return f.stats }

// NoteFrameTransmitted records a successful bus write, for the
// frames-tx diagnostic counter. The facade owns the transport, so it
// reports transmission outcomes back rather than the FSM guessing from
// returned actions alone (a returned Action can still fail to go out,
// e.g. on a short write).
func (f *FSM) NoteFrameTransmitted() { f.stats.FramesTx++ }

// NoteCRCFailures adds n newly observed CRC failures to the diagnostic
// counter. The bus package drops bad-CRC candidates while scanning and
// has no FSM reference of its own, so the facade polls its failure
// count each tick and reports the delta here.
func (f *FSM) NoteCRCFailures(n uint64) { f.stats.CRCFailures += n }

// DrainEvictions returns and clears node IDs evicted since the last
// call, so the facade can run datamap/pending failsafe cleanup for each.
func (f *FSM) DrainEvictions() []uint8 {
	out := f.evicted
	f.evicted = nil
	return out
}

func (f *FSM) evict(n uint8, reason string) {
	if n == f.nodeID {
		f.sink(diag.Event{Category: diag.Protocol, NodeID: n, Message: "rejected self-removal request"})
		return
	}
	if _, ok := f.known[n]; !ok {
		return
	}
	delete(f.known, n)
	delete(f.lastSeen, n)
	f.stats.Evictions++
	f.evicted = append(f.evicted, n)
	f.sink(diag.Event{Category: diag.Membership, NodeID: n, Message: "evicted: " + reason})
	if len(f.known) == 1 {
		f.setState(WaitInvite)
	}
}

// Connect requests the node join the network, per spec §6.
func (f *FSM) Connect() {
	if f.state != Disconnected {
		return
	}
	f.listenDeadline = f.clock + f.cfg.ListenTime(f.nodeID)
	f.setState(InitialListen)
}

// Disconnect requests the node leave the network, per spec §6. A node
// holding or passing the token hands it to its ring successor in the
// same frame that announces its departure, so a clean leave never
// strands the ring waiting out a full node timeout.
func (f *FSM) Disconnect() {
	if f.state == Disconnected {
		return
	}
	if f.state == HaveToken || f.state == PassingToken {
		f.handoffSuccessor = f.successorOf(f.nodeID)
	}
	f.setState(Disconnecting)
}

// TickResult is what Tick reports back for the facade to act on.
type TickResult struct {
	Action Action
}

// Tick advances every running timer by elapsed and returns the control
// action, if any, the caller should transmit this tick.
func (f *FSM) Tick(elapsed time.Duration) TickResult {
	f.clock += elapsed
	f.checkNodeTimeouts()
	f.checkBusSilence()

	switch f.state {
	case InitialListen:
		if f.clock >= f.listenDeadline {
			f.setState(CoordBuild)
			f.nextCandidate = 1
			f.coordDeadline = f.clock + time.Duration(float64(f.cfg.MaxNodes)*float64(f.cfg.JoinCycleInterval+f.cfg.JoinResponseWindow)*1.5)
			f.lastInviteAt = -f.cfg.JoinCycleInterval // invite immediately
		}
	case CoordBuild:
		if f.clock >= f.coordDeadline {
			f.setState(HaveToken)
			break
		}
		if f.clock-f.lastInviteAt >= f.cfg.JoinCycleInterval {
			candidate := f.nextUninvitedCandidate()
			f.lastInviteAt = f.clock
			if candidate != 0 {
				f.nextCandidate = candidate + 1
				f.stats.JoinInvitesSent++
				return TickResult{Action: Action{Send: true, Add: candidate, Remove: frame.JoinSentinel}}
			}
			// wrapped the full candidate space with nothing left to invite
			f.setState(HaveToken)
		}
	case WaitInvite:
		if f.clock >= f.waitDeadline {
			f.listenDeadline = f.clock + f.cfg.ListenTime(f.nodeID)
			f.setState(InitialListen)
		}
	case Idle:
		if f.awaitingResponse && f.clock >= f.joinWaitDeadline {
			f.awaitingResponse = false
		}
		if len(f.known) == 1 {
			f.setState(WaitInvite)
			f.waitDeadline = f.clock + f.cfg.InitialListenBase
			break
		}
		if f.clock >= f.reclaimDue {
			if f.isLowestKnown() {
				f.setState(HaveToken)
			} else {
				f.setState(WaitInvite)
				f.waitDeadline = f.clock + f.cfg.InitialListenBase
			}
		}
	case HaveToken:
		f.successor = f.successorOf(f.nodeID)
		f.stats.TokensPassed++
		f.passDeadline = f.clock + f.cfg.TokenResponseTime + f.cfg.BaseTimeout
		f.passRetries = 0
		f.setState(PassingToken)
		return TickResult{Action: Action{Send: true, Next: f.successor}}
	case PassingToken:
		if f.clock >= f.passDeadline {
			if f.passRetries >= f.cfg.MaxRetries {
				evictedSuccessor := f.successor
				f.evict(evictedSuccessor, "token-pass retries exhausted")
				if len(f.known) == 1 {
					f.setState(HaveToken)
					break
				}
				f.successor = f.successorOf(f.nodeID)
				f.passDeadline = f.clock + f.cfg.TokenResponseTime + f.cfg.BaseTimeout
				f.passRetries = 0
				return TickResult{Action: Action{Send: true, Next: f.successor, Remove: evictedSuccessor}}
			}
			f.passRetries++
			f.stats.PassRetries++
			f.passDeadline = f.clock + f.cfg.TokenResponseTime + f.cfg.BaseTimeout
			return TickResult{Action: Action{Send: true, Next: f.successor}}
		}
	case Disconnecting:
		successor := f.handoffSuccessor
		f.handoffSuccessor = 0
		f.setState(Disconnected)
		f.known = map[uint8]struct{}{f.nodeID: {}}
		f.lastSeen = map[uint8]time.Duration{}
		if successor != 0 && successor != f.nodeID {
			f.stats.TokensPassed++
			return TickResult{Action: Action{Send: true, Next: successor, Remove: f.nodeID}}
		}
		return TickResult{Action: Action{Send: true, Remove: f.nodeID}}
	case Disconnected:
	}
	return TickResult{}
}

// nextUninvitedCandidate returns the next candidate ID in
// [1, MaxNodes] \ known starting from nextCandidate, wrapping once, or 0
// if every slot is already known (spec §4.6's coordinator build loop).
func (f *FSM) nextUninvitedCandidate() uint8 {
	max := uint8(f.cfg.MaxNodes)
	start := f.nextCandidate
	if start == 0 || start > max {
		start = 1
	}
	for i := uint8(0); i < max; i++ {
		id := start + i
		if id > max {
			id -= max
		}
		if _, known := f.known[id]; !known {
			return id
		}
	}
	return 0
}

// HandleFrame updates FSM state from an inbound control header. hasData
// reports whether the frame also carried Modbus sections (spec §5:
// Modbus side effects are applied before these control side effects by
// the caller, but eviction/known-set bookkeeping happens here
// regardless of section content).
func (f *FSM) HandleFrame(h frame.Header, hasData bool) {
	f.stats.FramesRx++
	f.lastFrameSeen = f.clock
	f.busSilenceWarned = false
	f.lastSeen[h.Src] = f.clock
	if h.Src != 0 && h.Src != f.nodeID {
		f.known[h.Src] = struct{}{}
	}

	if h.Remove != 0 && h.Remove != frame.JoinSentinel {
		f.evict(h.Remove, "remove_node broadcast")
	}

	switch f.state {
	case InitialListen:
		if h.Src != 0 {
			f.waitDeadline = f.clock + f.cfg.InitialListenBase
			f.setState(WaitInvite)
		}
	case CoordBuild:
		// A join response carries add == src (the responding candidate
		// naming itself), never the coordinator's own ID, per spec §4.6.
		if h.Add == h.Src && h.Remove == 0 && h.Src != f.nodeID {
			f.known[h.Src] = struct{}{}
			f.stats.JoinsAccepted++
			return
		}
		if h.IsJoinInvitation() {
			return
		}
		f.setState(WaitInvite)
		f.waitDeadline = f.clock + f.cfg.InitialListenBase
	case WaitInvite:
		if h.IsJoinInvitation() && h.Add == f.nodeID {
			f.setState(Connecting)
		}
	case Connecting:
		// Response emission is driven by the facade once it observes
		// Connecting state; HandleFrame has nothing further to do here.
	case Idle:
		if h.Next == f.nodeID {
			if f.awaitingResponse {
				return
			}
			f.stats.TokensReceived++
			f.setState(HaveToken)
		}
	case HaveToken:
		// Token already taken this tick; nothing to do mid-hold.
	case PassingToken:
		// Spec §9's documented lenient rule: any frame from anyone counts
		// as confirmation the successor is alive, not strictly the named
		// successor — preserved intentionally, not a bug.
		if h.Src != f.nodeID {
			f.setState(Idle)
			f.reclaimDue = f.clock + f.cfg.Scaled(f.cfg.TokenReclaimBase+f.cfg.BaseTimeout)
		}
	case Disconnecting, Disconnected:
		if h.IsJoinInvitation() && h.Add == f.nodeID {
			// Per spec §9's first open question: a join invitation arriving
			// outside WAIT_INVITE/INITIAL_LISTEN is logged and discarded.
			f.sink(diag.Event{Category: diag.Protocol, NodeID: h.Src, Message: "join invitation ignored: not ready"})
		}
	}
}

// checkNodeTimeouts evicts peers not heard from within NODE_TIMEOUT ×
// MAX_NODES, but only while connected (spec §4.7(ii)).
func (f *FSM) checkNodeTimeouts() {
	switch f.state {
	case Idle, HaveToken, PassingToken:
	default:
		return
	}
	limit := f.cfg.Scaled(f.cfg.NodeTimeout)
	for n, seen := range f.lastSeen {
		if n == f.nodeID {
			continue
		}
		if f.clock-seen > limit {
			f.stats.NodeTimeouts++
			f.evict(n, "node timeout")
		}
	}
}

// checkBusSilence warns once, via a diag.Communication event (which the
// facade routes to the host's error sink), when zero frames of
// any kind have been observed for NODE_TIMEOUT × MAX_NODES × 2 — long
// enough to distinguish a disconnected RS-485 line from a genuinely
// empty ring still within its per-node timeout window. The warning
// clears itself the next time any frame arrives (HandleFrame resets
// busSilenceWarned), so a flapping line re-warns instead of going
// silent after the first report.
func (f *FSM) checkBusSilence() {
	if f.state == Disconnected || f.busSilenceWarned {
		return
	}
	limit := f.cfg.Scaled(f.cfg.NodeTimeout) * 2
	if f.clock-f.lastFrameSeen < limit {
		return
	}
	f.busSilenceWarned = true
	f.sink(diag.Event{Category: diag.Communication, NodeID: f.nodeID, Message: "bus silence: no frames observed, check the line"})
}

// AcceptInvitation transitions Connecting -> Idle once the facade has
// successfully transmitted the join response (spec §4.6's CONNECTING
// exit condition).
func (f *FSM) AcceptInvitation() {
	if f.state != Connecting {
		return
	}
	f.setState(Idle)
	f.reclaimDue = f.clock + f.cfg.Scaled(f.cfg.TokenReclaimBase+f.cfg.BaseTimeout)
}

// NoteJoinInviteSent records that this tick's coordinator action was a
// join invitation still awaiting a response, so a subsequently-arriving
// token is held in IDLE rather than taken immediately (spec §4.6's
// "token arrival" exception).
func (f *FSM) NoteJoinInviteSent() {
	f.awaitingResponse = true
	f.joinWaitDeadline = f.clock + f.cfg.JoinResponseWindow
}
