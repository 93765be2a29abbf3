// Package modbee implements the self-organizing multi-master token-ring
// protocol over a half-duplex serial bus, together with its embedded
// distributed Modbus register space, described in the ModBee
// specification. It composes the frame codec, data map, request
// processor, pending-operation queue, and membership/token state machine
// behind a single host-facing Node.
//
// Grounded on the teacher's top-level Node (canopen.go): a struct that
// composes the protocol's independent sub-objects (NMT, SDO clients/
// servers, PDOs, EM, TIME, SYNC) and drives them all from one
// Process(timeDifference, timerNext) call per tick. ModBee's pipeline
// (§2 of the spec) has a fixed, non-configurable shape compared to
// CANopen's PDO/SDO mapping flexibility, so Node carries no analogue of
// InitPDO/Init's object-dictionary wiring — construction is a single
// NewNode call.
package modbee

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/modbee/modbee/bus"
	"github.com/modbee/modbee/config"
	"github.com/modbee/modbee/datamap"
	"github.com/modbee/modbee/diag"
	"github.com/modbee/modbee/frame"
	"github.com/modbee/modbee/membership"
	"github.com/modbee/modbee/pdu"
	"github.com/modbee/modbee/pending"
	"github.com/modbee/modbee/request"
	"github.com/modbee/modbee/transport"
)

// outboxItem is a request PDU awaiting the node's next token turn.
// Writes carry a sample closure so their payload is read from the
// caller's handle at build time rather than at enqueue time (spec
// §4.6's token-emission rule).
type outboxItem struct {
	target uint8
	req    pdu.Request
	sample func() []byte
}

// queuedResponse is a locally-produced read reply awaiting transmission
// (spec's "pending response" data model, §3). remaining counts down by
// elapsed tick time and the response is dropped once it expires without
// being bundled into a frame (spec §3: "removed ... after response
// timeout").
type queuedResponse struct {
	target    uint8
	payload   []byte
	remaining time.Duration
}

// Node is one ModBee participant: transport, bus framing, data map,
// request processor, pending-operation queue, and membership FSM
// composed in one struct, owned exclusively by the tick caller (spec §9's
// "single owning ProtocolState" note).
type Node struct {
	id         uint8
	instanceID uuid.UUID
	cfg        config.Config
	link       transport.Bus

	recv *bus.Bus
	data *datamap.DataMap
	proc *request.Processor
	ops  *pending.Queue
	fsm  *membership.FSM

	errSink   diag.Sink
	debugSink diag.Sink

	outbox    []outboxItem
	responses []queuedResponse

	lastCRCFailures uint64
	initialized     bool
}

// NewNode constructs an uninitialized node; call Begin before Tick.
// Each instance gets a stable diagnostic ID (no protocol meaning, pure
// observability) so a host running several Nodes in one process — e.g.
// a gateway bridging two RS-485 segments — can tell their debug streams
// apart.
func NewNode(cfg config.Config) *Node {
	return &Node{cfg: cfg, instanceID: uuid.New(), errSink: diag.NopSink, debugSink: diag.NopSink}
}

// InstanceID returns this Node's diagnostic instance ID.
func (n *Node) InstanceID() uuid.UUID { return n.instanceID }

// Begin binds the transport and identity. Idempotent failure if already
// initialized, per spec §6.
func (n *Node) Begin(link transport.Bus, nodeID uint8) error {
	if n.initialized {
		return ErrAlreadyInitialized
	}
	n.id = nodeID
	n.link = link
	n.recv = bus.New(n.cfg.InterframeGap)
	n.data = datamap.New()
	n.proc = request.New(n.data)
	n.ops = pending.New()
	n.fsm = membership.New(nodeID, n.cfg, func(e diag.Event) { n.dispatch(e) })
	n.initialized = true
	n.dispatch(diag.Event{Category: diag.StateChange, NodeID: nodeID, Message: "instance " + n.instanceID.String() + " initialized"})
	log.WithField("node", nodeID).WithField("instance", n.instanceID).Info("[MODBEE] node initialized")
	return nil
}

func (n *Node) dispatch(e diag.Event) {
	switch e.Category {
	case diag.Communication, diag.Protocol:
		n.errSink(e)
	default:
		n.debugSink(e)
	}
}

// OnError registers the error sink (communication/protocol categories).
func (n *Node) OnError(sink diag.Sink) {
	if sink == nil {
		sink = diag.NopSink
	}
	n.errSink = sink
}

// OnDebug registers the debug sink (membership/token/state-change
// categories).
func (n *Node) OnDebug(sink diag.Sink) {
	if sink == nil {
		sink = diag.NopSink
	}
	n.debugSink = sink
}

// Connect requests the node join the network (spec §6). A no-op if the
// node has not been initialized with Begin.
func (n *Node) Connect() {
	if !n.initialized {
		return
	}
	n.fsm.Connect()
}

// Disconnect requests the node leave the network (spec §6). A no-op if
// the node has not been initialized with Begin.
func (n *Node) Disconnect() {
	if !n.initialized {
		return
	}
	n.fsm.Disconnect()
}

// IsConnected reports spec §6's is_connected() predicate.
func (n *Node) IsConnected() bool { return n.fsm.IsConnected() }

// IsNodeKnown reports a membership check (spec §6).
func (n *Node) IsNodeKnown(id uint8) bool { return n.fsm.IsNodeKnown(id) }

// Stats exposes the membership counters for host diagnostics.
func (n *Node) Stats() membership.Stats { return n.fsm.Stats() }

// BindCoil/BindHreg/BindIsts/BindIreg register a local bound variable
// (spec §6).
func (n *Node) BindCoil(addr uint16, handle *bool)  { n.data.BindCoil(addr, handle) }
func (n *Node) BindHreg(addr uint16, handle *int16) { n.data.BindHreg(addr, handle) }
func (n *Node) BindIsts(addr uint16, handle *bool)  { n.data.BindIsts(addr, handle) }
func (n *Node) BindIreg(addr uint16, handle *int16) { n.data.BindIreg(addr, handle) }

// Tick drives one iteration of the pipeline: bus_rx -> frame_extractor
// -> frame_dispatcher -> handlers -> token_fsm -> frame_builder ->
// bus_tx (spec §2). Returns ErrNotInitialized if called before Begin,
// or ErrTransmitFailed if the bus rejected this tick's frame.
func (n *Node) Tick(elapsed time.Duration, now time.Time) error {
	if !n.initialized {
		return ErrNotInitialized
	}
	n.pumpRx()
	if crc := n.recv.CRCFailures(); crc > n.lastCRCFailures {
		n.fsm.NoteCRCFailures(crc - n.lastCRCFailures)
		n.lastCRCFailures = crc
	}
	for {
		f, ok := n.recv.NextFrame()
		if !ok {
			break
		}
		n.dispatchFrame(f)
	}

	for _, evicted := range n.fsm.DrainEvictions() {
		if n.cfg.EnableFailSafe {
			n.data.ClearRegistersForNode(evicted)
			n.ops.ApplyFailsafeForNode(evicted)
		} else {
			n.ops.DropForNode(evicted)
		}
	}

	result := n.fsm.Tick(elapsed)
	n.ops.TickCleanup(elapsed, func(node uint8, payload []byte) {
		n.responses = append(n.responses, queuedResponse{target: node, payload: payload, remaining: n.cfg.ResponseTimeout})
	})
	n.responses = n.pruneExpiredResponses(elapsed)

	if result.Action.Send {
		return n.transmitAction(result.Action, now)
	}
	return nil
}

// pruneExpiredResponses drops queued responses whose RESPONSE_TIMEOUT has
// elapsed without being bundled into a frame (spec §3's pending-response
// lifecycle: "removed ... after response timeout").
func (n *Node) pruneExpiredResponses(elapsed time.Duration) []queuedResponse {
	live := n.responses[:0]
	for _, r := range n.responses {
		r.remaining -= elapsed
		if r.remaining <= 0 {
			n.dispatch(diag.Event{Category: diag.Communication, NodeID: r.target, Message: "queued response expired before transmission"})
			continue
		}
		live = append(live, r)
	}
	return live
}

func (n *Node) pumpRx() {
	avail := n.link.Available()
	if avail <= 0 {
		return
	}
	buf := make([]byte, 0, avail)
	for i := 0; i < avail; i++ {
		b, err := n.link.ReadByte()
		if err != nil {
			break
		}
		buf = append(buf, b)
	}
	n.recv.Feed(buf)
}

func (n *Node) dispatchFrame(raw []byte) {
	header, err := frame.ParseHeader(raw)
	if err != nil {
		n.dispatch(diag.Event{Category: diag.Communication, Message: "malformed header discarded"})
		return
	}
	sections := frame.FindSections(raw)

	// Modbus section handling precedes control side effects within the
	// same frame (spec §5's time-critical I/O ordering rule).
	for _, s := range sections {
		if s.Target != n.id {
			continue
		}
		n.handleSection(header.Src, s)
	}

	n.fsm.HandleFrame(header, len(sections) > 0)
	if n.fsm.State() == membership.Connecting {
		n.sendJoinResponse()
	}
}

// handleSection decides whether an inbound section addressed to us is a
// response to one of our outstanding operations or a request we must
// serve, by checking whether the (src, function, addr) tuple matches a
// pending key — a ModBee node never receives an unmatched response to an
// op it did not issue (spec §3's pending-op invariant). The wire format
// carries no quantity, so this check (unlike MatchAndFulfill's) cannot
// use quantity to disambiguate; it only needs to know *that* some op is
// outstanding, not *which* one.
func (n *Node) handleSection(src uint8, s frame.Section) {
	if len(s.PDU) < 3 {
		n.dispatch(diag.Event{Category: diag.Protocol, NodeID: src, Message: "malformed section discarded"})
		return
	}
	function := s.PDU[0] &^ 0x80
	startAddr := be16(s.PDU[1:3])
	if n.ops.Has(src, function, startAddr) {
		resp, err := pdu.ParseResponse(s.PDU)
		if err != nil {
			n.dispatch(diag.Event{Category: diag.Communication, NodeID: src, Message: "malformed response discarded"})
			return
		}
		n.ops.MatchAndFulfill(src, resp)
		return
	}

	req, err := pdu.ParseRequest(s.PDU)
	if err != nil {
		n.dispatch(diag.Event{Category: diag.Protocol, NodeID: src, Message: "malformed request discarded"})
		return
	}
	out := n.proc.Execute(req, src)
	if out != nil {
		n.responses = append(n.responses, queuedResponse{target: src, payload: out, remaining: n.cfg.ResponseTimeout})
	}
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func (n *Node) sendJoinResponse() {
	f, err := frame.BuildControl(n.id, 0, n.id, 0)
	if err != nil || len(f) == 0 {
		return
	}
	if _, err := n.link.Write(f); err == nil {
		n.fsm.AcceptInvitation()
	}
}

// transmitAction assembles and sends the control/data frame for this
// tick's FSM action, bundling (a) queued responses then (b) as many
// outbox requests as fit within the frame size budget (spec §4.6).
// Returns ErrTransmitFailed if the frame could not be built or the bus
// did not accept the whole write.
func (n *Node) transmitAction(action membership.Action, now time.Time) error {
	if !n.recv.ReadyToTransmit(now) {
		return nil
	}
	const safetyMargin = 10
	budget := frame.MaxFrameLen - safetyMargin

	var sections []frame.Section
	used := 0

	drainResponses := n.responses[:0:0]
	for _, r := range n.responses {
		cost := 2 + len(r.payload)
		if used+cost > budget {
			drainResponses = append(drainResponses, r)
			continue
		}
		sections = append(sections, frame.Section{Target: r.target, PDU: r.payload})
		used += cost
	}
	n.responses = drainResponses

	remainingOutbox := n.outbox[:0:0]
	for _, item := range n.outbox {
		req := item.req
		if item.sample != nil {
			req.Payload = item.sample()
		}
		payload, err := pdu.BuildRequest(req)
		if err != nil {
			continue
		}
		cost := 2 + len(payload)
		if used+cost > budget {
			remainingOutbox = append(remainingOutbox, item)
			continue
		}
		sections = append(sections, frame.Section{Target: item.target, PDU: payload})
		used += cost
	}
	n.outbox = remainingOutbox

	buf, err := frame.BuildData(n.id, action.Next, action.Add, action.Remove, sections)
	if err != nil || len(buf) == 0 {
		n.dispatch(diag.Event{Category: diag.Communication, Message: "frame build failed or would overrun TX buffer"})
		return ErrTransmitFailed
	}
	written, err := n.link.Write(buf)
	if err != nil || written != len(buf) {
		n.dispatch(diag.Event{Category: diag.Communication, Message: "transmit incomplete"})
		return ErrTransmitFailed
	}
	n.recv.MarkTransmitted(now)
	n.fsm.NoteFrameTransmitted()
	if action.Next != 0 {
		n.dispatch(diag.Event{Category: diag.Token, NodeID: action.Next, Message: "token passed"})
	}
	return nil
}
