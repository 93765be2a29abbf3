package modbee

import (
	"testing"

	"github.com/modbee/modbee/config"
	"github.com/modbee/modbee/frame"
	"github.com/modbee/modbee/pdu"
	"github.com/modbee/modbee/transport/membus"
)

func TestInstanceIDIsStableAndUnique(t *testing.T) {
	n1 := NewNode(config.Default())
	n2 := NewNode(config.Default())
	if n1.InstanceID() == n2.InstanceID() {
		t.Error("expected distinct instance IDs for distinct nodes")
	}
	id := n1.InstanceID()
	if n1.InstanceID() != id {
		t.Error("expected InstanceID to stay stable across calls")
	}
}

func TestBeginIsIdempotentFailure(t *testing.T) {
	n := NewNode(config.Default())
	medium := membus.NewMedium()
	ep := medium.Attach()
	if err := n.Begin(ep, 1); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if err := n.Begin(ep, 1); err != ErrAlreadyInitialized {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestLocalBindReadWrite(t *testing.T) {
	n := NewNode(config.Default())
	medium := membus.NewMedium()
	n.Begin(medium.Attach(), 1)
	var reg int16
	n.BindHreg(5, &reg)
	if err := n.WriteHreg(1, 5, []int16{77}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := make([]int16, 1)
	if err := n.ReadHreg(1, 5, out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out[0] != 77 {
		t.Errorf("unexpected %v", out)
	}
}

func TestReadUnboundLocalAddressErrors(t *testing.T) {
	n := NewNode(config.Default())
	n.Begin(membus.NewMedium().Attach(), 1)
	out := make([]int16, 1)
	if err := n.ReadHreg(1, 9, out); err != ErrAddressUnbound {
		t.Errorf("expected ErrAddressUnbound, got %v", err)
	}
}

func TestRemoteWriteUnknownNodeRejected(t *testing.T) {
	n := NewNode(config.Default())
	n.Begin(membus.NewMedium().Attach(), 1)
	if err := n.WriteHreg(9, 0, []int16{1}); err != ErrUnknownNode {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

// scenario (d): a remote read's request reaches the serving node, its
// response reaches back, and the caller's handle ends up bit-exact —
// exercised directly at the section-handling layer, since the token/FSM
// timing that gates *when* a section is allowed onto the wire is
// covered exhaustively by the membership package's own tests.
func TestRemoteReadRoundTrip(t *testing.T) {
	cfg := config.Default()
	n1 := NewNode(cfg)
	n1.Begin(membus.NewMedium().Attach(), 1)
	n2 := NewNode(cfg)
	n2.Begin(membus.NewMedium().Attach(), 2)

	var served int16 = 42
	n1.BindHreg(0, &served)

	// Fast-forward node 2 to a connected state (Disconnected -> InitialListen
	// -> WaitInvite -> Connecting -> Idle) so it both knows node 1 and
	// passes the enqueue-side IsConnected guard, without driving the full
	// listen/coordinate timing.
	n2.Connect()
	n2.fsm.HandleFrame(frame.Header{Src: 1}, false)
	n2.fsm.HandleFrame(frame.Header{Src: 1, Add: 2, Remove: frame.JoinSentinel}, false)
	n2.fsm.AcceptInvitation()

	out := make([]int16, 1)
	if err := n2.ReadHreg(1, 0, out); err != nil {
		t.Fatalf("enqueue read: %v", err)
	}
	if len(n2.outbox) != 1 {
		t.Fatalf("expected 1 outbox item, got %d", len(n2.outbox))
	}

	reqPDU, err := buildOutboxPayload(n2.outbox[0])
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	n1.handleSection(2, frame.Section{Target: 1, PDU: reqPDU})
	if len(n1.responses) != 1 {
		t.Fatalf("expected node 1 to queue a response, got %d", len(n1.responses))
	}

	n2.handleSection(1, frame.Section{Target: 2, PDU: n1.responses[0].payload})
	if out[0] != 42 {
		t.Errorf("expected round-tripped value 42, got %v", out)
	}
}

func buildOutboxPayload(item outboxItem) ([]byte, error) {
	req := item.req
	if item.sample != nil {
		req.Payload = item.sample()
	}
	return pdu.BuildRequest(req)
}
