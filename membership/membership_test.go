package membership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modbee/modbee/config"
	"github.com/modbee/modbee/frame"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.InitialListenBase = 50 * time.Millisecond
	cfg.JoinCycleInterval = 5 * time.Millisecond
	cfg.JoinResponseWindow = 5 * time.Millisecond
	cfg.TokenResponseTime = 5 * time.Millisecond
	cfg.BaseTimeout = 5 * time.Millisecond
	cfg.NodeTimeout = 5 * time.Millisecond
	cfg.TokenReclaimBase = 5 * time.Millisecond
	cfg.MaxNodes = 3
	return cfg
}

// scenario (b): lone-node coordinator.
func TestLoneNodeBecomesCoordinatorThenHoldsToken(t *testing.T) {
	cfg := testConfig()
	f := New(3, cfg, nil)
	f.Connect()
	if f.State() != InitialListen {
		t.Fatalf("expected InitialListen, got %v", f.State())
	}

	var lastAction Action
	deadline := cfg.ListenTime(3) + cfg.Scaled(cfg.JoinCycleInterval+cfg.JoinResponseWindow)*2
	elapsed := time.Duration(0)
	for elapsed < deadline {
		res := f.Tick(time.Millisecond)
		elapsed += time.Millisecond
		if res.Action.Send {
			lastAction = res.Action
		}
		if f.State() == HaveToken || f.State() == PassingToken {
			break
		}
	}
	require.Truef(t, f.State() == HaveToken || f.State() == PassingToken,
		"expected the lone node to become coordinator and take the token, ended in %v", f.State())
	assert.Equal(t, []uint8{3}, f.Known())
	_ = lastAction
}

func TestConnectRequiresDisconnectedState(t *testing.T) {
	f := New(1, config.Default(), nil)
	f.Connect()
	if f.State() != InitialListen {
		t.Fatalf("expected InitialListen, got %v", f.State())
	}
	f.Connect() // no-op: already past Disconnected
	if f.State() != InitialListen {
		t.Errorf("second Connect should be a no-op, got %v", f.State())
	}
}

func TestJoinInvitationAcceptedInWaitInvite(t *testing.T) {
	cfg := testConfig()
	f := New(7, cfg, nil)
	f.Connect()
	f.HandleFrame(frame.Header{Src: 2}, false) // any traffic moves us to WaitInvite
	if f.State() != WaitInvite {
		t.Fatalf("expected WaitInvite, got %v", f.State())
	}
	f.HandleFrame(frame.Header{Src: 2, Add: 7, Remove: frame.JoinSentinel}, false)
	if f.State() != Connecting {
		t.Fatalf("expected Connecting after invitation, got %v", f.State())
	}
	f.AcceptInvitation()
	if f.State() != Idle {
		t.Fatalf("expected Idle after accepting invitation, got %v", f.State())
	}
}

func TestTokenArrivalMovesIdleToHaveToken(t *testing.T) {
	f := New(7, testConfig(), nil)
	f.Connect()
	f.HandleFrame(frame.Header{Src: 2}, false)
	f.HandleFrame(frame.Header{Src: 2, Add: 7, Remove: frame.JoinSentinel}, false)
	f.AcceptInvitation()
	f.HandleFrame(frame.Header{Src: 2, Next: 7}, false)
	if f.State() != HaveToken {
		t.Fatalf("expected HaveToken, got %v", f.State())
	}
}

func TestRemoveBroadcastEvictsNode(t *testing.T) {
	f := New(1, testConfig(), nil)
	f.Connect()
	f.HandleFrame(frame.Header{Src: 2}, false)
	f.known[2] = struct{}{}
	f.HandleFrame(frame.Header{Src: 3, Remove: 2}, false)
	if f.IsNodeKnown(2) {
		t.Error("expected node 2 evicted")
	}
	if f.Stats().Evictions != 1 {
		t.Errorf("expected 1 eviction recorded, got %d", f.Stats().Evictions)
	}
}

func TestSelfRemovalRejected(t *testing.T) {
	f := New(1, testConfig(), nil)
	f.evict(1, "test")
	if !f.IsNodeKnown(1) {
		t.Error("self should never be evicted")
	}
}

// scenario (e), simplified: token-pass retries exhausted evicts the
// successor and hands the token onward.
func TestPassingTokenEvictsSilentSuccessor(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	f := New(1, cfg, nil)
	f.known[2] = struct{}{}
	f.known[3] = struct{}{}
	f.setState(HaveToken)
	res := f.Tick(time.Millisecond)
	if !res.Action.Send || f.State() != PassingToken {
		t.Fatalf("expected to pass token, got state=%v action=%+v", f.State(), res.Action)
	}
	passWindow := cfg.TokenResponseTime + cfg.BaseTimeout + time.Millisecond
	// retry 1
	f.Tick(passWindow)
	if f.Stats().PassRetries != 1 {
		t.Fatalf("expected 1 retry, got %d", f.Stats().PassRetries)
	}
	// retry 2
	f.Tick(passWindow)
	if f.Stats().PassRetries != 2 {
		t.Fatalf("expected 2 retries, got %d", f.Stats().PassRetries)
	}
	// third timeout: retry budget exhausted -> eviction
	res = f.Tick(passWindow)
	if f.Stats().Evictions != 1 {
		t.Fatalf("expected successor evicted, evictions=%d", f.Stats().Evictions)
	}
	if f.IsNodeKnown(2) {
		t.Error("expected node 2 evicted from known set")
	}
	evicted := f.DrainEvictions()
	if len(evicted) != 1 || evicted[0] != 2 {
		t.Errorf("unexpected drained evictions %v", evicted)
	}
	_ = res
}

// Disconnecting while holding the token must hand it to the ring
// successor in the same frame that announces the departure, per the
// original firmware's graceful-leave behavior.
func TestDisconnectFromHaveTokenHandsOffToSuccessor(t *testing.T) {
	f := New(1, testConfig(), nil)
	f.known[2] = struct{}{}
	f.known[3] = struct{}{}
	f.setState(HaveToken)

	f.Disconnect()
	res := f.Tick(time.Millisecond)

	require.True(t, res.Action.Send)
	assert.Equal(t, uint8(2), res.Action.Next, "expected the token handed to the lowest-ID successor")
	assert.Equal(t, uint8(1), res.Action.Remove, "expected the departure frame to name self as removed")
	assert.Equal(t, Disconnected, f.State())
}

func TestAnyFrameFromSuccessorConfirmsPass(t *testing.T) {
	f := New(1, testConfig(), nil)
	f.known[2] = struct{}{}
	f.setState(HaveToken)
	f.Tick(time.Millisecond)
	if f.State() != PassingToken {
		t.Fatalf("expected PassingToken, got %v", f.State())
	}
	f.HandleFrame(frame.Header{Src: 2}, false)
	if f.State() != Idle {
		t.Errorf("expected Idle after observing any frame, got %v", f.State())
	}
}
