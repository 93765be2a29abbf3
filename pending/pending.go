// Package pending implements the pending-operation queue of spec §4.4:
// outstanding remote requests are tracked by a (node, function, start
// address, quantity) key, retried and eventually timed out on a
// tick-driven countdown, and matched against inbound responses without a
// dedicated transaction-ID field. Grounded on the teacher's SDOClient timeout/retry
// state (sdo_client.go's TimeoutTimeUs/TimeoutTimer/RxNew fields),
// generalized from a single outstanding SDO transfer per client to a
// keyed table of concurrently outstanding remote reads.
package pending

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/modbee/modbee/pdu"
)

// Key identifies one outstanding remote operation. Spec §3/§4.4/§8
// invariant 2: the stored identity is the 4-tuple (dest, function,
// start, quantity) — two concurrent reads to the same address that
// request different quantities are distinct operations, not duplicates.
type Key struct {
	Node      uint8
	Function  byte
	StartAddr uint16
	Quantity  uint16
}

func keyForRequest(node uint8, req pdu.Request) Key {
	return Key{Node: node, Function: req.Function, StartAddr: req.StartAddr, Quantity: req.Quantity}
}

// expectedPayloadLen reports the exact wire payload length (in bytes) a
// successful response to quantity units of function must carry, per
// spec §4.3's packing rules (bits LSB-first 8/byte, registers 2 bytes
// big-endian each). Used to disambiguate which outstanding op a response
// belongs to, since the response PDU itself carries only a byte count,
// never the original quantity (spec §3).
func expectedPayloadLen(function byte, quantity uint16) int {
	switch function {
	case pdu.ReadHreg, pdu.ReadIreg:
		return int(quantity) * 2
	case pdu.ReadCoils, pdu.ReadDiscrete:
		return (int(quantity) + 7) / 8
	default:
		return 0
	}
}

type op struct {
	key       Key
	remaining time.Duration
	retryLeft int
	timeout   time.Duration
	retryGap  time.Duration
	payload   []byte
	onSuccess func(pdu.Response)
	onFail    func()
}

// Queue holds every in-flight remote operation for one node.
type Queue struct {
	ops map[Key]*op
	// order preserves FIFO retry/timeout fairness across ticks.
	order []Key
}

func New() *Queue {
	return &Queue{ops: map[Key]*op{}}
}

// Enqueue registers a new outstanding operation. If an operation with
// the same key is already pending, Enqueue is a no-op and reports false
// (spec §4.4's duplicate-suppression rule): the caller should not also
// transmit a duplicate request frame.
func (q *Queue) Enqueue(node uint8, req pdu.Request, payload []byte, timeout, retryGap time.Duration, maxRetries int, onSuccess func(pdu.Response), onFail func()) bool {
	key := keyForRequest(node, req)
	if _, exists := q.ops[key]; exists {
		return false
	}
	q.ops[key] = &op{
		key:       key,
		remaining: timeout,
		retryLeft: maxRetries,
		timeout:   timeout,
		retryGap:  retryGap,
		payload:   payload,
		onSuccess: onSuccess,
		onFail:    onFail,
	}
	q.order = append(q.order, key)
	return true
}

// Len reports the number of outstanding operations.
func (q *Queue) Len() int { return len(q.ops) }

// Has reports whether any outstanding operation matches (node, function,
// startAddr), regardless of quantity — used to tell an inbound section
// addressed to us apart as a response rather than a fresh request, since
// the wire format gives us node/function/address but not quantity.
func (q *Queue) Has(node uint8, function byte, startAddr uint16) bool {
	_, ok := q.findCandidate(node, function, startAddr, -1)
	return ok
}

// findCandidate locates the outstanding op matching (node, function,
// startAddr). When payloadLen >= 0, it prefers the op whose declared
// quantity implies exactly that payload length (spec's qty == response.qty
// check, performed indirectly since the wire never carries quantity);
// otherwise it falls back to the first match found (an exception response
// carries no payload to check against, so quantity can't be verified -
// a documented limitation when multiple differently-sized reads to the
// same address are outstanding simultaneously).
func (q *Queue) findCandidate(node uint8, function byte, startAddr uint16, payloadLen int) (Key, bool) {
	var fallback Key
	found := false
	for _, key := range q.order {
		if key.Node != node || key.Function != function || key.StartAddr != startAddr {
			continue
		}
		if _, ok := q.ops[key]; !ok {
			continue
		}
		if payloadLen >= 0 && expectedPayloadLen(function, key.Quantity) == payloadLen {
			return key, true
		}
		if !found {
			fallback = key
			found = true
		}
	}
	return fallback, found
}

// TickCleanup advances every outstanding operation's countdown by
// elapsed. An operation whose countdown expires is retried (send is
// invoked with its original payload and the retry gap becomes its new
// timeout) until retries are exhausted, at which point onFail runs and
// the operation is dropped — spec §4.4/§4.7's retry-then-failsafe path.
func (q *Queue) TickCleanup(elapsed time.Duration, send func(node uint8, payload []byte)) {
	for _, key := range q.order {
		o, ok := q.ops[key]
		if !ok {
			continue
		}
		o.remaining -= elapsed
		if o.remaining > 0 {
			continue
		}
		if o.retryLeft <= 0 {
			log.WithFields(log.Fields{"node": key.Node, "function": key.Function, "addr": key.StartAddr}).
				Warn("[PENDING] operation timed out, failsafe triggered")
			o.onFail()
			delete(q.ops, key)
			continue
		}
		o.retryLeft--
		o.remaining = o.retryGap
		send(key.Node, o.payload)
	}
	q.compact()
}

// compact drops order entries whose op has been removed.
func (q *Queue) compact() {
	live := q.order[:0]
	for _, key := range q.order {
		if _, ok := q.ops[key]; ok {
			live = append(live, key)
		}
	}
	q.order = live
}

// MatchAndFulfill looks up the pending operation matching (node, resp),
// preferring the one whose requested quantity implies exactly resp's
// payload length (spec §4.5's qty == response.qty check), and if found
// invokes its success callback with the response and removes it. Reports
// whether a match was found.
func (q *Queue) MatchAndFulfill(node uint8, resp pdu.Response) bool {
	function := resp.Function &^ 0x80
	payloadLen := -1
	if !pdu.IsException(resp.Function) {
		payloadLen = len(resp.Payload)
	}
	key, ok := q.findCandidate(node, function, resp.StartAddr, payloadLen)
	if !ok {
		return false
	}
	o := q.ops[key]
	delete(q.ops, key)
	o.onSuccess(resp)
	return true
}

// ApplyFailsafeForNode fails (zeroing each op's handle via its onFail
// callback) and drops every operation outstanding against node, per
// spec §4.7's eviction handling when fail-safe is enabled.
func (q *Queue) ApplyFailsafeForNode(node uint8) {
	for key, o := range q.ops {
		if key.Node != node {
			continue
		}
		o.onFail()
		delete(q.ops, key)
	}
	q.compact()
}

// DropForNode removes every operation outstanding against node without
// invoking onFail, per spec §4.7's unconditional clearing of pending ops
// on eviction even when fail-safe is disabled (no handle zeroing in that
// case, just bookkeeping removal).
func (q *Queue) DropForNode(node uint8) {
	for key := range q.ops {
		if key.Node == node {
			delete(q.ops, key)
		}
	}
	q.compact()
}
