package modbee

import (
	"github.com/modbee/modbee/pdu"
)

// ReadHreg reads len(out) holding registers starting at offset from
// node. A local read (node == self) completes synchronously; a remote
// read enqueues an operation that completes on a future tick, once the
// response round-trip finishes (spec §6).
func (n *Node) ReadHreg(node uint8, offset uint16, out []int16) error {
	if !n.initialized {
		return ErrNotInitialized
	}
	if node == n.id {
		for i := range out {
			v, ok := n.data.GetHreg(offset + uint16(i))
			if !ok {
				return ErrAddressUnbound
			}
			out[i] = v
		}
		return nil
	}
	return n.enqueueRead(node, pdu.ReadHreg, offset, uint16(len(out)), func(resp pdu.Response) {
		regs := pdu.UnpackRegisters(resp.Payload)
		copy(out, regs)
	}, func() {
		for i := range out {
			out[i] = 0
		}
	})
}

// ReadIreg reads len(out) input registers from node.
func (n *Node) ReadIreg(node uint8, offset uint16, out []int16) error {
	if !n.initialized {
		return ErrNotInitialized
	}
	if node == n.id {
		for i := range out {
			v, ok := n.data.GetIreg(offset + uint16(i))
			if !ok {
				return ErrAddressUnbound
			}
			out[i] = v
		}
		return nil
	}
	return n.enqueueRead(node, pdu.ReadIreg, offset, uint16(len(out)), func(resp pdu.Response) {
		regs := pdu.UnpackRegisters(resp.Payload)
		copy(out, regs)
	}, func() {
		for i := range out {
			out[i] = 0
		}
	})
}

// ReadCoil reads len(out) coils from node.
func (n *Node) ReadCoil(node uint8, offset uint16, out []bool) error {
	if !n.initialized {
		return ErrNotInitialized
	}
	if node == n.id {
		for i := range out {
			v, ok := n.data.GetCoil(offset + uint16(i))
			if !ok {
				return ErrAddressUnbound
			}
			out[i] = v
		}
		return nil
	}
	return n.enqueueRead(node, pdu.ReadCoils, offset, uint16(len(out)), func(resp pdu.Response) {
		bits := pdu.UnpackBits(resp.Payload, len(out))
		copy(out, bits)
	}, func() {
		for i := range out {
			out[i] = false
		}
	})
}

// ReadIsts reads len(out) discrete inputs from node.
func (n *Node) ReadIsts(node uint8, offset uint16, out []bool) error {
	if !n.initialized {
		return ErrNotInitialized
	}
	if node == n.id {
		for i := range out {
			v, ok := n.data.GetIsts(offset + uint16(i))
			if !ok {
				return ErrAddressUnbound
			}
			out[i] = v
		}
		return nil
	}
	return n.enqueueRead(node, pdu.ReadDiscrete, offset, uint16(len(out)), func(resp pdu.Response) {
		bits := pdu.UnpackBits(resp.Payload, len(out))
		copy(out, bits)
	}, func() {
		for i := range out {
			out[i] = false
		}
	})
}

func (n *Node) enqueueRead(node uint8, function byte, offset, quantity uint16, onSuccess func(pdu.Response), onFail func()) error {
	if !n.fsm.IsNodeKnown(node) {
		return ErrUnknownNode
	}
	if !n.fsm.IsConnected() {
		return ErrNotConnected
	}
	if err := pdu.CheckQuantity(function, quantity); err != nil {
		return ErrQuantityMismatch
	}
	req := pdu.Request{Function: function, StartAddr: offset, Quantity: quantity}
	payload, err := pdu.BuildRequest(req)
	if err != nil {
		return err
	}
	ok := n.ops.Enqueue(node, req, payload, n.cfg.Scaled(n.cfg.OperationTimeout+n.cfg.BaseTimeout), n.cfg.RetryDelay, n.cfg.MaxRetries, onSuccess, onFail)
	if ok {
		n.outbox = append(n.outbox, outboxItem{target: node, req: req})
	}
	return nil
}

// WriteHreg writes values into node's holding registers starting at
// offset. A local write applies synchronously; a remote write is
// transmitted on the node's next token turn, sampling values at build
// time so the wire payload always reflects current state (spec §4.6).
func (n *Node) WriteHreg(node uint8, offset uint16, values []int16) error {
	if !n.initialized {
		return ErrNotInitialized
	}
	if node == n.id {
		for i, v := range values {
			if !n.data.SetHreg(offset+uint16(i), v, 0) {
				return ErrAddressUnbound
			}
		}
		return nil
	}
	if !n.fsm.IsNodeKnown(node) {
		return ErrUnknownNode
	}
	if !n.fsm.IsConnected() {
		return ErrNotConnected
	}
	function := pdu.WriteReg
	if len(values) > 1 {
		function = pdu.WriteRegs
	}
	if err := pdu.CheckQuantity(function, uint16(len(values))); err != nil {
		return ErrQuantityMismatch
	}
	n.outbox = append(n.outbox, outboxItem{
		target: node,
		req:    pdu.Request{Function: function, StartAddr: offset, Quantity: uint16(len(values))},
		sample: func() []byte { return pdu.PackRegisters(values) },
	})
	return nil
}

// WriteCoil writes values into node's coils starting at offset.
func (n *Node) WriteCoil(node uint8, offset uint16, values []bool) error {
	if !n.initialized {
		return ErrNotInitialized
	}
	if node == n.id {
		for i, v := range values {
			if !n.data.SetCoil(offset+uint16(i), v, 0) {
				return ErrAddressUnbound
			}
		}
		return nil
	}
	if !n.fsm.IsNodeKnown(node) {
		return ErrUnknownNode
	}
	if !n.fsm.IsConnected() {
		return ErrNotConnected
	}
	function := pdu.WriteCoil
	if len(values) > 1 {
		function = pdu.WriteCoils
	}
	if err := pdu.CheckQuantity(function, uint16(len(values))); err != nil {
		return ErrQuantityMismatch
	}
	n.outbox = append(n.outbox, outboxItem{
		target: node,
		req:    pdu.Request{Function: function, StartAddr: offset, Quantity: uint16(len(values))},
		sample: func() []byte {
			if function == pdu.WriteCoil {
				// A single-coil write carries a two-byte value field.
				return append(pdu.PackBits(values), 0)
			}
			return pdu.PackBits(values)
		},
	})
	return nil
}
