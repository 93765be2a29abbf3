// Package request implements the local request processor of spec §4.3:
// it executes an inbound PDU against a datamap.DataMap and produces the
// response PDU a read must emit, or nothing for a write. Grounded on the
// teacher's SDO server-side access pattern (od_entry.go's Reader/Writer
// dispatch by index/sub-index), generalized from object-dictionary
// sub-indices to ModBee's four flat banks.
package request

import (
	"github.com/modbee/modbee/datamap"
	"github.com/modbee/modbee/pdu"
)

// Processor executes PDUs against a bound DataMap.
type Processor struct {
	Data *datamap.DataMap
}

func New(data *datamap.DataMap) *Processor {
	return &Processor{Data: data}
}

// Execute runs req (addressed to this node) and returns the response PDU
// bytes to emit. Writes return an empty slice: the protocol never emits
// a response for a write PDU, matching classical Modbus-RTU broadcast
// semantics reused by spec §3. src identifies the requesting node for
// last-writer bookkeeping (spec §4.2); src==0 means no attribution.
func (p *Processor) Execute(req pdu.Request, src uint8) []byte {
	if pdu.IsRead(req.Function) || pdu.IsWrite(req.Function) {
		if err := pdu.CheckQuantity(req.Function, req.Quantity); err != nil {
			if pdu.IsWrite(req.Function) {
				// Quantity limits are enforced on execute too (spec §4.3);
				// a write PDU never gets a response frame either way, so
				// an out-of-range write is simply not applied.
				return nil
			}
			return pdu.BuildResponse(pdu.Response{
				Function:  req.Function | 0x80,
				StartAddr: req.StartAddr,
				Exception: pdu.ExceptionCode(err),
			})
		}
	}
	switch req.Function {
	case pdu.ReadCoils:
		return p.readBits(req, p.Data.GetCoil)
	case pdu.ReadDiscrete:
		return p.readBits(req, p.Data.GetIsts)
	case pdu.ReadHreg:
		return p.readRegs(req, p.Data.GetHreg)
	case pdu.ReadIreg:
		return p.readRegs(req, p.Data.GetIreg)
	case pdu.WriteCoil:
		p.writeSingleCoil(req, src)
		return nil
	case pdu.WriteReg:
		p.writeSingleReg(req, src)
		return nil
	case pdu.WriteCoils:
		p.writeMultiCoils(req, src)
		return nil
	case pdu.WriteRegs:
		p.writeMultiRegs(req, src)
		return nil
	default:
		return pdu.BuildResponse(pdu.Response{
			Function:  req.Function | 0x80,
			StartAddr: req.StartAddr,
			Exception: pdu.ExcIllegalFunction,
		})
	}
}

func (p *Processor) readBits(req pdu.Request, get func(uint16) (bool, bool)) []byte {
	vals := make([]bool, req.Quantity)
	for i := uint16(0); i < req.Quantity; i++ {
		v, ok := get(req.StartAddr + i)
		if !ok {
			return pdu.BuildResponse(pdu.Response{
				Function:  req.Function | 0x80,
				StartAddr: req.StartAddr,
				Exception: pdu.ExcIllegalAddress,
			})
		}
		vals[i] = v
	}
	return pdu.BuildResponse(pdu.Response{
		Function:  req.Function,
		StartAddr: req.StartAddr,
		Payload:   pdu.PackBits(vals),
	})
}

func (p *Processor) readRegs(req pdu.Request, get func(uint16) (int16, bool)) []byte {
	vals := make([]int16, req.Quantity)
	for i := uint16(0); i < req.Quantity; i++ {
		v, ok := get(req.StartAddr + i)
		if !ok {
			return pdu.BuildResponse(pdu.Response{
				Function:  req.Function | 0x80,
				StartAddr: req.StartAddr,
				Exception: pdu.ExcIllegalAddress,
			})
		}
		vals[i] = v
	}
	return pdu.BuildResponse(pdu.Response{
		Function:  req.Function,
		StartAddr: req.StartAddr,
		Payload:   pdu.PackRegisters(vals),
	})
}

func (p *Processor) writeSingleCoil(req pdu.Request, src uint8) {
	if len(req.Payload) < 2 {
		return
	}
	p.Data.SetCoil(req.StartAddr, req.Payload[0] != 0, src)
}

func (p *Processor) writeSingleReg(req pdu.Request, src uint8) {
	if len(req.Payload) < 2 {
		return
	}
	regs := pdu.UnpackRegisters(req.Payload)
	if len(regs) == 0 {
		return
	}
	p.Data.SetHreg(req.StartAddr, regs[0], src)
}

func (p *Processor) writeMultiCoils(req pdu.Request, src uint8) {
	vals := pdu.UnpackBits(req.Payload, int(req.Quantity))
	for i, v := range vals {
		p.Data.SetCoil(req.StartAddr+uint16(i), v, src)
	}
}

func (p *Processor) writeMultiRegs(req pdu.Request, src uint8) {
	regs := pdu.UnpackRegisters(req.Payload)
	for i, v := range regs {
		if uint16(i) >= req.Quantity {
			break
		}
		p.Data.SetHreg(req.StartAddr+uint16(i), v, src)
	}
}
