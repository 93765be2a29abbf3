// Package pdu implements the embedded Modbus-style PDU carried inside a
// ModBee frame section (spec §3, §4.3): function codes, exception
// encoding, and the response-PDU extension (address echo + byte count)
// that classical Modbus RTU does not have but ModBee requires to match
// responses to requests across the ring.
package pdu

import "encoding/binary"

// Function codes (spec §3).
const (
	ReadCoils       byte = 1
	ReadDiscrete    byte = 2
	ReadHreg        byte = 3
	ReadIreg        byte = 4
	WriteCoil       byte = 5
	WriteReg        byte = 6
	WriteCoils      byte = 15
	WriteRegs       byte = 16
	exceptionBit    byte = 0x80
)

// Exception codes (spec §4.3).
const (
	ExcIllegalFunction     byte = 0x01
	ExcIllegalAddress      byte = 0x02
	ExcIllegalValue        byte = 0x03
	ExcServerDeviceFailure byte = 0x04
)

// Quantity limits enforced on both build and execute (spec §4.3).
const (
	MaxReadBits  = 2000
	MaxReadRegs  = 125
	MaxWriteBits = 1968
	MaxWriteRegs = 123
)

// IsException reports whether the function byte has the exception bit set.
func IsException(function byte) bool {
	return function&exceptionBit != 0
}

// IsWrite reports whether function is one of the write functions, which
// never produce a response frame (spec invariant).
func IsWrite(function byte) bool {
	switch function {
	case WriteCoil, WriteReg, WriteCoils, WriteRegs:
		return true
	}
	return false
}

// IsRead reports whether function is one of the read functions.
func IsRead(function byte) bool {
	switch function {
	case ReadCoils, ReadDiscrete, ReadHreg, ReadIreg:
		return true
	}
	return false
}

// Request is a decoded inbound PDU.
type Request struct {
	Function  byte
	StartAddr uint16
	// Quantity is the requested read count, or for single writes is
	// always 1; for multi-writes it is the declared element count.
	Quantity uint16
	// Payload carries write values (packed bits or big-endian registers);
	// empty for reads.
	Payload []byte
}

// Response is an encoded PDU, either a normal response or an exception.
type Response struct {
	Function  byte
	StartAddr uint16
	Payload   []byte // packed read values; empty for exceptions
	Exception byte   // valid iff IsException(Function)
}

// ParseRequest decodes an inbound PDU per spec §3/§4.3.
func ParseRequest(buf []byte) (Request, error) {
	if len(buf) < 3 {
		return Request{}, ErrMalformed
	}
	function := buf[0]
	start := binary.BigEndian.Uint16(buf[1:3])
	req := Request{Function: function, StartAddr: start}
	rest := buf[3:]
	switch function {
	case ReadCoils, ReadDiscrete, ReadHreg, ReadIreg:
		if len(rest) < 2 {
			return Request{}, ErrMalformed
		}
		req.Quantity = binary.BigEndian.Uint16(rest[0:2])
	case WriteCoil:
		if len(rest) < 2 {
			return Request{}, ErrMalformed
		}
		req.Quantity = 1
		req.Payload = rest[0:2]
	case WriteReg:
		if len(rest) < 2 {
			return Request{}, ErrMalformed
		}
		req.Quantity = 1
		req.Payload = rest[0:2]
	case WriteCoils:
		if len(rest) < 3 {
			return Request{}, ErrMalformed
		}
		qty := binary.BigEndian.Uint16(rest[0:2])
		byteCount := rest[2]
		if len(rest) < 3+int(byteCount) {
			return Request{}, ErrMalformed
		}
		req.Quantity = qty
		req.Payload = rest[3 : 3+int(byteCount)]
	case WriteRegs:
		if len(rest) < 3 {
			return Request{}, ErrMalformed
		}
		qty := binary.BigEndian.Uint16(rest[0:2])
		byteCount := rest[2]
		if len(rest) < 3+int(byteCount) {
			return Request{}, ErrMalformed
		}
		req.Quantity = qty
		req.Payload = rest[3 : 3+int(byteCount)]
	default:
		return Request{}, ErrUnsupportedFunction
	}
	return req, nil
}

// BuildRequest encodes an outbound request PDU, enforcing quantity limits.
func BuildRequest(req Request) ([]byte, error) {
	if err := CheckQuantity(req.Function, req.Quantity); err != nil {
		return nil, err
	}
	buf := make([]byte, 3, 8+len(req.Payload))
	buf[0] = req.Function
	binary.BigEndian.PutUint16(buf[1:3], req.StartAddr)
	switch req.Function {
	case ReadCoils, ReadDiscrete, ReadHreg, ReadIreg:
		buf = binary.BigEndian.AppendUint16(buf, req.Quantity)
	case WriteCoil, WriteReg:
		buf = append(buf, req.Payload...)
	case WriteCoils, WriteRegs:
		buf = binary.BigEndian.AppendUint16(buf, req.Quantity)
		buf = append(buf, byte(len(req.Payload)))
		buf = append(buf, req.Payload...)
	default:
		return nil, ErrUnsupportedFunction
	}
	return buf, nil
}

// BuildResponse encodes a response PDU: echoed address, byte count, and
// payload — the deliberate ModBee extension over classical Modbus-RTU
// (spec §3) needed for matching responses by (node, function, address,
// quantity) without a transaction-ID field.
func BuildResponse(resp Response) []byte {
	if IsException(resp.Function) {
		buf := make([]byte, 4)
		buf[0] = resp.Function
		binary.BigEndian.PutUint16(buf[1:3], resp.StartAddr)
		buf[3] = resp.Exception
		return buf
	}
	buf := make([]byte, 3, 4+len(resp.Payload))
	buf[0] = resp.Function
	binary.BigEndian.PutUint16(buf[1:3], resp.StartAddr)
	buf = append(buf, byte(len(resp.Payload)))
	buf = append(buf, resp.Payload...)
	return buf
}

// ParseResponse decodes a response PDU produced by BuildResponse.
func ParseResponse(buf []byte) (Response, error) {
	if len(buf) < 3 {
		return Response{}, ErrMalformed
	}
	function := buf[0]
	start := binary.BigEndian.Uint16(buf[1:3])
	if IsException(function) {
		if len(buf) < 4 {
			return Response{}, ErrMalformed
		}
		return Response{Function: function, StartAddr: start, Exception: buf[3]}, nil
	}
	if len(buf) < 4 {
		return Response{}, ErrMalformed
	}
	byteCount := buf[3]
	if len(buf) < 4+int(byteCount) {
		return Response{}, ErrMalformed
	}
	return Response{Function: function, StartAddr: start, Payload: buf[4 : 4+int(byteCount)]}, nil
}

// CheckQuantity enforces spec §4.3's per-function quantity limits,
// applied on both build (BuildRequest) and execute (request.Processor).
func CheckQuantity(function byte, qty uint16) error {
	switch function {
	case ReadCoils, ReadDiscrete:
		if qty == 0 || qty > MaxReadBits {
			return ErrIllegalQuantity
		}
	case ReadHreg, ReadIreg:
		if qty == 0 || qty > MaxReadRegs {
			return ErrIllegalQuantity
		}
	case WriteCoils:
		if qty == 0 || qty > MaxWriteBits {
			return ErrIllegalQuantity
		}
	case WriteRegs:
		if qty == 0 || qty > MaxWriteRegs {
			return ErrIllegalQuantity
		}
	}
	return nil
}
