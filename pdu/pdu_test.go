package pdu

import "testing"

func TestRequestRoundTripRead(t *testing.T) {
	buf, err := BuildRequest(Request{Function: ReadHreg, StartAddr: 10, Quantity: 4})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got, err := ParseRequest(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Function != ReadHreg || got.StartAddr != 10 || got.Quantity != 4 {
		t.Errorf("unexpected %+v", got)
	}
}

func TestRequestRoundTripWriteCoils(t *testing.T) {
	payload := PackBits([]bool{true, false, true})
	buf, err := BuildRequest(Request{Function: WriteCoils, StartAddr: 0, Quantity: 3, Payload: payload})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got, err := ParseRequest(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Quantity != 3 || len(got.Payload) != len(payload) {
		t.Fatalf("unexpected %+v", got)
	}
	vals := UnpackBits(got.Payload, 3)
	if vals[0] != true || vals[1] != false || vals[2] != true {
		t.Errorf("unexpected bits %v", vals)
	}
}

func TestQuantityLimitsEnforced(t *testing.T) {
	_, err := BuildRequest(Request{Function: ReadHreg, StartAddr: 0, Quantity: 126})
	if err != ErrIllegalQuantity {
		t.Errorf("expected ErrIllegalQuantity, got %v", err)
	}
	_, err = BuildRequest(Request{Function: ReadCoils, StartAddr: 0, Quantity: 2001})
	if err != ErrIllegalQuantity {
		t.Errorf("expected ErrIllegalQuantity, got %v", err)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	payload := PackRegisters([]int16{42, -1})
	buf := BuildResponse(Response{Function: ReadHreg, StartAddr: 5, Payload: payload})
	got, err := ParseResponse(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.StartAddr != 5 || len(got.Payload) != 4 {
		t.Fatalf("unexpected %+v", got)
	}
	regs := UnpackRegisters(got.Payload)
	if regs[0] != 42 || regs[1] != -1 {
		t.Errorf("unexpected regs %v", regs)
	}
}

func TestExceptionRoundTrip(t *testing.T) {
	buf := BuildResponse(Response{Function: ReadHreg | 0x80, StartAddr: 0, Exception: ExcIllegalAddress})
	got, err := ParseResponse(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !IsException(got.Function) || got.Exception != ExcIllegalAddress {
		t.Errorf("unexpected %+v", got)
	}
}

func TestWriteNeverHasResponseSemantics(t *testing.T) {
	if IsWrite(ReadHreg) || !IsWrite(WriteReg) || !IsWrite(WriteCoils) {
		t.Error("write classification wrong")
	}
	if IsRead(WriteReg) || !IsRead(ReadCoils) {
		t.Error("read classification wrong")
	}
}
