package datamap

import "testing"

func TestBindGetSetCoil(t *testing.T) {
	m := New()
	var v bool
	m.BindCoil(3, &v)
	if !m.HasCoil(3) {
		t.Fatal("expected bound")
	}
	if ok := m.SetCoil(3, true, 7); !ok {
		t.Fatal("set failed")
	}
	got, ok := m.GetCoil(3)
	if !ok || !got {
		t.Fatalf("unexpected %v %v", got, ok)
	}
	if src, ok := m.LastWriterCoil(3); !ok || src != 7 {
		t.Errorf("unexpected last writer %v %v", src, ok)
	}
}

func TestSetUnboundFails(t *testing.T) {
	m := New()
	if m.SetHreg(9, 1, 1) {
		t.Error("expected failure for unbound address")
	}
	if _, ok := m.GetHreg(9); ok {
		t.Error("expected not-ok for unbound get")
	}
}

func TestLocalWriteDoesNotRecordSource(t *testing.T) {
	m := New()
	var v int16
	m.BindHreg(1, &v)
	m.SetHreg(1, 42, 0)
	if _, ok := m.LastWriterHreg(1); ok {
		t.Error("src==0 write should not record a last writer")
	}
}

func TestClearRegistersForNode(t *testing.T) {
	m := New()
	var a, b int16
	m.BindHreg(1, &a)
	m.BindHreg(2, &b)
	m.SetHreg(1, 10, 5)
	m.SetHreg(2, 20, 6)
	m.ClearRegistersForNode(5)
	if a != 0 {
		t.Errorf("expected node 5's register cleared, got %d", a)
	}
	if b != 20 {
		t.Errorf("node 6's register should be untouched, got %d", b)
	}
	if _, ok := m.LastWriterHreg(1); ok {
		t.Error("last writer should be cleared along with value")
	}
}

func TestClearAllLinked(t *testing.T) {
	m := New()
	var coil bool
	var reg int16
	m.BindCoil(1, &coil)
	m.BindHreg(1, &reg)
	m.SetCoil(1, true, 1)
	m.SetHreg(1, 99, 1)
	m.ClearAllLinked()
	if coil || reg != 0 {
		t.Errorf("expected zeroed, got coil=%v reg=%d", coil, reg)
	}
	if _, ok := m.LastWriterCoil(1); ok {
		t.Error("expected last-writer map cleared")
	}
}

func TestRemoveUnbinds(t *testing.T) {
	m := New()
	var v bool
	m.BindIsts(1, &v)
	m.RemoveIsts(1)
	if m.HasIsts(1) {
		t.Error("expected unbound after remove")
	}
}

func TestReadOnlyBanksRejectNothingSpecial(t *testing.T) {
	m := New()
	var v int16
	m.BindIreg(4, &v)
	if !m.SetIreg(4, 55) {
		t.Fatal("local set of input register should succeed")
	}
	got, _ := m.GetIreg(4)
	if got != 55 {
		t.Errorf("unexpected %d", got)
	}
}
