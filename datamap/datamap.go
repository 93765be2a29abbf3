// Package datamap implements the four-bank bound-variable table of spec
// §3/§4.2: each address in each bank maps to an external pointer/handle
// to a user variable, not to a value store of its own. Grounded on the
// teacher's object-dictionary Entry/Variable pattern (od_entry.go,
// od_variable.go), generalized from CANopen sub-indexed entries to
// ModBee's four independent flat address spaces, and on design note §9
// ("Direct user-variable access"): a Go pointer is already a safe, typed
// capability, so no arena/phantom-tag indirection is needed to honor that
// note — the host's own *bool/*int16 is dereferenced directly, by the
// protocol instance only, inside Get/Set.
package datamap

import "sync"

// DataMap holds the four independently-addressed banks of spec §4.2.
// Protocol-owned (§5): touched only from the tick goroutine; the host's
// own reads/writes of the bound variables are assumed atomic at the
// byte level, per spec §5.
type DataMap struct {
	mu sync.Mutex

	coils    map[uint16]*bool
	hregs    map[uint16]*int16
	ists     map[uint16]*bool
	iregs    map[uint16]*int16
	lastCoil map[uint16]uint8
	lastHreg map[uint16]uint8
}

func New() *DataMap {
	return &DataMap{
		coils:    map[uint16]*bool{},
		hregs:    map[uint16]*int16{},
		ists:     map[uint16]*bool{},
		iregs:    map[uint16]*int16{},
		lastCoil: map[uint16]uint8{},
		lastHreg: map[uint16]uint8{},
	}
}

func (m *DataMap) BindCoil(addr uint16, handle *bool) { m.mu.Lock(); m.coils[addr] = handle; m.mu.Unlock() }
func (m *DataMap) BindHreg(addr uint16, handle *int16) {
	m.mu.Lock()
	m.hregs[addr] = handle
	m.mu.Unlock()
}
func (m *DataMap) BindIsts(addr uint16, handle *bool) { m.mu.Lock(); m.ists[addr] = handle; m.mu.Unlock() }
func (m *DataMap) BindIreg(addr uint16, handle *int16) {
	m.mu.Lock()
	m.iregs[addr] = handle
	m.mu.Unlock()
}

func (m *DataMap) HasCoil(addr uint16) bool { m.mu.Lock(); defer m.mu.Unlock(); _, ok := m.coils[addr]; return ok }
func (m *DataMap) HasHreg(addr uint16) bool { m.mu.Lock(); defer m.mu.Unlock(); _, ok := m.hregs[addr]; return ok }
func (m *DataMap) HasIsts(addr uint16) bool { m.mu.Lock(); defer m.mu.Unlock(); _, ok := m.ists[addr]; return ok }
func (m *DataMap) HasIreg(addr uint16) bool { m.mu.Lock(); defer m.mu.Unlock(); _, ok := m.iregs[addr]; return ok }

func (m *DataMap) GetCoil(addr uint16) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.coils[addr]
	if !ok {
		return false, false
	}
	return *h, true
}

func (m *DataMap) GetHreg(addr uint16) (int16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hregs[addr]
	if !ok {
		return 0, false
	}
	return *h, true
}

func (m *DataMap) GetIsts(addr uint16) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.ists[addr]
	if !ok {
		return false, false
	}
	return *h, true
}

func (m *DataMap) GetIreg(addr uint16) (int16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.iregs[addr]
	if !ok {
		return 0, false
	}
	return *h, true
}

// SetCoil writes a coil and records the last writer when src != 0 (spec
// §4.2). src == 0 means a local/unattributed write.
func (m *DataMap) SetCoil(addr uint16, value bool, src uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.coils[addr]
	if !ok {
		return false
	}
	*h = value
	if src != 0 {
		m.lastCoil[addr] = src
	}
	return true
}

// SetHreg writes a holding register and records the last writer when
// src != 0.
func (m *DataMap) SetHreg(addr uint16, value int16, src uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hregs[addr]
	if !ok {
		return false
	}
	*h = value
	if src != 0 {
		m.lastHreg[addr] = src
	}
	return true
}

// SetIsts/SetIreg are written locally only (read-only over the wire).
func (m *DataMap) SetIsts(addr uint16, value bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.ists[addr]
	if !ok {
		return false
	}
	*h = value
	return true
}

func (m *DataMap) SetIreg(addr uint16, value int16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.iregs[addr]
	if !ok {
		return false
	}
	*h = value
	return true
}

func (m *DataMap) RemoveCoil(addr uint16) {
	m.mu.Lock()
	delete(m.coils, addr)
	delete(m.lastCoil, addr)
	m.mu.Unlock()
}
func (m *DataMap) RemoveHreg(addr uint16) {
	m.mu.Lock()
	delete(m.hregs, addr)
	delete(m.lastHreg, addr)
	m.mu.Unlock()
}
func (m *DataMap) RemoveIsts(addr uint16) { m.mu.Lock(); delete(m.ists, addr); m.mu.Unlock() }
func (m *DataMap) RemoveIreg(addr uint16) { m.mu.Lock(); delete(m.iregs, addr); m.mu.Unlock() }

// ClearRegistersForNode zeroes every writable entry whose last writer was
// node n and erases the corresponding last-writer entries (spec §4.2,
// used by eviction fail-safe §4.7).
func (m *DataMap) ClearRegistersForNode(n uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, src := range m.lastCoil {
		if src == n {
			*m.coils[addr] = false
			delete(m.lastCoil, addr)
		}
	}
	for addr, src := range m.lastHreg {
		if src == n {
			*m.hregs[addr] = 0
			delete(m.lastHreg, addr)
		}
	}
}

// ClearAllLinked zeroes every bound variable and last-writer record,
// regardless of origin.
func (m *DataMap) ClearAllLinked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.coils {
		*h = false
	}
	for _, h := range m.hregs {
		*h = 0
	}
	for _, h := range m.ists {
		*h = false
	}
	for _, h := range m.iregs {
		*h = 0
	}
	m.lastCoil = map[uint16]uint8{}
	m.lastHreg = map[uint16]uint8{}
}

// LastWriterCoil/LastWriterHreg report the node that last wrote an
// address, if any.
func (m *DataMap) LastWriterCoil(addr uint16) (uint8, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.lastCoil[addr]
	return src, ok
}

func (m *DataMap) LastWriterHreg(addr uint16) (uint8, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.lastHreg[addr]
	return src, ok
}
