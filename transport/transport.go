// Package transport defines the byte-level bus abstraction that the
// protocol core reads and writes against (spec §5), independent of the
// underlying physical transceiver. Grounded on the teacher's Bus
// interface (bus.go) and its multiple concrete implementations
// (socketcan.go, virtual.go) — generalized from CAN-frame send/subscribe
// semantics to a byte-stream read/write pair, since RS-485 has no
// framing of its own.
package transport

// Bus is the minimum byte-stream contract the protocol core needs from
// a physical or simulated RS-485 link.
type Bus interface {
	// Available reports how many received bytes are waiting to be read
	// without blocking.
	Available() int
	// ReadByte returns the next received byte. Only called when
	// Available() > 0.
	ReadByte() (byte, error)
	// Write transmits p and returns the number of bytes written.
	Write(p []byte) (int, error)
}
