// Package serialbus adapts go.bug.st/serial to the transport.Bus
// contract for a real RS-485 transceiver, grounded on the serial port
// opening/configuration pattern used across the example pack (e.g.
// EdgxCloud-EdgeFlow's serial_in node and channono-ModbusBaby-go's
// pkg/utils serial helpers).
package serialbus

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Bus wraps an opened serial.Port with a small read-ahead buffer so
// Available()/ReadByte() can be polled non-blockingly from a tick loop.
type Bus struct {
	port serial.Port
	buf  []byte
}

// Options configures the RS-485 link. Most ModBee deployments run 8N1
// at a fixed baud rate agreed out of band between nodes.
type Options struct {
	Port     string
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

func DefaultOptions(port string, baudRate int) Options {
	return Options{
		Port:     port,
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Open opens the named serial port with the given options and puts it
// into non-blocking-poll mode via a short read timeout.
func Open(opts Options) (*Bus, error) {
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   opts.Parity,
		StopBits: opts.StopBits,
	}
	port, err := serial.Open(opts.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("serialbus: open %s: %w", opts.Port, err)
	}
	if err := port.SetReadTimeout(time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialbus: set read timeout on %s: %w", opts.Port, err)
	}
	log.WithFields(log.Fields{"port": opts.Port, "baud": opts.BaudRate}).Info("[BUS] serial port opened")
	return &Bus{port: port}, nil
}

func (b *Bus) fill() {
	tmp := make([]byte, 256)
	n, err := b.port.Read(tmp)
	if err != nil || n == 0 {
		return
	}
	b.buf = append(b.buf, tmp[:n]...)
}

// Available reports how many bytes are ready to be consumed without a
// blocking read.
func (b *Bus) Available() int {
	b.fill()
	return len(b.buf)
}

// ReadByte returns the next buffered byte.
func (b *Bus) ReadByte() (byte, error) {
	if len(b.buf) == 0 {
		b.fill()
	}
	if len(b.buf) == 0 {
		return 0, fmt.Errorf("serialbus: no data available")
	}
	c := b.buf[0]
	b.buf = b.buf[1:]
	return c, nil
}

func (b *Bus) Write(p []byte) (int, error) {
	return b.port.Write(p)
}

func (b *Bus) Close() error {
	return b.port.Close()
}
