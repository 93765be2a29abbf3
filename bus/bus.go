// Package bus implements the double-buffered receive pipeline of spec
// §5: a primary byte buffer fed from the transport, scanned
// for SOF-delimited candidate frames, which are copied into a bounded
// queue of complete frames for the dispatcher to drain one at a time.
// Grounded on the teacher's circular Fifo (fifo.go): read/write cursors
// over a fixed backing array, generalized from an unstructured byte
// fifo to one that also recognizes frame boundaries and enforces the
// inter-frame transmit gap (spec §4.1, §6).
package bus

import (
	"time"

	"github.com/modbee/modbee/frame"
)

// maxQueuedFrames bounds the number of fully-received frames waiting to
// be dispatched, per spec §5 (a slow dispatcher must not let the
// receive buffer grow unbounded).
const maxQueuedFrames = 5

// primaryCapacity is sized for the largest legal frame plus slack for a
// partial successor frame arriving before the current one drains.
const primaryCapacity = frame.MaxFrameLen * 2

// Bus owns the receive-side double buffer and the transmit-side
// inter-frame gap timer. It does not own a transport.Bus directly;
// callers pump bytes in via Feed and drain frames via NextFrame, which
// keeps this package transport-agnostic and trivially testable.
type Bus struct {
	primary []byte

	queue [][]byte

	lastTxEnd time.Time
	gap       time.Duration

	crcFailures uint64
}

func New(interframeGap time.Duration) *Bus {
	return &Bus{gap: interframeGap}
}

// Feed appends newly received bytes to the primary buffer and then
// scans it for complete frames, moving each one found into the bounded
// frame queue. If the queue is full, newly found frames are dropped —
// spec §5 treats this as backpressure, not an error.
func (b *Bus) Feed(data []byte) {
	b.primary = append(b.primary, data...)
	b.scan()
}

func (b *Bus) scan() {
	for {
		start := indexOf(b.primary, frame.SOF)
		if start < 0 {
			b.primary = nil
			return
		}
		if start > 0 {
			b.primary = b.primary[start:]
		}
		end, ok := findFrameEnd(b.primary)
		if !ok {
			return
		}
		candidate := b.primary[:end]
		b.primary = b.primary[end:]
		if frame.Verify(candidate) {
			if len(b.queue) < maxQueuedFrames {
				cp := append([]byte(nil), candidate...)
				b.queue = append(b.queue, cp)
			}
		} else {
			b.crcFailures++
		}
		// A bad CRC drops the candidate and resumes scanning for the
		// next SOF within the remainder of the buffer.
	}
}

// CRCFailures reports the running count of candidate frames dropped for
// failing their CRC check, for the facade's diagnostic counters.
func (b *Bus) CRCFailures() uint64 {
	return b.crcFailures
}

// findFrameEnd returns the length of the shortest prefix of buf that
// passes frame.Verify. Failing that, the next SOF after the first one
// marks the end of a bad candidate; with no later SOF, it returns
// ok=false so the caller waits for more bytes, until buf exceeds
// MaxFrameLen and the first MaxFrameLen bytes are given up as a bad
// candidate.
func findFrameEnd(buf []byte) (int, bool) {
	for end := frame.MinFrameLen; end <= len(buf) && end <= frame.MaxFrameLen; end++ {
		if frame.Verify(buf[:end]) {
			return end, true
		}
	}
	next := indexOf(buf[1:], frame.SOF)
	if next >= 0 {
		return next + 1, true
	}
	if len(buf) > frame.MaxFrameLen {
		return frame.MaxFrameLen, true
	}
	return 0, false
}

func indexOf(buf []byte, b byte) int {
	for i, c := range buf {
		if c == b {
			return i
		}
	}
	return -1
}

// NextFrame pops the oldest complete, CRC-valid frame, if any.
func (b *Bus) NextFrame() ([]byte, bool) {
	if len(b.queue) == 0 {
		return nil, false
	}
	f := b.queue[0]
	b.queue = b.queue[1:]
	return f, true
}

// Pending reports how many complete frames are queued for dispatch.
func (b *Bus) Pending() int {
	return len(b.queue)
}

// ReadyToTransmit reports whether the inter-frame gap has elapsed since
// the last transmission ended, per spec §4.1's collision-avoidance rule.
func (b *Bus) ReadyToTransmit(now time.Time) bool {
	return now.Sub(b.lastTxEnd) >= b.gap
}

// MarkTransmitted records that a frame finished transmitting at now,
// resetting the inter-frame gap clock.
func (b *Bus) MarkTransmitted(now time.Time) {
	b.lastTxEnd = now
}
