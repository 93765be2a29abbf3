// Package frame implements the ModBee wire frame: start-of-frame
// resynchronization, the control header, section scanning, and the
// CRC-16 codec described in spec §3/§4.1. It is deliberately distinct
// from classical Modbus RTU framing (spec §1 non-goals).
package frame

import "errors"

const (
	SOF       byte = 0x7E
	Delim     byte = 0x7C
	JoinSentinel byte = 255

	MinFrameLen = 7
	MaxFrameLen = 512

	headerLen  = 5 // SOF, src, next, add, remove
	crcLen     = 2
	minSection = 3 // target(1) + modbus_pdu(>=2)
)

var (
	ErrTooShort    = errors.New("frame: shorter than the minimum frame length")
	ErrTooLong     = errors.New("frame: exceeds MAX_TX_BUFFER")
	ErrBadSOF      = errors.New("frame: missing start-of-frame byte")
	ErrCRCMismatch = errors.New("frame: CRC check failed")
)

// Header holds the four control sentinels of spec §3. Zero means
// "unused"; non-zero means the action applies to the named node.
type Header struct {
	Src    byte
	Next   byte // next_master: token grant
	Add    byte // add_node
	Remove byte // remove_node
}

// IsJoinInvitation reports add != 0 && remove == JoinSentinel.
func (h Header) IsJoinInvitation() bool {
	return h.Add != 0 && h.Remove == JoinSentinel
}

// Section is a target_node | modbus_pdu tuple found inside a data frame.
type Section struct {
	Target byte
	PDU    []byte
}

// ParseHeader extracts the four control bytes from a verified frame body
// (SOF already stripped is not required — callers pass the full frame).
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < MinFrameLen {
		return Header{}, ErrTooShort
	}
	if buf[0] != SOF {
		return Header{}, ErrBadSOF
	}
	return Header{Src: buf[1], Next: buf[2], Add: buf[3], Remove: buf[4]}, nil
}

// Verify checks SOF, minimum length, and the trailing CRC.
func Verify(buf []byte) bool {
	if len(buf) < MinFrameLen || len(buf) > MaxFrameLen {
		return false
	}
	if buf[0] != SOF {
		return false
	}
	body := buf[:len(buf)-crcLen]
	want := Compute(body)
	got := buf[len(buf)-crcLen:]
	wb := want.Bytes()
	return got[0] == wb[0] && got[1] == wb[1]
}

// FindSections scans a data frame's body (after the 5-byte header, before
// the trailing CRC) for 0x7C-delimited sections. A section is admitted
// only when its body (after the delimiter and target byte) is >= 2 bytes,
// i.e. total >= minSection bytes including the target byte.
func FindSections(buf []byte) []Section {
	if len(buf) < MinFrameLen {
		return nil
	}
	body := buf[headerLen : len(buf)-crcLen]
	var sections []Section
	i := 0
	for i < len(body) {
		if body[i] != Delim {
			i++
			continue
		}
		rest := body[i+1:]
		// Find the next delimiter (or end) to bound this section.
		end := len(rest)
		for j, b := range rest {
			if b == Delim {
				end = j
				break
			}
		}
		sectionBody := rest[:end]
		if len(sectionBody) >= minSection {
			sections = append(sections, Section{
				Target: sectionBody[0],
				PDU:    append([]byte(nil), sectionBody[1:]...),
			})
		}
		i += 1 + end
	}
	return sections
}

// IsToken reports a frame carrying no sections and a non-zero next_master.
func IsToken(h Header, sections []Section) bool {
	return h.Next != 0 && len(sections) == 0
}

// IsPresence reports a frame from a non-zero source whose next, add and
// remove bytes are all zero and which carries no sections.
func IsPresence(h Header, sections []Section) bool {
	return h.Src != 0 && h.Next == 0 && h.Add == 0 && h.Remove == 0 && len(sections) == 0
}

// IsData reports a frame carrying at least one section.
func IsData(sections []Section) bool {
	return len(sections) > 0
}

// BuildControl assembles a control frame (token / presence / join
// invitation / join response / disconnection) with no sections.
func BuildControl(src, next, add, remove byte) ([]byte, error) {
	return BuildData(src, next, add, remove, nil)
}

// BuildData assembles a frame carrying zero or more sections. Returns a
// zero-length slice (not an error) when the result would exceed
// MAX_TX_BUFFER, per spec §4.1 ("fails rather than overrunning the TX
// buffer") — callers check len(out) == 0.
func BuildData(src, next, add, remove byte, sections []Section) ([]byte, error) {
	size := headerLen + crcLen
	for _, s := range sections {
		size += 1 + 1 + len(s.PDU) // delim + target + pdu
	}
	if size > MaxFrameLen {
		return nil, nil
	}
	buf := make([]byte, 0, size)
	buf = append(buf, SOF, src, next, add, remove)
	for _, s := range sections {
		buf = append(buf, Delim, s.Target)
		buf = append(buf, s.PDU...)
	}
	crc := Compute(buf)
	cb := crc.Bytes()
	buf = append(buf, cb[0], cb[1])
	if len(buf) < MinFrameLen {
		return nil, nil
	}
	return buf, nil
}
