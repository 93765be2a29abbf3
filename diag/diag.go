// Package diag defines the categorised, observational event taxonomy of
// spec §6/§7: error and debug sinks that the core calls out to but which
// may never mutate core state. Grounded on the teacher's CANopenError
// enum-with-string-table pattern (bus.go's CANOPEN_ERRORS map), adapted
// from a flat numeric code space to ModBee's five named categories.
package diag

// Category groups events the way spec §6 enumerates the sinks.
type Category uint8

const (
	Communication Category = iota // timeout, CRC, frame errors
	Membership                    // node add/remove/timeout
	Protocol                      // violation, invalid request/function/address, device failure
	Token                         // pass, reclaim
	StateChange                   // FSM transitions
)

func (c Category) String() string {
	switch c {
	case Communication:
		return "communication"
	case Membership:
		return "membership"
	case Protocol:
		return "protocol"
	case Token:
		return "token"
	case StateChange:
		return "state_change"
	default:
		return "unknown"
	}
}

// Event is a single observational record delivered to a registered sink.
type Event struct {
	Category Category
	Message  string
	NodeID   uint8 // 0 when not applicable
}

// Sink receives error or debug events. Implementations must not call
// back into the protocol instance that produced the event.
type Sink func(Event)

// NopSink discards every event; used when the host registers nothing.
func NopSink(Event) {}
