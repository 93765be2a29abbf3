// Package config holds the process-wide timing and sizing parameters of
// the ModBee protocol stack, owned by the protocol instance rather than
// kept as package-level globals (see design note on "Globals").
package config

import "time"

// Config is the set of configurable parameters listed in spec §6. All
// fields use their natural unit so callers never need to guess; Config
// exposes them as time.Duration for use with the injected clocks.
type Config struct {
	InterframeGap      time.Duration
	OperationTimeout   time.Duration
	ResponseTimeout    time.Duration
	RetryDelay         time.Duration
	MaxRetries         int
	InitialListenBase  time.Duration
	TokenResponseTime  time.Duration
	BaseTimeout        time.Duration
	NodeTimeout        time.Duration
	TokenReclaimBase   time.Duration
	JoinCycleInterval  time.Duration
	JoinResponseWindow time.Duration
	MaxNodes           int
	EnableFailSafe     bool
}

// Default returns the stock timings from spec §6.
func Default() Config {
	return Config{
		InterframeGap:      5000 * time.Microsecond,
		OperationTimeout:   100 * time.Millisecond,
		ResponseTimeout:    100 * time.Millisecond,
		RetryDelay:         100 * time.Millisecond,
		MaxRetries:         2,
		InitialListenBase:  2000 * time.Millisecond,
		TokenResponseTime:  50 * time.Millisecond,
		BaseTimeout:        100 * time.Millisecond,
		NodeTimeout:        50 * time.Millisecond,
		TokenReclaimBase:   30 * time.Millisecond,
		JoinCycleInterval:  50 * time.Millisecond,
		JoinResponseWindow: 20 * time.Millisecond,
		MaxNodes:           10,
		EnableFailSafe:     false,
	}
}

// Scaled multiplies a base duration by MaxNodes. Several timeouts in
// spec §4.6/§4.7 are repeatedly expressed as "BASE × MAX_NODES" — this is
// a documented design choice (spec §9), not an invariant, so it lives
// here as a single helper rather than being re-derived at each call site.
func (c Config) Scaled(base time.Duration) time.Duration {
	return base * time.Duration(c.MaxNodes)
}

// ListenTime returns the per-node staggered listen timeout of spec §4.6:
// INITIAL_LISTEN_PERIOD_MS + (node_id mod 10) * 100ms.
func (c Config) ListenTime(nodeID uint8) time.Duration {
	return c.InitialListenBase + time.Duration(int(nodeID)%10)*100*time.Millisecond
}
