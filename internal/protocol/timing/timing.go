// Package timing estimates how long the radio side of an exchange can
// take. The model is pure: it knows nothing about pending requests or
// transports, it only prices a path.
package timing

import "time"

// Flood marks an unknown or broadcast route. It prices as the worst case.
const Flood = -1

// Model converts a route length and payload size into a deadline.
//
// Base is the fixed allowance for device processing and link latency,
// PerHop the airtime overhead of each traversed leg, PerByte the
// narrowband serialization cost of one payload byte per leg. FloodHops is
// the worst-case hop count: flood routes price at FloodHops and fixed
// routes clamp to it, so a flood deadline is never shorter than any
// fixed-path deadline.
type Model struct {
	Base      time.Duration
	PerHop    time.Duration
	PerByte   time.Duration
	FloodHops int
}

// DefaultModel is tuned for a LoRa-class link in the low kbit/s range.
func DefaultModel() Model {
	return Model{
		Base:      4 * time.Second,
		PerHop:    500 * time.Millisecond,
		PerByte:   10 * time.Millisecond,
		FloodHops: 8,
	}
}

// WithDefaults fills zero fields from DefaultModel.
func (m Model) WithDefaults() Model {
	def := DefaultModel()
	if m.Base <= 0 {
		m.Base = def.Base
	}
	if m.PerHop <= 0 {
		m.PerHop = def.PerHop
	}
	if m.PerByte <= 0 {
		m.PerByte = def.PerByte
	}
	if m.FloodHops <= 0 {
		m.FloodHops = def.FloodHops
	}
	return m
}

// Timeout returns the deadline for a payload of payloadBytes sent over
// pathLen intermediate hops (Flood for an unknown route). The result is
// monotonically non-decreasing in both arguments.
func (m Model) Timeout(pathLen, payloadBytes int) time.Duration {
	hops := pathLen
	if hops < 0 || hops > m.FloodHops {
		hops = m.FloodHops
	}
	if payloadBytes < 0 {
		payloadBytes = 0
	}
	// A direct exchange still crosses the link once, so legs = hops+1.
	legs := time.Duration(hops + 1)
	return m.Base + legs*m.PerHop + legs*time.Duration(payloadBytes)*m.PerByte
}

// BackoffConfig defines the delay schedule between retransmit attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// DefaultBackoff returns the retransmit schedule defaults.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}
