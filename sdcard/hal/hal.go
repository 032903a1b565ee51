package hal

import "time"

// Transport defines the capability interface between the card driver and
// the physical serial link.
//
// The protocol above it is strictly half-duplex and sequential: every
// outgoing byte clocks exactly one incoming byte, and the driver decides
// from the incoming stream when a transaction is complete. Implementations
// therefore must not buffer, coalesce, or reorder transfers.
//
// Transports are driven by a single goroutine at a time; implementations
// are not required to be safe for concurrent use.
type Transport interface {
	// Transfer exchanges exactly one byte on the serial link: tx is
	// clocked out while the returned byte is clocked in. The driver
	// sends 0xFF when it only wants to receive.
	Transfer(tx byte) (byte, error)

	// SetSelect asserts (true) or releases (false) the card select
	// line. Electrical polarity is the implementation's concern; the
	// driver thinks in terms of selected/deselected only.
	SetSelect(assert bool) error

	// Wait blocks the calling goroutine for at least d. The protocol
	// engine uses it for the mandatory settling delays during
	// initialization; no work may be interleaved during the wait.
	Wait(d time.Duration)
}

// ClockSetter is implemented by transports whose serial clock rate can be
// reprogrammed at runtime. The card driver probes for it with a type
// assertion: initialization runs at a slow clock and switches to the
// configured transfer clock once the card reports ready. Transports with
// a fixed clock simply omit the method.
type ClockSetter interface {
	// SetClock reprograms the serial clock to the given frequency in
	// hertz. Implementations may round to the nearest rate the
	// hardware supports.
	SetClock(hz uint32) error
}
