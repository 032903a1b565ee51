// Package sdcard implements the card-facing half of the storage driver:
// the SPI-mode command protocol, the initialization handshake, and
// single-sector block I/O.
//
// The package is transport-agnostic. All bus access goes through the
// [hal.Transport] capability interface injected at construction, so the
// same protocol engine drives real hardware (sdcard/hal/spidev) and the
// simulated card used by the tests (sdcard/hal/sim).
//
// # Initialization
//
// A [Card] starts out unrecognized and becomes ready only through the
// full handshake:
//
//	card := sdcard.New(transport, sdcard.Config{})
//	if err := card.Init(); err != nil {
//	    // The medium is unusable; no I/O is possible.
//	}
//
// Init detects the card generation (original, generation 2, or
// generation 2 high capacity), decodes the size descriptor to learn the
// sector count and the addressing mode, and locks the block length to
// [SectorSize]. The handle caches all of it; nothing is re-queried per
// transfer.
//
// # Sector I/O
//
// Reads and writes move whole 512-byte sectors, one block transaction
// per sector:
//
//	buf := make([]byte, 2*sdcard.SectorSize)
//	err := card.ReadSectors(10, 2, buf)
//
// Partial-sector access and read-modify-write composition live one layer
// up, in the storage package.
//
// # Concurrency
//
// A Card is not safe for concurrent use. The protocol is strictly
// sequential request/response on a shared bus; callers serialize.
package sdcard
