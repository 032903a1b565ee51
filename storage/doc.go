// Package storage presents an initialized SD card as a flat, byte
// addressed range. The card only moves whole 512-byte sectors;
// [Device] decomposes arbitrary (offset, length) requests onto that
// grid.
//
// # Decomposition
//
// A request covers a lead sector, zero or more interior sectors, and at
// most one trailing sector. The lead and a partial trailer go through a
// read-modify-write cycle against a one-sector scratch buffer so
// neighboring bytes survive; interior sectors transfer wholesale. On
// writes the lead cycle runs even when the request covers it entirely.
//
// Erase is a write of the fill value 0xFF, the erased state of the
// underlying flash.
//
// # Failure behavior
//
// Ranges are validated before any bus traffic; violations return
// [pkg.ErrOutOfBounds] with zero transactions on the medium. A transfer
// that fails partway returns the bytes already moved. Nothing is rolled
// back: sectors written before the failure stay written.
//
// # Concurrency
//
// A Device is not safe for concurrent use. The boundary layer that owns
// it serializes requests, the same contract the card driver itself has.
package storage
