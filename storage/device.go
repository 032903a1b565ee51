package storage

import (
	"fmt"
	"math"

	"github.com/TRENT-OS/rpi-spi-sd/pkg"
	"github.com/TRENT-OS/rpi-spi-sd/sdcard"
)

// eraseByte is the value erased ranges read back as, matching the erased
// state of the underlying flash.
const eraseByte = 0xFF

// State describes whether a device can accept I/O.
type State int

// Device states.
const (
	NotReady State = iota
	Ready
)

// String returns the state name.
func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "not-ready"
}

// Device exposes an initialized card as a flat byte range. It translates
// arbitrary byte offsets and lengths onto the card's fixed sector grid:
// partially covered boundary sectors go through a read-modify-write cycle
// so the bytes around the requested range survive, and fully covered
// interior sectors transfer wholesale.
//
// Ranges are validated against the sector count learned at
// initialization, so a rejected request costs no bus traffic.
//
// A Device is not safe for concurrent use; callers serialize access the
// same way they do for the card itself. Operations that fail partway
// report the bytes already transferred and do not roll anything back.
type Device struct {
	card        *sdcard.Card
	scratch     [sdcard.SectorSize]byte
	maxTransfer int
}

// NewDevice wraps card, which the caller has already initialized (or will
// initialize before the first operation).
func NewDevice(card *sdcard.Card) *Device {
	return &Device{card: card}
}

// SetMaxTransfer caps the byte length of a single read or write call.
// Requests over the cap fail with [pkg.ErrInvalidParameter]. A limit of
// zero or less removes the cap. Boundary layers with a fixed exchange
// buffer set this to its size.
func (d *Device) SetMaxTransfer(limit int) {
	if limit < 0 {
		limit = 0
	}
	d.maxTransfer = limit
}

// MaxTransfer returns the configured transfer cap, zero meaning no cap.
func (d *Device) MaxTransfer() int {
	return d.maxTransfer
}

// State reports whether the device is ready for I/O.
func (d *Device) State() State {
	if d.card.Ready() {
		return Ready
	}
	return NotReady
}

// Size returns the device capacity in bytes. The size descriptor is
// re-read from the card on every call, so a medium that stopped
// responding surfaces here as an error rather than a stale answer.
func (d *Device) Size() (int64, error) {
	return d.card.Capacity()
}

// checkTransfer enforces the per-call byte cap.
func (d *Device) checkTransfer(n int) error {
	if d.maxTransfer > 0 && n > d.maxTransfer {
		return fmt.Errorf("%d bytes over the %d byte transfer cap: %w",
			n, d.maxTransfer, pkg.ErrInvalidParameter)
	}
	return nil
}

// validate rejects ranges that fall outside the device. Only the sector
// count cached at initialization is consulted; no bus traffic happens.
func (d *Device) validate(off, length int64) error {
	if off < 0 || length < 0 || off > math.MaxInt64-length {
		return fmt.Errorf("offset %d length %d: %w",
			off, length, pkg.ErrOutOfBounds)
	}
	if total := d.card.Sectors() * sdcard.SectorSize; off+length > total {
		return fmt.Errorf("offset %d length %d exceeds capacity %d: %w",
			off, length, total, pkg.ErrOutOfBounds)
	}
	return nil
}

// ReadRange fills p with the bytes at offset off, returning how many were
// read. Boundary sectors pass through the scratch buffer; interior
// sectors land directly in p.
func (d *Device) ReadRange(p []byte, off int64) (int, error) {
	if !d.card.Ready() {
		return 0, fmt.Errorf("read range: %w", pkg.ErrInvalidState)
	}
	if err := d.checkTransfer(len(p)); err != nil {
		return 0, fmt.Errorf("read range: %w", err)
	}
	if err := d.validate(off, int64(len(p))); err != nil {
		return 0, fmt.Errorf("read range: %w", err)
	}
	if len(p) == 0 {
		return 0, nil
	}
	pkg.LogDebug(pkg.ComponentStorage, "read range",
		"offset", off, "length", len(p))

	sector := off / sdcard.SectorSize
	shift := int(off % sdcard.SectorSize)

	// Lead sector, honoring the in-sector shift.
	n := sdcard.SectorSize - shift
	if n > len(p) {
		n = len(p)
	}
	if err := d.card.ReadSectors(sector, 1, d.scratch[:]); err != nil {
		return 0, fmt.Errorf("read range: %w", err)
	}
	copy(p[:n], d.scratch[shift:shift+n])
	read := n
	sector++

	for read < len(p) {
		remaining := len(p) - read
		if remaining >= sdcard.SectorSize {
			err := d.card.ReadSectors(sector, 1, p[read:read+sdcard.SectorSize])
			if err != nil {
				return read, fmt.Errorf("read range: %w", err)
			}
			read += sdcard.SectorSize
		} else {
			if err := d.card.ReadSectors(sector, 1, d.scratch[:]); err != nil {
				return read, fmt.Errorf("read range: %w", err)
			}
			copy(p[read:], d.scratch[:remaining])
			read += remaining
		}
		sector++
	}
	return read, nil
}

// WriteRange stores p at offset off, returning how many bytes were
// written. The lead sector always goes through a read-modify-write cycle,
// as does a partially covered trailing sector; fully covered sectors
// after the lead are written wholesale with no preceding read.
func (d *Device) WriteRange(p []byte, off int64) (int, error) {
	if !d.card.Ready() {
		return 0, fmt.Errorf("write range: %w", pkg.ErrInvalidState)
	}
	if err := d.checkTransfer(len(p)); err != nil {
		return 0, fmt.Errorf("write range: %w", err)
	}
	if err := d.validate(off, int64(len(p))); err != nil {
		return 0, fmt.Errorf("write range: %w", err)
	}
	if len(p) == 0 {
		return 0, nil
	}
	pkg.LogDebug(pkg.ComponentStorage, "write range",
		"offset", off, "length", len(p))

	sector := off / sdcard.SectorSize
	shift := int(off % sdcard.SectorSize)

	n := sdcard.SectorSize - shift
	if n > len(p) {
		n = len(p)
	}
	if err := d.card.ReadSectors(sector, 1, d.scratch[:]); err != nil {
		return 0, fmt.Errorf("write range: %w", err)
	}
	copy(d.scratch[shift:shift+n], p[:n])
	if err := d.card.WriteSectors(sector, 1, d.scratch[:]); err != nil {
		return 0, fmt.Errorf("write range: %w", err)
	}
	written := n
	sector++

	for written < len(p) {
		remaining := len(p) - written
		if remaining >= sdcard.SectorSize {
			err := d.card.WriteSectors(sector, 1, p[written:written+sdcard.SectorSize])
			if err != nil {
				return written, fmt.Errorf("write range: %w", err)
			}
			written += sdcard.SectorSize
		} else {
			if err := d.card.ReadSectors(sector, 1, d.scratch[:]); err != nil {
				return written, fmt.Errorf("write range: %w", err)
			}
			copy(d.scratch[:remaining], p[written:])
			if err := d.card.WriteSectors(sector, 1, d.scratch[:]); err != nil {
				return written, fmt.Errorf("write range: %w", err)
			}
			written += remaining
		}
		sector++
	}
	return written, nil
}

// EraseRange fills length bytes at offset off with the erase value 0xFF,
// decomposed onto the sector grid the same way [Device.WriteRange] is.
// It returns how many bytes were erased.
func (d *Device) EraseRange(off, length int64) (int64, error) {
	if !d.card.Ready() {
		return 0, fmt.Errorf("erase range: %w", pkg.ErrInvalidState)
	}
	if err := d.validate(off, length); err != nil {
		return 0, fmt.Errorf("erase range: %w", err)
	}
	if length == 0 {
		return 0, nil
	}
	pkg.LogDebug(pkg.ComponentStorage, "erase range",
		"offset", off, "length", length)

	sector := off / sdcard.SectorSize
	shift := int(off % sdcard.SectorSize)

	lead := int64(sdcard.SectorSize - shift)
	if lead > length {
		lead = length
	}
	if err := d.card.ReadSectors(sector, 1, d.scratch[:]); err != nil {
		return 0, fmt.Errorf("erase range: %w", err)
	}
	fillErase(d.scratch[shift : shift+int(lead)])
	if err := d.card.WriteSectors(sector, 1, d.scratch[:]); err != nil {
		return 0, fmt.Errorf("erase range: %w", err)
	}
	erased := lead
	sector++

	// Interior sectors are whole fills, no read needed.
	fillErase(d.scratch[:])
	for length-erased >= sdcard.SectorSize {
		if err := d.card.WriteSectors(sector, 1, d.scratch[:]); err != nil {
			return erased, fmt.Errorf("erase range: %w", err)
		}
		erased += sdcard.SectorSize
		sector++
	}

	if remaining := length - erased; remaining > 0 {
		if err := d.card.ReadSectors(sector, 1, d.scratch[:]); err != nil {
			return erased, fmt.Errorf("erase range: %w", err)
		}
		fillErase(d.scratch[:remaining])
		if err := d.card.WriteSectors(sector, 1, d.scratch[:]); err != nil {
			return erased, fmt.Errorf("erase range: %w", err)
		}
		erased += remaining
	}
	return erased, nil
}

func fillErase(b []byte) {
	for i := range b {
		b[i] = eraseByte
	}
}
