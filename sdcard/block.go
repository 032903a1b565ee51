package sdcard

import (
	"fmt"

	"github.com/TRENT-OS/rpi-spi-sd/pkg"
)

// ReadSectors fills buf with count sectors of data starting at sector.
// The card must be initialized and buf must hold at least count*512
// bytes. Sectors are transferred one at a time; the first failure aborts
// the remainder and the returned error names the failing sector.
func (c *Card) ReadSectors(sector int64, count int, buf []byte) error {
	if err := c.checkIO(sector, count, len(buf)); err != nil {
		return fmt.Errorf("read sectors: %w", err)
	}
	pkg.LogDebug(pkg.ComponentBlock, "read sectors",
		"sector", sector, "count", count)
	for i := 0; i < count; i++ {
		off := i * SectorSize
		if err := c.readSector(sector+int64(i), buf[off:off+SectorSize]); err != nil {
			return fmt.Errorf("read sector %d: %w", sector+int64(i), err)
		}
	}
	return nil
}

// WriteSectors writes count sectors from buf starting at sector, with
// the same preconditions and failure behavior as [Card.ReadSectors].
// Sectors already written when a later one fails stay written.
func (c *Card) WriteSectors(sector int64, count int, buf []byte) error {
	if err := c.checkIO(sector, count, len(buf)); err != nil {
		return fmt.Errorf("write sectors: %w", err)
	}
	pkg.LogDebug(pkg.ComponentBlock, "write sectors",
		"sector", sector, "count", count)
	for i := 0; i < count; i++ {
		off := i * SectorSize
		if err := c.writeSector(sector+int64(i), buf[off:off+SectorSize]); err != nil {
			return fmt.Errorf("write sector %d: %w", sector+int64(i), err)
		}
	}
	return nil
}

// checkIO validates the shared preconditions of the sector operations.
func (c *Card) checkIO(sector int64, count, bufLen int) error {
	if !c.ready {
		return pkg.ErrInvalidState
	}
	if sector < 0 || count < 0 {
		return fmt.Errorf("sector %d count %d: %w",
			sector, count, pkg.ErrInvalidParameter)
	}
	if bufLen < count*SectorSize {
		return fmt.Errorf("%d bytes for %d sectors: %w",
			bufLen, count, pkg.ErrBufferTooSmall)
	}
	return nil
}

// sectorArg converts a sector index into a command argument: a byte
// address on byte-addressed cards, the index itself on high-capacity
// cards.
func (c *Card) sectorArg(sector int64) uint32 {
	return uint32(sector * c.addrMult)
}

// readSector reads one sector into dst, which must be exactly one sector
// long. The select line is held from the command through the data packet
// and released before returning.
func (c *Card) readSector(sector int64, dst []byte) error {
	r1, err := c.commandHold(cmdReadSingleBlock, c.sectorArg(sector))
	if err != nil {
		return err
	}
	if r1 != 0 {
		c.release()
		return fmt.Errorf("response %s: %w", r1, pkg.ErrReject)
	}
	if err := c.readData(dst); err != nil {
		c.release()
		return err
	}
	return c.release()
}

// writeSector writes one sector from src, which must be exactly one
// sector long. After the data response the card is polled until it
// finishes programming the block.
func (c *Card) writeSector(sector int64, src []byte) error {
	r1, err := c.commandHold(cmdWriteBlock, c.sectorArg(sector))
	if err != nil {
		return err
	}
	if r1 != 0 {
		c.release()
		return fmt.Errorf("response %s: %w", r1, pkg.ErrReject)
	}

	if _, err := c.t.Transfer(tokenStartBlock); err != nil {
		c.release()
		return fmt.Errorf("start token: %w", err)
	}
	for i := range src {
		if _, err := c.t.Transfer(src[i]); err != nil {
			c.release()
			return fmt.Errorf("payload byte %d: %w", i, err)
		}
	}
	// Checksum fillers; the card ignores them with CRC checking disabled.
	for i := 0; i < 2; i++ {
		if _, err := c.t.Transfer(fillByte); err != nil {
			c.release()
			return fmt.Errorf("checksum: %w", err)
		}
	}

	resp, err := c.t.Transfer(fillByte)
	if err != nil {
		c.release()
		return fmt.Errorf("data response: %w", err)
	}
	if resp&dataRespMask != dataRespAccepted {
		c.release()
		return fmt.Errorf("data response %#02x: %w", resp, pkg.ErrReject)
	}

	if err := c.waitBusy(); err != nil {
		c.release()
		return err
	}
	return c.release()
}

// readRegister reads a 16-byte register transmitted as a data packet
// directly after the command response.
func (c *Card) readRegister(cmd byte, dst *[16]byte) error {
	r1, err := c.commandHold(cmd, 0)
	if err != nil {
		return err
	}
	if r1 != 0 {
		c.release()
		return fmt.Errorf("cmd%d: response %s: %w", cmd, r1, pkg.ErrReject)
	}
	if err := c.readData(dst[:]); err != nil {
		c.release()
		return fmt.Errorf("cmd%d: %w", cmd, err)
	}
	return c.release()
}

// readData collects one data packet: the start-of-data token, len(dst)
// payload bytes, and two checksum bytes, which are discarded unchecked.
func (c *Card) readData(dst []byte) error {
	if err := c.waitToken(); err != nil {
		return err
	}
	for i := range dst {
		b, err := c.t.Transfer(fillByte)
		if err != nil {
			return fmt.Errorf("payload byte %d: %w", i, err)
		}
		dst[i] = b
	}
	for i := 0; i < 2; i++ {
		if _, err := c.t.Transfer(fillByte); err != nil {
			return fmt.Errorf("checksum: %w", err)
		}
	}
	return nil
}

// waitToken hunts for the start-of-data token. Cards insert a variable
// number of filler bytes before the packet; the hunt is bounded so a
// wedged card cannot stall the driver forever.
func (c *Card) waitToken() error {
	for i := 0; i < c.cfg.TokenAttempts; i++ {
		b, err := c.t.Transfer(fillByte)
		if err != nil {
			return fmt.Errorf("data token: %w", err)
		}
		if b == tokenStartBlock {
			return nil
		}
	}
	return fmt.Errorf("data token: %w", pkg.ErrTimeout)
}

// waitBusy polls until the card releases the data line after programming
// a block. The card holds the line low for the whole programming time.
func (c *Card) waitBusy() error {
	for i := 0; i < c.cfg.BusyAttempts; i++ {
		b, err := c.t.Transfer(fillByte)
		if err != nil {
			return fmt.Errorf("busy poll: %w", err)
		}
		if b != 0 {
			return nil
		}
	}
	return fmt.Errorf("busy poll: %w", pkg.ErrTimeout)
}
