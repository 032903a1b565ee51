package sdcard

import (
	"fmt"

	"github.com/TRENT-OS/rpi-spi-sd/pkg"
)

// frameCRC returns the checksum byte for a command frame. Only the two
// commands issued while the card still checks CRCs need a real value.
func frameCRC(cmd byte) byte {
	if cmd == cmdSendIfCond {
		return crcSendIfCond
	}
	return crcGoIdleState
}

// release deasserts the select line and clocks one idle byte so the card
// lets go of the data line.
func (c *Card) release() error {
	if err := c.t.SetSelect(false); err != nil {
		return fmt.Errorf("release select: %w", err)
	}
	if _, err := c.t.Transfer(fillByte); err != nil {
		return fmt.Errorf("trailing idle: %w", err)
	}
	return nil
}

// commandHold sends one framed command and returns the card's R1 reply,
// leaving the select line asserted so the caller can collect a multi-byte
// payload that follows the response. On failure the line is released
// before returning.
func (c *Card) commandHold(cmd byte, arg uint32) (R1, error) {
	if err := c.t.SetSelect(true); err != nil {
		return 0, fmt.Errorf("cmd%d: select: %w", cmd, err)
	}

	frame := [frameSize]byte{
		frameStart | cmd,
		byte(arg >> 24),
		byte(arg >> 16),
		byte(arg >> 8),
		byte(arg),
		frameCRC(cmd),
	}
	for _, b := range frame {
		if _, err := c.t.Transfer(b); err != nil {
			c.release()
			return 0, fmt.Errorf("cmd%d: send: %w", cmd, err)
		}
	}

	// The card answers after a few idle bytes; anything with bit 7 set
	// is still line filler.
	for i := 0; i < c.cfg.CommandAttempts; i++ {
		b, err := c.t.Transfer(fillByte)
		if err != nil {
			c.release()
			return 0, fmt.Errorf("cmd%d: response: %w", cmd, err)
		}
		if r := R1(b); r.Valid() {
			return r, nil
		}
	}

	c.release()
	return 0, fmt.Errorf("cmd%d: %w", cmd, pkg.ErrTimeout)
}

// command sends one framed command and finishes the bus transaction:
// the select line is released and an idle byte clocked before returning.
func (c *Card) command(cmd byte, arg uint32) (R1, error) {
	r1, err := c.commandHold(cmd, arg)
	if err != nil {
		return r1, err
	}
	if err := c.release(); err != nil {
		return r1, fmt.Errorf("cmd%d: %w", cmd, err)
	}
	return r1, nil
}

// appCommand sends the application-command prefix followed by cmd.
func (c *Card) appCommand(cmd byte, arg uint32) (R1, error) {
	if _, err := c.command(cmdAppCmd, 0); err != nil {
		return 0, err
	}
	return c.command(cmd, arg)
}

// probeVersion issues the voltage-probe command that splits the two
// initialization paths. The four-byte echo trailer is drained regardless
// of the response: generation-1 cards reject the command and send only
// line filler there, which is harmless to read.
func (c *Card) probeVersion() (R1, error) {
	r1, err := c.commandHold(cmdSendIfCond, probeArg)
	if err != nil {
		return r1, err
	}
	for i := 0; i < 4; i++ {
		if _, err := c.t.Transfer(fillByte); err != nil {
			c.release()
			return r1, fmt.Errorf("cmd%d: echo: %w", cmdSendIfCond, err)
		}
	}
	if err := c.release(); err != nil {
		return r1, fmt.Errorf("cmd%d: %w", cmdSendIfCond, err)
	}
	return r1, nil
}

// readOCR queries the operation-conditions register, returning the R1
// reply and the 32-bit register transmitted directly after it.
func (c *Card) readOCR() (R1, uint32, error) {
	r1, err := c.commandHold(cmdReadOCR, 0)
	if err != nil {
		return r1, 0, err
	}
	var ocr uint32
	for i := 0; i < 4; i++ {
		b, err := c.t.Transfer(fillByte)
		if err != nil {
			c.release()
			return r1, 0, fmt.Errorf("cmd%d: ocr: %w", cmdReadOCR, err)
		}
		ocr = ocr<<8 | uint32(b)
	}
	if err := c.release(); err != nil {
		return r1, ocr, fmt.Errorf("cmd%d: %w", cmdReadOCR, err)
	}
	return r1, ocr, nil
}
