package sdcard

import (
	"errors"
	"fmt"
	"time"

	"github.com/TRENT-OS/rpi-spi-sd/pkg"
	"github.com/TRENT-OS/rpi-spi-sd/sdcard/hal"
)

// Default attempt budgets and timings, sized for cards on a slow
// initialization clock. Every wait loop in the driver is bounded by one
// of these so a wedged card cannot stall the caller forever.
const (
	defaultCommandAttempts = 5000
	defaultResetAttempts   = 6
	defaultInitAttempts    = 5000
	defaultTokenAttempts   = 10000
	defaultBusyAttempts    = 500000
	defaultInitPollDelay   = 50 * time.Millisecond
)

// Config tunes the retry budgets and clock rates of a [Card]. The zero
// value selects defaults suitable for real hardware; tests shrink the
// budgets to keep failure paths fast.
type Config struct {
	// CommandAttempts bounds the response poll after each command frame.
	CommandAttempts int

	// ResetAttempts is how many times the reset command is issued. Cards
	// fresh out of power-up may answer the first attempts with garbage,
	// so every response but the last is ignored. The minimum (and
	// default) is six.
	ResetAttempts int

	// InitAttempts bounds the initialization retry loops of both card
	// generations.
	InitAttempts int

	// TokenAttempts bounds the search for the start-of-data token when
	// receiving a block.
	TokenAttempts int

	// BusyAttempts bounds the poll for write completion after a data
	// block is accepted.
	BusyAttempts int

	// InitPollDelay is waited before each generation-2 initialization
	// iteration.
	InitPollDelay time.Duration

	// InitClockHz is applied through [hal.ClockSetter] before the
	// handshake. Zero leaves the transport clock untouched.
	InitClockHz uint32

	// TransferClockHz is applied once the card is ready. Zero keeps the
	// initialization clock.
	TransferClockHz uint32
}

// setDefaults replaces unset fields with their defaults.
func (c *Config) setDefaults() {
	if c.CommandAttempts <= 0 {
		c.CommandAttempts = defaultCommandAttempts
	}
	if c.ResetAttempts < defaultResetAttempts {
		c.ResetAttempts = defaultResetAttempts
	}
	if c.InitAttempts <= 0 {
		c.InitAttempts = defaultInitAttempts
	}
	if c.TokenAttempts <= 0 {
		c.TokenAttempts = defaultTokenAttempts
	}
	if c.BusyAttempts <= 0 {
		c.BusyAttempts = defaultBusyAttempts
	}
	if c.InitPollDelay <= 0 {
		c.InitPollDelay = defaultInitPollDelay
	}
}

// Card is the device handle for one attached SD card. It owns the whole
// logical state of the medium: the detected generation, the addressing
// multiplier, and the sector count. State is created by [New], replaced
// wholesale by [Card.Init], and never patched piecemeal.
//
// A Card is not safe for concurrent use. The protocol below it is
// strictly half-duplex and sequential; callers must serialize access.
type Card struct {
	t   hal.Transport
	cfg Config

	typ      Type
	addrMult int64
	sectors  int64
	ready    bool
}

// New wraps transport t in an uninitialized card handle. No bus traffic
// happens until [Card.Init] is called.
func New(t hal.Transport, cfg Config) *Card {
	cfg.setDefaults()
	return &Card{t: t, cfg: cfg}
}

// Init drives the card through its initialization handshake: power-up
// clocking, software reset, version probe, the generation-specific
// initialization loop, capacity decoding, and block-length selection.
// On success the handle is ready for sector I/O; on failure it is left
// unrecognized and a later Init may be attempted again.
//
// Failures are reported as [pkg.ErrUnrecognized] (the medium does not
// behave like an SD card), [pkg.ErrTimeout] (an initialization loop
// exhausted its budget), [pkg.ErrReject], or [pkg.ErrUnsupportedMedium]
// (undecodable size descriptor), all wrapped with the failing stage.
func (c *Card) Init() error {
	c.ready = false
	c.typ = TypeUnrecognized
	c.addrMult = 0
	c.sectors = 0

	if c.cfg.InitClockHz > 0 {
		if cs, ok := c.t.(hal.ClockSetter); ok {
			if err := cs.SetClock(c.cfg.InitClockHz); err != nil {
				return fmt.Errorf("set init clock: %w", err)
			}
		}
	}

	if err := c.powerUp(); err != nil {
		return err
	}
	if err := c.reset(); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentCard, "reset complete, card idle")

	r1, err := c.probeVersion()
	if err != nil {
		if errors.Is(err, pkg.ErrTimeout) {
			return fmt.Errorf("version probe: %w", pkg.ErrUnrecognized)
		}
		return err
	}
	pkg.LogDebug(pkg.ComponentCard, "version probe", "response", r1)

	switch r1 {
	case R1IdleState:
		err = c.initV2()
	case R1IdleState | R1IllegalCommand:
		err = c.initV1()
	default:
		return fmt.Errorf("version probe: response %s: %w", r1, pkg.ErrUnrecognized)
	}
	if err != nil {
		return err
	}

	// The size descriptor is authoritative for addressing: generation-2
	// standard-capacity cards stay byte addressed despite taking the
	// generation-2 initialization path.
	var csd [16]byte
	if err := c.readRegister(cmdSendCSD, &csd); err != nil {
		return fmt.Errorf("size descriptor: %w", err)
	}
	sectors, addrMult, err := decodeCSD(csd[:])
	if err != nil {
		return err
	}
	c.sectors = sectors
	c.addrMult = addrMult
	pkg.LogDebug(pkg.ComponentCard, "size descriptor decoded",
		"sectors", sectors, "byteAddressed", addrMult != 1)

	r1, err = c.command(cmdSetBlocklen, SectorSize)
	if err != nil {
		return fmt.Errorf("set block length: %w", err)
	}
	if r1 != 0 {
		return fmt.Errorf("set block length: response %s: %w", r1, pkg.ErrReject)
	}

	if c.cfg.TransferClockHz > 0 {
		if cs, ok := c.t.(hal.ClockSetter); ok {
			if err := cs.SetClock(c.cfg.TransferClockHz); err != nil {
				return fmt.Errorf("set transfer clock: %w", err)
			}
		}
	}

	c.ready = true
	pkg.LogInfo(pkg.ComponentCard, "card ready",
		"type", c.typ,
		"sectors", c.sectors,
		"capacityBytes", c.sectors*SectorSize)

	// Identification is informational only; failure to read it does not
	// demote a working card.
	if cid, err := c.ReadCID(); err == nil {
		pkg.LogInfo(pkg.ComponentCard, "card identification",
			"manufacturer", cid.Manufacturer,
			"oem", cid.OEM,
			"product", cid.Product,
			"serial", cid.Serial,
			"manufactured", fmt.Sprintf("%04d-%02d", cid.Year, cid.Month))
	}

	return nil
}

// powerUp clocks the card with select released so it can finish its
// internal startup before the first command.
func (c *Card) powerUp() error {
	if err := c.t.SetSelect(false); err != nil {
		return fmt.Errorf("power-up: select: %w", err)
	}
	for i := 0; i < 16; i++ {
		if _, err := c.t.Transfer(fillByte); err != nil {
			return fmt.Errorf("power-up: clock: %w", err)
		}
	}
	return nil
}

// reset fires the software-reset command repeatedly and judges only the
// final response, which must report a clean idle state.
func (c *Card) reset() error {
	var r1 R1
	var err error
	for i := 0; i < c.cfg.ResetAttempts; i++ {
		r1, err = c.command(cmdGoIdleState, 0)
	}
	switch {
	case err != nil && errors.Is(err, pkg.ErrTimeout):
		return fmt.Errorf("reset: no response: %w", pkg.ErrUnrecognized)
	case err != nil:
		return err
	case r1 != R1IdleState:
		return fmt.Errorf("reset: response %s: %w", r1, pkg.ErrUnrecognized)
	}
	return nil
}

// initV1 runs the generation-1 initialization loop: the application
// initialization command with a zero argument until the card leaves the
// idle state. Generation-1 cards are always byte addressed.
func (c *Card) initV1() error {
	for i := 0; i < c.cfg.InitAttempts; i++ {
		r1, err := c.appCommand(acmdSDSendOpCond, 0)
		if err != nil && !errors.Is(err, pkg.ErrTimeout) {
			return err
		}
		if err == nil && r1 == 0 {
			c.typ = TypeV1
			c.addrMult = SectorSize
			pkg.LogDebug(pkg.ComponentCard, "initialization complete",
				"type", c.typ, "attempts", i+1)
			return nil
		}
	}
	return fmt.Errorf("generation 1 init: %w", pkg.ErrTimeout)
}

// initV2 runs the generation-2 initialization loop: poll the
// operation-conditions register, then issue the application
// initialization command announcing sector-addressing support. Once the
// card reports ready, the register is read again to learn whether it
// actually uses sector addressing.
func (c *Card) initV2() error {
	for i := 0; i < c.cfg.InitAttempts; i++ {
		c.t.Wait(c.cfg.InitPollDelay)
		if _, _, err := c.readOCR(); err != nil && !errors.Is(err, pkg.ErrTimeout) {
			return err
		}
		r1, err := c.appCommand(acmdSDSendOpCond, opCondHCS)
		if err != nil && !errors.Is(err, pkg.ErrTimeout) {
			return err
		}
		if err == nil && r1 == 0 {
			_, ocr, err := c.readOCR()
			if err != nil {
				return err
			}
			c.typ = TypeV2
			if ocr&ocrPowerUpDone != 0 && ocr&ocrHighCapacity != 0 {
				c.typ = TypeV2HC
			}
			c.addrMult = 1
			pkg.LogDebug(pkg.ComponentCard, "initialization complete",
				"type", c.typ, "attempts", i+1, "ocr", fmt.Sprintf("%#08x", ocr))
			return nil
		}
	}
	return fmt.Errorf("generation 2 init: %w", pkg.ErrTimeout)
}

// Capacity re-reads the size descriptor and returns the card capacity in
// bytes. Unlike [Card.Sectors] this issues a bus transaction every call,
// so a card that stopped answering is detected rather than reported from
// stale state.
func (c *Card) Capacity() (int64, error) {
	if !c.ready {
		return 0, fmt.Errorf("capacity: %w", pkg.ErrInvalidState)
	}
	var csd [16]byte
	if err := c.readRegister(cmdSendCSD, &csd); err != nil {
		return 0, fmt.Errorf("capacity: %w", err)
	}
	sectors, _, err := decodeCSD(csd[:])
	if err != nil {
		return 0, fmt.Errorf("capacity: %w", err)
	}
	return sectors * SectorSize, nil
}

// Ready reports whether initialization completed successfully.
func (c *Card) Ready() bool {
	return c.ready
}

// Type returns the card generation detected during initialization.
func (c *Card) Type() Type {
	return c.typ
}

// Sectors returns the sector count learned during initialization.
func (c *Card) Sectors() int64 {
	return c.sectors
}
