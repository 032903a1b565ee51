package sim

import (
	"fmt"
	"time"

	"github.com/TRENT-OS/rpi-spi-sd/pkg"
	"github.com/TRENT-OS/rpi-spi-sd/sdcard/hal"
)

// Byte-level protocol constants, seen from the card side.
const (
	idleByte   = 0xFF // line filler while nobody transmits
	frameStart = 0x40 // start+transmission bit pattern of a command frame
	frameMask  = 0xC0 // the two framing bits
	frameSize  = 6

	tokenStart = 0xFE // start-of-data token
	writeBody  = SectorSize + 2

	respAccepted   = 0x05 // data response: block accepted
	respWriteError = 0x0D // data response: write error

	garbageReply = 0x3F // reply sent while still powering up

	r1Idle    = 0x01
	r1Illegal = 0x04
	r1Address = 0x20
	r1Param   = 0x40
)

// Command indices the simulated card implements.
const (
	cmdReset    = 0
	cmdProbe    = 8
	cmdCSD      = 9
	cmdCID      = 10
	cmdBlockLen = 16
	cmdRead     = 17
	cmdWrite    = 24
	cmdApp      = 55
	cmdOCR      = 58
	acmdOpCond  = 41
)

// Identity reported through the identification register.
const (
	cidManufacturer = 0x42
	cidOEM          = "GO"
	cidProduct      = "SDSIM"
	cidRevision     = 0x10 // 1.0
	cidYear         = 2024
	cidMonth        = 6
)

// Config selects the personality and the injected faults of a simulated
// card. The zero value is a well-behaved generation-2 standard-capacity
// card that answers its first initialization poll busy.
type Config struct {
	// V1 selects the generation-1 personality: the version probe is
	// rejected as an illegal command.
	V1 bool

	// HighCapacity selects sector addressing and the high-capacity size
	// descriptor layout. The media sector count must be a multiple of
	// 1024.
	HighCapacity bool

	// InitPolls is how many initialization polls are answered busy
	// before the card reports ready. Zero means one; negative means
	// ready immediately.
	InitPolls int

	// ResetGarbage is how many leading reset commands are answered with
	// a garbage byte instead of idle, imitating a card still powering
	// up. Must stay below the driver's reset budget for initialization
	// to succeed.
	ResetGarbage int

	// TokenDelay inserts that many filler bytes between a read response
	// and its data token.
	TokenDelay int

	// BusyBytes is how many busy bytes the card holds the line low for
	// after accepting a write. Zero means two.
	BusyBytes int

	// Serial overrides the serial number reported in the identification
	// register. Zero means one.
	Serial uint32

	// Mute makes the card never answer anything: every command times
	// out.
	Mute bool

	// WithholdToken makes reads answer their command but never send the
	// data token.
	WithholdToken bool

	// RejectWrites makes the card refuse every data block with a write
	// error response.
	RejectWrites bool

	// WriteBudget is how many writes the card accepts before it starts
	// rejecting them. Zero means unlimited.
	WriteBudget int

	// FailBlockLen answers the set-block-length command with a
	// parameter error.
	FailBlockLen bool
}

// Card is a simulated SD card behind the [hal.Transport] interface: a
// byte-level protocol state machine serving sectors from a [Media]
// backend. It implements the command subset the driver issues, with the
// timing quirks of real cards (response gaps, data-token delays, busy
// signalling) and configurable fault injection.
//
// Like every transport, a Card is driven by one goroutine at a time.
type Card struct {
	cfg   Config
	media Media

	selected  bool
	ready     bool
	appArmed  bool
	resets    int
	pollsLeft int

	frame    [frameSize]byte
	frameLen int

	// collecting reports whether the card is consuming a write data
	// packet (token seen) or still waiting for its token.
	awaitToken bool
	collecting bool
	data       [writeBody]byte
	dataLen    int
	writeTo    int64

	queue []byte

	writesLeft int
	clockHz    uint32

	dataReads  int
	dataWrites int
}

// NewCard creates a simulated card serving media. The configuration is
// validated against the media geometry, since the synthesized size
// descriptor cannot express arbitrary sector counts.
func NewCard(media Media, cfg Config) (*Card, error) {
	if cfg.InitPolls == 0 {
		cfg.InitPolls = 1
	} else if cfg.InitPolls < 0 {
		cfg.InitPolls = 0
	}
	if cfg.BusyBytes == 0 {
		cfg.BusyBytes = 2
	}
	if cfg.Serial == 0 {
		cfg.Serial = 1
	}

	sectors := media.Sectors()
	if cfg.HighCapacity {
		if sectors < 1024 || sectors%1024 != 0 {
			return nil, fmt.Errorf("high-capacity media must be a multiple of 1024 sectors, have %d", sectors)
		}
	} else if _, ok := standardGeometry(sectors); !ok {
		return nil, fmt.Errorf("sector count %d not expressible in the standard-capacity descriptor", sectors)
	}

	c := &Card{cfg: cfg, media: media, pollsLeft: cfg.InitPolls}
	if cfg.WriteBudget > 0 {
		c.writesLeft = cfg.WriteBudget
	} else {
		c.writesLeft = -1
	}
	return c, nil
}

// Transfer exchanges one byte with the simulated card. The returned byte
// is whatever the card was already transmitting; the sent byte advances
// the protocol state machine afterwards, so a response never rides on
// the same transfer as the byte that provoked it.
func (c *Card) Transfer(tx byte) (byte, error) {
	if !c.selected {
		return idleByte, nil
	}
	rx := byte(idleByte)
	if len(c.queue) > 0 {
		rx = c.queue[0]
		c.queue = c.queue[1:]
	}
	c.consume(tx)
	return rx, nil
}

// SetSelect tracks the select line. While deselected the card ignores
// traffic entirely; pending protocol state survives, as on real cards.
func (c *Card) SetSelect(assert bool) error {
	c.selected = assert
	return nil
}

// Wait is instantaneous: simulated card time does not pass.
func (c *Card) Wait(time.Duration) {}

// SetClock records the requested serial clock so tests can observe the
// initialization and transfer rates the driver programs.
func (c *Card) SetClock(hz uint32) error {
	c.clockHz = hz
	return nil
}

// ClockHz returns the last clock rate programmed through SetClock.
func (c *Card) ClockHz() uint32 {
	return c.clockHz
}

// DataReads returns how many sector read transactions reached the media.
func (c *Card) DataReads() int {
	return c.dataReads
}

// DataWrites returns how many sector write transactions reached the
// media, whether or not the block was accepted.
func (c *Card) DataWrites() int {
	return c.dataWrites
}

// consume feeds one received byte into the protocol state machine.
func (c *Card) consume(tx byte) {
	switch {
	case c.collecting:
		c.data[c.dataLen] = tx
		c.dataLen++
		if c.dataLen == writeBody {
			c.collecting = false
			c.commitWrite()
		}
	case c.awaitToken:
		if tx == tokenStart {
			c.awaitToken = false
			c.collecting = true
			c.dataLen = 0
		}
	case c.frameLen > 0:
		c.frame[c.frameLen] = tx
		c.frameLen++
		if c.frameLen == frameSize {
			c.frameLen = 0
			c.dispatch()
		}
	case tx&frameMask == frameStart:
		c.frame[0] = tx
		c.frameLen = 1
	}
}

// reply replaces any stale output with the card's response to the
// command just received.
func (c *Card) reply(bytes ...byte) {
	c.queue = append(c.queue[:0], bytes...)
}

// idleBit returns the in-idle flag for R1 replies: set from reset until
// initialization completes.
func (c *Card) idleBit() byte {
	if c.ready {
		return 0
	}
	return r1Idle
}

// dispatch interprets a complete command frame.
func (c *Card) dispatch() {
	cmd := c.frame[0] &^ frameMask
	arg := uint32(c.frame[1])<<24 | uint32(c.frame[2])<<16 |
		uint32(c.frame[3])<<8 | uint32(c.frame[4])
	app := c.appArmed
	c.appArmed = false

	pkg.LogDebug(pkg.ComponentSim, "command received",
		"cmd", cmd, "arg", fmt.Sprintf("%#08x", arg), "app", app)

	if c.cfg.Mute {
		return
	}

	switch {
	case cmd == cmdReset:
		c.ready = false
		c.pollsLeft = c.cfg.InitPolls
		c.resets++
		if c.resets <= c.cfg.ResetGarbage {
			c.reply(garbageReply)
			return
		}
		c.reply(r1Idle)

	case cmd == cmdProbe:
		if c.cfg.V1 {
			c.reply(r1Illegal | c.idleBit())
			return
		}
		// Generation 2: echo the voltage window and check pattern.
		c.reply(c.idleBit(),
			c.frame[1], c.frame[2], c.frame[3], c.frame[4])

	case cmd == cmdApp:
		c.appArmed = true
		c.reply(c.idleBit())

	case cmd == acmdOpCond && app:
		if c.pollsLeft > 0 {
			c.pollsLeft--
			c.reply(r1Idle)
			return
		}
		c.ready = true
		c.reply(0x00)

	case cmd == cmdOCR:
		c.reply(c.idleBit(), c.ocrHigh(), 0xFF, 0x80, 0x00)

	case cmd == cmdBlockLen && c.ready:
		if c.cfg.FailBlockLen || arg != SectorSize {
			c.reply(r1Param)
			return
		}
		c.reply(0x00)

	case cmd == cmdCSD && c.ready:
		csd := c.makeCSD()
		c.replyPacket(csd[:])

	case cmd == cmdCID && c.ready:
		cid := c.makeCID()
		c.replyPacket(cid[:])

	case cmd == cmdRead && c.ready:
		c.dispatchRead(arg)

	case cmd == cmdWrite && c.ready:
		c.dispatchWrite(arg)

	default:
		c.reply(r1Illegal | c.idleBit())
	}
}

// ocrHigh returns the top byte of the operation-conditions register:
// power-up done once ready, plus the capacity-status bit for
// high-capacity personalities.
func (c *Card) ocrHigh() byte {
	if !c.ready {
		return 0x00
	}
	if c.cfg.HighCapacity {
		return 0xC0
	}
	return 0x80
}

// replyPacket queues the response, delay filler, and a framed data
// packet: token, payload, and two checksum bytes. The checksum values
// are deliberately conspicuous since the driver discards them.
func (c *Card) replyPacket(payload []byte) {
	c.reply(0x00)
	if c.cfg.WithholdToken {
		return
	}
	for i := 0; i < c.cfg.TokenDelay; i++ {
		c.queue = append(c.queue, idleByte)
	}
	c.queue = append(c.queue, tokenStart)
	c.queue = append(c.queue, payload...)
	c.queue = append(c.queue, 0xAA, 0x55)
}

// sectorForArg converts a command argument into a sector index: the
// argument is a byte address for standard-capacity personalities and a
// sector index for high-capacity ones. A negative return means the
// argument is not addressable.
func (c *Card) sectorForArg(arg uint32) int64 {
	if c.cfg.HighCapacity {
		if int64(arg) >= c.media.Sectors() {
			return -1
		}
		return int64(arg)
	}
	if arg%SectorSize != 0 || int64(arg)/SectorSize >= c.media.Sectors() {
		return -1
	}
	return int64(arg) / SectorSize
}

func (c *Card) dispatchRead(arg uint32) {
	sector := c.sectorForArg(arg)
	if sector < 0 {
		c.reply(r1Address)
		return
	}
	c.dataReads++
	var buf [SectorSize]byte
	if err := c.media.ReadSector(sector, buf[:]); err != nil {
		// No token: the driver's hunt runs out and reports a timeout.
		pkg.LogWarn(pkg.ComponentSim, "media read failed",
			"sector", sector, "error", err)
		c.reply(0x00)
		return
	}
	c.replyPacket(buf[:])
}

func (c *Card) dispatchWrite(arg uint32) {
	sector := c.sectorForArg(arg)
	if sector < 0 {
		c.reply(r1Address)
		return
	}
	c.writeTo = sector
	c.awaitToken = true
	c.reply(0x00)
}

// commitWrite finishes a write transaction once the full data packet has
// arrived: store the sector, then queue the data response and the busy
// signalling.
func (c *Card) commitWrite() {
	c.dataWrites++

	reject := c.cfg.RejectWrites
	if c.writesLeft == 0 {
		reject = true
	}
	if !reject {
		if err := c.media.WriteSector(c.writeTo, c.data[:SectorSize]); err != nil {
			pkg.LogWarn(pkg.ComponentSim, "media write failed",
				"sector", c.writeTo, "error", err)
			reject = true
		}
	}

	if reject {
		c.reply(respWriteError)
		return
	}
	if c.writesLeft > 0 {
		c.writesLeft--
	}
	pkg.LogDebug(pkg.ComponentSim, "sector written", "sector", c.writeTo)
	c.reply(respAccepted)
	for i := 0; i < c.cfg.BusyBytes; i++ {
		c.queue = append(c.queue, 0x00)
	}
}

var (
	_ hal.Transport   = (*Card)(nil)
	_ hal.ClockSetter = (*Card)(nil)
)
