package sdcard

import "strings"

// SectorSize is the fixed transfer unit of the medium in bytes. The driver
// locks the card's block length to this value during initialization.
const SectorSize = 512

// Command indices (the SPI-mode subset this driver issues).
const (
	cmdGoIdleState     = 0  // CMD0: software reset, enters SPI mode
	cmdSendIfCond      = 8  // CMD8: voltage range and version probe
	cmdSendCSD         = 9  // CMD9: read the card-specific data register
	cmdSendCID         = 10 // CMD10: read the card identification register
	cmdSetBlocklen     = 16 // CMD16: set the block length
	cmdReadSingleBlock = 17 // CMD17: read one block
	cmdWriteBlock      = 24 // CMD24: write one block
	cmdAppCmd          = 55 // CMD55: application-command prefix
	cmdReadOCR         = 58 // CMD58: read the operation-conditions register
	acmdSDSendOpCond   = 41 // ACMD41: start card initialization
)

// Command frame constants. The card checks the checksum byte only while
// it is still in native mode, so the two commands issued there carry real
// CRC7 values and every later frame reuses the reset checksum as filler.
const (
	frameStart = 0x40 // start and transmission bits, ORed with the index
	frameSize  = 6

	crcGoIdleState = 0x95 // CRC7 of CMD0 with zero argument
	crcSendIfCond  = 0x87 // CRC7 of CMD8 with the probe argument

	// probeArg is the CMD8 argument: 2.7-3.6V range plus the 0xAA check
	// pattern the card echoes back.
	probeArg = 0x000001AA

	// opCondHCS is the ACMD41 argument bit announcing that the host
	// understands sector addressing.
	opCondHCS = 0x40000000
)

// Operation-conditions register bits consulted after initialization.
const (
	ocrPowerUpDone  = 1 << 31 // card finished its power-up routine
	ocrHighCapacity = 1 << 30 // CCS: sector addressing in effect
)

// Data block framing.
const (
	fillByte         = 0xFF // clocked out whenever the driver only receives
	tokenStartBlock  = 0xFE // start-of-data marker for single-block transfers
	dataRespMask     = 0x1F // significant bits of the write data response
	dataRespAccepted = 0x05 // data response value for an accepted block
)

// R1 is the single-byte status reply returned by most commands.
type R1 uint8

// R1 status flags.
const (
	R1IdleState      R1 = 1 << 0 // card is idle and initializing
	R1EraseReset     R1 = 1 << 1 // erase sequence cleared before execution
	R1IllegalCommand R1 = 1 << 2 // command not legal for the card state
	R1CRCError       R1 = 1 << 3 // command checksum check failed
	R1EraseSeqError  R1 = 1 << 4 // error in the sequence of erase commands
	R1AddressError   R1 = 1 << 5 // misaligned address for the block length
	R1ParameterError R1 = 1 << 6 // argument outside the card's range
)

// r1Invalid marks a byte that is not a response yet: the card holds the
// line high until it starts transmitting, so bit 7 is clear in every
// valid R1.
const r1Invalid = 0x80

// Valid reports whether r is an actual response rather than line filler.
func (r R1) Valid() bool {
	return r&r1Invalid == 0
}

// r1Flags orders the response flags for String.
var r1Flags = []struct {
	bit  R1
	name string
}{
	{R1IdleState, "idle"},
	{R1EraseReset, "erase-reset"},
	{R1IllegalCommand, "illegal-command"},
	{R1CRCError, "crc-error"},
	{R1EraseSeqError, "erase-sequence-error"},
	{R1AddressError, "address-error"},
	{R1ParameterError, "parameter-error"},
}

// String returns the set flags separated by "|", "ready" for a clear
// response, or "invalid" for a byte that is not a response at all.
func (r R1) String() string {
	if !r.Valid() {
		return "invalid"
	}
	if r == 0 {
		return "ready"
	}
	var parts []string
	for _, f := range r1Flags {
		if r&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Type identifies the card generation detected during initialization.
type Type uint8

// Card generations.
const (
	TypeUnrecognized Type = iota // medium did not complete the handshake
	TypeV1                       // generation 1, byte addressed
	TypeV2                       // generation 2, standard capacity
	TypeV2HC                     // generation 2, high capacity
)

// String returns a human-readable generation name.
func (t Type) String() string {
	switch t {
	case TypeV1:
		return "SDv1"
	case TypeV2:
		return "SDv2"
	case TypeV2HC:
		return "SDv2-HC"
	default:
		return "unrecognized"
	}
}
