package sdcard

import (
	"fmt"

	"github.com/TRENT-OS/rpi-spi-sd/pkg"
)

// ExtractBits reads the bit field [msb:lsb] from a register transmitted
// most-significant byte first, using the register bit numbering of the
// card documentation: bit 8*len(reg)-1 is the most significant bit of
// reg[0] and bit 0 is the least significant bit of the last byte. For
// the 16-byte registers this driver reads, bit 127 is the MSB of reg[0].
//
// The field must be at most 32 bits wide and lie inside the register;
// msb < lsb is a caller bug and returns 0.
func ExtractBits(reg []byte, msb, lsb uint) uint32 {
	if msb < lsb || msb >= uint(len(reg))*8 {
		return 0
	}
	var bits uint32
	for i := uint(0); i <= msb-lsb; i++ {
		position := lsb + i
		byteIndex := uint(len(reg)) - 1 - position>>3
		bit := position & 0x7
		value := uint32(reg[byteIndex]>>bit) & 1
		bits |= value << i
	}
	return bits
}

// Size-descriptor fields. The register carries its layout discriminator
// in the top two bits; the two layouts encode capacity with different
// fields and determine how sectors are addressed on the bus.
const (
	csdLayoutStandard = 0 // original layout, byte addressing
	csdLayoutHigh     = 1 // high-capacity layout, sector addressing
)

// decodeCSD extracts the sector count and the addressing multiplier from
// a raw 16-byte size descriptor. The multiplier converts a sector index
// into a command argument: 512 for byte-addressed layouts, 1 for
// sector-addressed ones.
func decodeCSD(csd []byte) (sectors, addrMult int64, err error) {
	switch layout := ExtractBits(csd, 127, 126); layout {
	case csdLayoutStandard:
		cSize := int64(ExtractBits(csd, 73, 62))
		cSizeMult := ExtractBits(csd, 49, 47)
		readBlLen := ExtractBits(csd, 83, 80)
		blocks := (cSize + 1) << (cSizeMult + 2)
		capacity := blocks << readBlLen
		return capacity / SectorSize, SectorSize, nil
	case csdLayoutHigh:
		hcCSize := int64(ExtractBits(csd, 69, 48))
		return (hcCSize + 1) << 10, 1, nil
	default:
		return 0, 0, fmt.Errorf("size descriptor layout %d: %w",
			layout, pkg.ErrUnsupportedMedium)
	}
}
