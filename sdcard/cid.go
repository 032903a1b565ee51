package sdcard

import (
	"fmt"
	"strings"
)

// CID is the decoded card identification register: the factory-programmed
// identity the card carries for its whole life.
type CID struct {
	// Manufacturer is the numeric manufacturer identifier.
	Manufacturer uint8

	// OEM is the two-character OEM/application identifier.
	OEM string

	// Product is the five-character product name.
	Product string

	// Revision is the product revision as "major.minor".
	Revision string

	// Serial is the product serial number.
	Serial uint32

	// Year and Month are the manufacturing date.
	Year  int
	Month int
}

// String returns a compact single-line identity summary.
func (id CID) String() string {
	return fmt.Sprintf("%s %s rev %s serial %08x (%02x, %04d-%02d)",
		id.OEM, id.Product, id.Revision, id.Serial,
		id.Manufacturer, id.Year, id.Month)
}

// ReadCID reads and decodes the identification register. The register is
// readable as soon as the card answers commands, so this works during
// and after initialization; [Card.Init] logs it once the card is ready.
func (c *Card) ReadCID() (CID, error) {
	var reg [16]byte
	if err := c.readRegister(cmdSendCID, &reg); err != nil {
		return CID{}, fmt.Errorf("identification: %w", err)
	}
	return decodeCID(reg[:]), nil
}

// decodeCID unpacks the raw 16-byte identification register. Text fields
// are trimmed of trailing padding; the date field counts years from 2000.
func decodeCID(cid []byte) CID {
	revision := ExtractBits(cid, 63, 56)
	return CID{
		Manufacturer: uint8(ExtractBits(cid, 127, 120)),
		OEM:          cidText(cid, 119, 2),
		Product:      cidText(cid, 103, 5),
		Revision:     fmt.Sprintf("%d.%d", revision>>4, revision&0xF),
		Serial:       ExtractBits(cid, 55, 24),
		Year:         2000 + int(ExtractBits(cid, 19, 12)),
		Month:        int(ExtractBits(cid, 11, 8)),
	}
}

// cidText collects n consecutive character fields starting at the byte
// whose top bit is msb.
func cidText(cid []byte, msb uint, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		offset := uint(i) * 8
		b.WriteByte(byte(ExtractBits(cid, msb-offset, msb-offset-7)))
	}
	return strings.TrimRight(b.String(), "\x00 ")
}
