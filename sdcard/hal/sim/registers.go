package sim

// putBits writes the bit field [msb:lsb] into a register transmitted
// most-significant byte first, using the card documentation's bit
// numbering. It is the write-side twin of the driver's field extraction.
func putBits(reg []byte, msb, lsb uint, value uint32) {
	for i := uint(0); i <= msb-lsb; i++ {
		position := lsb + i
		byteIndex := uint(len(reg)) - 1 - position>>3
		bit := position & 0x7
		if value>>i&1 != 0 {
			reg[byteIndex] |= 1 << bit
		} else {
			reg[byteIndex] &^= 1 << bit
		}
	}
}

// standardGeometry finds the smallest block-multiplier shift that lets
// the standard-capacity descriptor layout express exactly this sector
// count: sectors must equal (c_size+1) << shift with c_size at most
// 4095 and shift between 2 and 9.
func standardGeometry(sectors int64) (shift uint, ok bool) {
	for shift = 2; shift <= 9; shift++ {
		if sectors%(1<<shift) == 0 && sectors>>shift >= 1 && sectors>>shift <= 4096 {
			return shift, true
		}
	}
	return 0, false
}

// makeCSD synthesizes a size descriptor advertising exactly the media
// sector count, in the layout matching the configured personality.
func (c *Card) makeCSD() [16]byte {
	var csd [16]byte
	sectors := c.media.Sectors()
	if c.cfg.HighCapacity {
		putBits(csd[:], 127, 126, 1)
		putBits(csd[:], 69, 48, uint32(sectors>>10-1))
		return csd
	}
	shift, _ := standardGeometry(sectors)
	putBits(csd[:], 83, 80, 9) // 512-byte native blocks
	putBits(csd[:], 49, 47, uint32(shift-2))
	putBits(csd[:], 73, 62, uint32(sectors>>shift-1))
	return csd
}

// makeCID synthesizes the identification register: a fixed simulator
// identity plus the configured serial number.
func (c *Card) makeCID() [16]byte {
	var cid [16]byte
	putBits(cid[:], 127, 120, cidManufacturer)
	for i := 0; i < len(cidOEM); i++ {
		msb := uint(119 - 8*i)
		putBits(cid[:], msb, msb-7, uint32(cidOEM[i]))
	}
	for i := 0; i < len(cidProduct); i++ {
		msb := uint(103 - 8*i)
		putBits(cid[:], msb, msb-7, uint32(cidProduct[i]))
	}
	putBits(cid[:], 63, 56, cidRevision)
	putBits(cid[:], 55, 24, c.cfg.Serial)
	putBits(cid[:], 19, 12, cidYear-2000)
	putBits(cid[:], 11, 8, cidMonth)
	putBits(cid[:], 7, 0, 0x01) // checksum placeholder and end bit
	return cid
}
