package systerdes

// The tables below are fixed card constants. They are not the standard DES
// tables and must not be regenerated.

// keyShifts is the per-round key rotation count.
var keyShifts = [16]uint8{1, 2, 2, 2, 2, 2, 2, 1, 2, 2, 2, 2, 2, 2, 1, 0}

// sBoxes holds eight boxes of 32 bytes, two 4-bit outputs per byte.
var sBoxes = [256]uint8{
	0x1F, 0xB0, 0x28, 0xEB, 0xD1, 0x0D, 0x42, 0x7E, 0xC5, 0x59, 0x93, 0x34, 0xA6, 0x6A, 0xFC, 0x87,
	0xB0, 0xE3, 0x17, 0x7D, 0x2B, 0x96, 0xDE, 0x48, 0x0A, 0x34, 0x6C, 0x81, 0xC5, 0x5F, 0xA9, 0xF2,
	0x2E, 0xD0, 0x72, 0xB7, 0x95, 0x0C, 0x48, 0xEB, 0x53, 0x6A, 0xC9, 0x14, 0xAF, 0xF1, 0x36, 0x8D,
	0x8D, 0x4E, 0xB1, 0xE8, 0x6B, 0x35, 0x17, 0xD2, 0xF0, 0x93, 0x56, 0x2F, 0x0C, 0xCA, 0xA9, 0x74,
	0xB2, 0x4F, 0xD4, 0x18, 0x0B, 0xF6, 0x7E, 0x25, 0xC1, 0x3C, 0x6A, 0x83, 0xAD, 0x50, 0x97, 0xE9,
	0xE9, 0xB4, 0x42, 0x27, 0x3E, 0xCB, 0x85, 0x18, 0x56, 0x0A, 0x9F, 0x70, 0xF1, 0xAD, 0x6C, 0xD3,
	0x35, 0xE0, 0x5B, 0x0D, 0x68, 0xD3, 0x96, 0x7A, 0xF9, 0x2E, 0xC2, 0xB1, 0x1F, 0x84, 0xAC, 0x47,
	0x6B, 0x1C, 0x0D, 0xA3, 0xD6, 0x7A, 0x30, 0xC5, 0x84, 0xF1, 0xBE, 0x58, 0xE9, 0x2F, 0x47, 0x92,
	0xD1, 0x34, 0xBD, 0xE3, 0x8B, 0x58, 0x42, 0x9E, 0x7A, 0xAF, 0xC0, 0x05, 0x2C, 0xF6, 0x17, 0x69,
	0xB4, 0xD7, 0xE3, 0x48, 0x5E, 0x21, 0x8D, 0x72, 0x09, 0x60, 0x3F, 0xA6, 0x95, 0xCB, 0xFA, 0x1C,
	0x82, 0x27, 0x14, 0xCA, 0xF9, 0x90, 0x6F, 0x5C, 0xEB, 0xD8, 0x7D, 0xA3, 0x4E, 0x35, 0xB1, 0x06,
	0x5C, 0x90, 0x6F, 0xF9, 0x35, 0x4E, 0x82, 0x27, 0x06, 0xEB, 0xCA, 0x14, 0xA3, 0xD8, 0x7D, 0xB1,
	0x52, 0xF8, 0x6F, 0x16, 0x9C, 0xCB, 0x09, 0xA5, 0xED, 0x27, 0x3A, 0x81, 0x43, 0xB4, 0xD0, 0x7E,
	0x2E, 0x95, 0xB2, 0x6F, 0x79, 0x06, 0xC7, 0xF8, 0x4B, 0xE0, 0xD1, 0x3C, 0xA4, 0x5A, 0x1D, 0x83,
	0x0C, 0xE2, 0x7B, 0x18, 0x90, 0x4D, 0xC7, 0xB1, 0x63, 0x8F, 0xDE, 0x25, 0x39, 0xF6, 0xA4, 0x5A,
	0xF2, 0x17, 0x85, 0x4E, 0x5C, 0xB0, 0x2B, 0xED, 0xA4, 0x79, 0x38, 0x93, 0x6F, 0xCA, 0xD1, 0x06,
}

// keyExpansion selects 48 bits of the 56-bit working key.
var keyExpansion = [48]uint8{
	0x1C, 0x1F, 0x18, 0x0A, 0x12, 0x0E, 0x07, 0x1A, 0x04, 0x15, 0x0B, 0x10, 0x0C, 0x1B, 0x0F, 0x09,
	0x14, 0x1E, 0x05, 0x0D, 0x17, 0x1D, 0x08, 0x13, 0x3E, 0x33, 0x2C, 0x25, 0x39, 0x30, 0x38, 0x26,
	0x3C, 0x34, 0x2D, 0x29, 0x36, 0x2B, 0x3A, 0x31, 0x24, 0x3D, 0x3B, 0x3F, 0x28, 0x35, 0x2F, 0x32,
}

// dataExpansion selects 48 bits of the right half. Entries are masked to
// five bits before use; the upper bits are table padding.
var dataExpansion = [48]uint8{
	0x1F, 0x00, 0x01, 0x02, 0x03, 0x44, 0x03, 0x04, 0x05, 0x06, 0x07, 0x68, 0x07, 0x08, 0x09, 0x0A,
	0x0B, 0x8C, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0xB0, 0x0F, 0x10, 0x11, 0x12, 0x13, 0xD4, 0x13, 0x14,
	0x15, 0x16, 0x17, 0xF8, 0x17, 0x18, 0x19, 0x1A, 0x1B, 0x1C, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F, 0x20,
}

// outputPermutation maps S-box output bits: high nibble is the bit
// position, low two bits the byte of the round output.
var outputPermutation = [32]uint8{
	0x31, 0x12, 0x50, 0x33, 0x13, 0x21, 0x42, 0x00, 0x51, 0x52, 0x30, 0x43, 0x53, 0x70, 0x22, 0x03,
	0x73, 0x62, 0x41, 0x60, 0x23, 0x20, 0x02, 0x01, 0x61, 0x63, 0x40, 0x32, 0x10, 0x11, 0x71, 0x72,
}

var (
	keyPermutation     = [8]uint8{0, 3, 2, 1, 4, 5, 6, 7}
	initialPermutation = [8]uint8{4, 0, 5, 1, 6, 2, 7, 3}
	finalPermutation   = [8]uint8{7, 3, 6, 2, 5, 1, 4, 0}
)
