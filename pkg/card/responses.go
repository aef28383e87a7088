package card

// Fixed 11 byte responses. Byte 0 is answered directly, bytes 1..10 are
// buffered for draining.
type fixedResponse [11]byte

// ATR variants by the low nibble of the ATR index.
var atrResponses = map[byte]fixedResponse{
	0x00: {0xA0, 0x02, 0x1C, 0x38, 0x14, 0x05, 0xFF, 0x14, 0xE1, 0xE5, 0x00}, // premiere
	0x01: {0xA0, 0x02, 0x18, 0x38, 0x12, 0x00, 0xFF, 0x14, 0x80, 0x83, 0x00}, // C+ France
	0x02: {0xA0, 0x02, 0x1C, 0xE0, 0x0C, 0x01, 0xFF, 0x14, 0xE1, 0xE5, 0x00}, // C+ Poland
}

var identResponses = map[byte]fixedResponse{
	0x00: {0x01, 0x02, 0x4F, 0x53, 0x30, 0x40, 0x74, 0x72, 0x4B, 0x1D, 0x00},
	0x01: {0x01, 0x02, 0x00, 0x40, 0x00, 0x00, 0x74, 0x72, 0x4B, 0x1D, 0x00},
	0x02: {0x01, 0x02, 0x4F, 0x53, 0x30, 0x42, 0x74, 0x72, 0x4B, 0x1D, 0x00},
}
