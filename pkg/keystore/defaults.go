package keystore

import "github.com/neo7530/systerfun/pkg/xtea"

// Factory contents written to a blank card.

const (
	defaultCryptMode = 0x00
	defaultAtrIndex  = 0x10
)

var defaultChannelResponse = [channelResponseSize]byte{
	0x01, 0x02, 0x19, 0x01, 0x1A, 0x01, 0x1B, 0x01, 0x1C, 0x01, 0x00,
}

var defaultRecords = [2][recordSize]byte{
	{0x00, 0x01, 0xFF, 0xFF, 0x61, 0x6B, 0xDF, 0xBB, 0x21, 0x80},
	{0x00, 0x01, 0xFF, 0xFF, 0x60, 0x6A, 0xDF, 0xC1, 0x21, 0xBC},
}

var defaultXTEAKeys = [2]xtea.Key{
	{0x00112233, 0x44556677, 0x8899AABB, 0xCCDDEEFF},
	{0xd5784071, 0x48909110, 0x01260c7a, 0xd5579e9d},
}

var defaultKeys = [TableSlots + 1][8]byte{
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x12, 0x34}, // premiere, key 0
	{0x00, 0xE2, 0x51, 0x6D, 0x15, 0x97, 0x51, 0x55}, // premiere, key 1
	{0x00, 0xAE, 0x52, 0x90, 0x49, 0xF1, 0xF1, 0xBB}, // C+ France, key 0
	{0x00, 0xE9, 0xEB, 0xB3, 0xA6, 0xDB, 0x3C, 0x87}, // C+ France, key 1
	{},                                               // C+ Poland, key 0
	{},                                               // C+ Poland, key 1
	{},
	{},
	{0xC4, 0xA5, 0xA8, 0x18, 0x74, 0x93, 0xC7, 0x65}, // audience 0x11
}
