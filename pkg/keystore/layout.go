package keystore

// Card image layout. Offsets are fixed so images stay portable between
// builds.
const (
	offCryptMode = 0x00
	offAtrIndex  = 0x01

	offChannelResponse = 0x10 // 11 bytes, channels at +2..+9
	offRecord0         = 0x20 // 10 bytes
	offRecord1         = 0x30 // 10 bytes
	offXTEAKeys        = 0x40 // 2 keys of 4 little-endian words
	offKeySlots        = 0x60 // 16 slots of 8 bytes
	offSignature       = 0xF0

	channelResponseSize = 11
	channelsOffset      = 2
	recordSize          = 10
	xteaKeySize         = 16

	// ImageSize is the minimum store size the layout needs.
	ImageSize = 0x100
)

const (
	// KeySlots is the number of addressable 8 byte key slots.
	KeySlots = 16
	// TableSlots is the number of slots used by the primary key table.
	TableSlots = 8
	// SpecialSlot holds the key used for audience 0x11.
	SpecialSlot = 8

	// SpecialAudience selects SpecialSlot and bypasses date validation.
	SpecialAudience = 0x11
)

var signature = []byte{'S', 'Y', 'S', 'T', 0x01}

func slotOffset(slot int) int { return offKeySlots + slot*8 }
