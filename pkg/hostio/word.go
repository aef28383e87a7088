// Package hostio carries 9-bit card words between the decoder and the card.
// Bit 8 is the framing bit; the low byte is data.
package hostio

import "fmt"

type Word uint16

const FrameBit Word = 0x100

// Reserved response words.
const (
	Idle      Word = 0x100 // nothing buffered
	NotReady  Word = 0x101 // acknowledge, or unknown command
	BurstMark Word = 0x102
	CWStart   Word = 0x106
	Failure   Word = 0x10A
	KeyAck    Word = 0x124
	Handshake Word = 0x14A
	ModeAck   Word = 0x1FF

	wordMask Word = 0x1FF
	dataMask Word = 0x0FF
)

// Framed reports whether the framing bit is set.
func (w Word) Framed() bool { return w&FrameBit != 0 }

// Data returns the low byte.
func (w Word) Data() byte { return byte(w & dataMask) }

func (w Word) String() string { return fmt.Sprintf("%03X", uint16(w&wordMask)) }

// Data8 builds an unframed word from a byte.
func Data8(b byte) Word { return Word(b) }

// Framed8 builds a framed word from a byte.
func Framed8(b byte) Word { return FrameBit | Word(b) }
