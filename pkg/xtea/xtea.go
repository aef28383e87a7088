// Package xtea implements the card's alternate control-word transform: XTEA
// style rounds over a 64-bit block with a signature check after the eighth
// round.
package xtea

import "encoding/binary"

const (
	// BlockSize is the size of an input message: block plus signature.
	BlockSize = 16
	// OutputSize is the size of the recovered control word.
	OutputSize = 8

	Delta  uint32 = 0x9E3779B9
	Rounds        = 32

	// CheckRound is the zero-based round after which the signature is compared.
	CheckRound = 7
)

// Key is a 128-bit key as four little-endian words.
type Key [4]uint32

// Cipher runs the transform with a fixed key. OnRound, when set, is called
// after every executed round with its zero-based index.
type Cipher struct {
	Key     Key
	OnRound func(round int)
}

// Decrypt is shorthand for a Cipher without a round hook.
func Decrypt(key Key, block [BlockSize]byte, verify bool) ([OutputSize]byte, bool) {
	c := Cipher{Key: key}
	return c.Decrypt(block, verify)
}

// Decrypt transforms block. Without verify no rounds run and the first eight
// bytes pass through unchanged. With verify the state after CheckRound must
// equal the signature carried in bytes 8..15; on mismatch the remaining
// rounds are skipped and the returned output is the partial state.
func (c *Cipher) Decrypt(block [BlockSize]byte, verify bool) (out [OutputSize]byte, ok bool) {
	v1 := binary.LittleEndian.Uint32(block[0:4])
	v0 := binary.LittleEndian.Uint32(block[4:8])
	s1 := binary.LittleEndian.Uint32(block[8:12])
	s0 := binary.LittleEndian.Uint32(block[12:16])

	ok = true
	if verify {
		var sum uint32
		for i := 0; i < Rounds; i++ {
			v0, v1, sum = c.round(v0, v1, sum)
			if c.OnRound != nil {
				c.OnRound(i)
			}
			if i == CheckRound && (v0 != s0 || v1 != s1) {
				ok = false
				break
			}
		}
	}

	binary.LittleEndian.PutUint32(out[0:4], v1)
	binary.LittleEndian.PutUint32(out[4:8], v0)
	return out, ok
}

// Sign builds the message a verifying card accepts for the plain block cw:
// cw itself followed by the state reached after CheckRound.
func (c *Cipher) Sign(cw [OutputSize]byte) (block [BlockSize]byte) {
	v1 := binary.LittleEndian.Uint32(cw[0:4])
	v0 := binary.LittleEndian.Uint32(cw[4:8])

	copy(block[:OutputSize], cw[:])

	var sum uint32
	for i := 0; i <= CheckRound; i++ {
		v0, v1, sum = c.round(v0, v1, sum)
	}
	binary.LittleEndian.PutUint32(block[8:12], v1)
	binary.LittleEndian.PutUint32(block[12:16], v0)
	return block
}

func (c *Cipher) round(v0, v1, sum uint32) (uint32, uint32, uint32) {
	k := &c.Key
	v0 += (((v1 << 4) ^ (v1 >> 5)) + v1) ^ (sum + k[sum&3])
	sum += Delta
	v1 += (((v0 << 4) ^ (v0 >> 5)) + v0) ^ (sum + k[(sum>>11)&3])
	return v0, v1, sum
}
