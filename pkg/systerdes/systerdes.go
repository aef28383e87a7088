// Package systerdes implements the card's primary control-word cipher: a
// 16-round Feistel network of the DES family running over proprietary
// tables. An encrypted control message of 16 bytes is decrypted as two
// independent 8-byte halves and repacked into an 8-byte control word.
package systerdes

import "encoding/binary"

const (
	// KeySize is the size of a primary key as stored on the card.
	KeySize = 8
	// ECMSize is the size of an encrypted control message.
	ECMSize = 16
	// CWSize is the size of a recovered control word.
	CWSize = 8

	// dateEscape marks a date field that must be read from the next word.
	dateEscape = 0xFFFF
)

// Result is the output of one decryption.
type Result struct {
	CW   [CWSize]byte
	Aux  byte   // audience byte recovered from the first half
	Date uint16 // date field recovered from the second half
}

// Decrypt recovers the control word, audience byte and date carried by ecm.
// It keeps no state between calls.
func Decrypt(key [KeySize]byte, ecm [ECMSize]byte) Result {
	var (
		res  Result
		tmp  [8]byte
		half [8]byte
	)

	for round := 0; round < 2; round++ {
		k56 := permute(key, &keyPermutation)
		k56[0] = k56[4] << 4

		copy(half[:], ecm[round*8:round*8+8])
		pcw := permute(half, &initialPermutation)
		feistel(&k56, &pcw)
		out := permute(pcw, &finalPermutation)

		if round == 0 {
			res.Aux = out[6]
		}
		res.Date = binary.LittleEndian.Uint16(out[0:2])
		if res.Date == dateEscape {
			res.Date = binary.LittleEndian.Uint16(out[2:4])
		}

		copy(tmp[round*4:round*4+4], out[round*4:round*4+4])
	}

	res.CW = repack(tmp)
	return res
}

// repack builds the final control word from the two decrypted halves.
func repack(b [8]byte) (cw [CWSize]byte) {
	cw[0] = b[4]
	cw[1] = b[5]
	cw[2] = b[6]
	cw[3] = b[7] & 0x7F
	cw[4] = b[0]<<1 | b[7]>>7&1
	cw[5] = b[1]<<1 | b[0]>>7&1
	cw[6] = b[2]<<1 | b[1]>>7&1
	cw[7] = (b[3] << 1 & 0x1F) | b[2]>>7&1
	return cw
}

// permute applies one of the byte-level bit permutations. A table whose
// first entry has either of its low two bits set is the final permutation
// and gathers bits per output byte; the others scatter bits per input byte.
func permute(in [8]byte, p *[8]uint8) (out [8]byte) {
	t := in
	final := p[0]&3 != 0

	for j := 7; j >= 0; j-- {
		for i := 0; i < 8; i++ {
			if final {
				out[j] = out[j]<<1 | t[p[i]]&1
				t[p[i]] >>= 1
			} else {
				out[p[i]] = out[p[i]]>>1 | (t[j]&1)<<7
				t[j] >>= 1
			}
		}
	}
	return out
}

// expand produces eight 6-bit groups from data. The data expansion table
// is recognised by its first entry and addresses only five bits.
func expand(e *[48]uint8, data *[8]byte) (res [8]byte) {
	mask := uint8(0xFF)
	if e[0] == 0x1F {
		mask = 0x1F
	}

	for j := 0; j < 8; j++ {
		for i := 6; i > 0; i-- {
			res[j] <<= 1
			d := e[(7-j)*6+(i-1)] & mask
			if data[d>>3]&(1<<(d&7)) != 0 {
				res[j] |= 1
			}
		}
	}
	return res
}

func feistel(k *[8]byte, cw *[8]byte) {
	for i := 0; i < 16; i++ {
		ek := expand(&keyExpansion, k)
		ecw := expand(&dataExpansion, cw)

		var r [4]byte
		j := 31
		for c := 0; c < 8; c++ {
			x := (ek[c] ^ ecw[c]) & 0x3F

			sb := sBoxes[int(x>>1)|((0x20*(8-c))&0xFF)]
			if x&1 != 0 {
				sb <<= 4
			}

			for l := 0; l < 4; l, j = l+1, j-1 {
				b := outputPermutation[j] & 0x03
				m := uint8(1) << ((outputPermutation[j] >> 4) & 0x07)
				if sb&0x80 != 0 {
					r[b] &^= m
				} else {
					r[b] |= m
				}
				sb <<= 1
			}
		}

		for l := 0; l < 4; l++ {
			r[l] ^= cw[l+4]
			cw[l+4] = cw[l]
			cw[l] = r[l]
		}

		rotateKey(i, k)
	}
}

// rotateKey rotates both 28-bit key halves right. Each half spans three
// full bytes plus the low nibble of the fourth, so the carry into the top
// byte comes from bit 3 of its first byte.
func rotateKey(round int, k *[8]byte) {
	for n := uint8(0); n < keyShifts[round]; n++ {
		for j := 0; j < 3; j++ {
			k[j] = k[j]>>1 | (k[j+1]&1)<<7
			k[j+4] = k[j+4]>>1 | (k[j+5]&1)<<7
		}
		k[3] = k[3]>>1 | (k[0]>>3&1)<<7
		k[7] = k[7]>>1 | (k[4]>>3&1)<<7
	}
}
