// Package keystore keeps the card's provisioned state in the EEPROM image:
// mode selectors, the channel table, entitlement records and key material.
// Reads are served from a cached copy of the image; writes go through to the
// store and are serialized.
package keystore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/neo7530/systerfun/pkg/eeprom"
	"github.com/neo7530/systerfun/pkg/xtea"
)

var ErrBadSlot = errors.New("keystore: bad slot")

// KeyStore is safe for concurrent use.
type KeyStore struct {
	mu    sync.RWMutex
	store eeprom.Store
	image []byte
}

// Open loads the image from s, writing the factory contents first when the
// image carries no format signature.
func Open(s eeprom.Store) (*KeyStore, error) {
	if s.Size() < ImageSize {
		return nil, fmt.Errorf("keystore: store holds %d bytes, need %d", s.Size(), ImageSize)
	}
	image, err := s.Block(0, ImageSize)
	if err != nil {
		return nil, fmt.Errorf("keystore: load: %w", err)
	}
	ks := &KeyStore{store: s, image: image}
	if !ks.Formatted() {
		if err := ks.Format(); err != nil {
			return nil, err
		}
	}
	return ks, nil
}

// Formatted reports whether the image carries the format signature.
func (ks *KeyStore) Formatted() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return bytes.Equal(ks.image[offSignature:offSignature+len(signature)], signature)
}

// Format rewrites every field with its factory value.
func (ks *KeyStore) Format() error {
	image := make([]byte, ImageSize)
	copy(image, ks.snapshot())

	image[offCryptMode] = defaultCryptMode
	image[offAtrIndex] = defaultAtrIndex
	copy(image[offChannelResponse:], defaultChannelResponse[:])
	copy(image[offRecord0:], defaultRecords[0][:])
	copy(image[offRecord1:], defaultRecords[1][:])
	for i, k := range defaultXTEAKeys {
		putXTEAKey(image[offXTEAKeys+i*xteaKeySize:], k)
	}
	for slot := 0; slot < KeySlots; slot++ {
		var key [8]byte
		if slot < len(defaultKeys) {
			key = defaultKeys[slot]
		}
		copy(image[slotOffset(slot):], key[:])
	}
	copy(image[offSignature:], signature)

	return ks.write(0, image)
}

func (ks *KeyStore) snapshot() []byte {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]byte, len(ks.image))
	copy(out, ks.image)
	return out
}

// Image returns a copy of the cached image.
func (ks *KeyStore) Image() []byte { return ks.snapshot() }

func (ks *KeyStore) write(off int, p []byte) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err := ks.store.UpdateBlock(off, p); err != nil {
		return fmt.Errorf("keystore: write %#x: %w", off, err)
	}
	copy(ks.image[off:], p)
	return nil
}

func (ks *KeyStore) read(off, n int) []byte {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]byte, n)
	copy(out, ks.image[off:off+n])
	return out
}

func (ks *KeyStore) CryptMode() byte { return ks.read(offCryptMode, 1)[0] }

func (ks *KeyStore) SetCryptMode(mode byte) error {
	return ks.write(offCryptMode, []byte{mode})
}

func (ks *KeyStore) AtrIndex() byte { return ks.read(offAtrIndex, 1)[0] }

func (ks *KeyStore) SetAtrIndex(idx byte) error {
	return ks.write(offAtrIndex, []byte{idx})
}

// ChannelResponse returns the full 11 byte 0201 response.
func (ks *KeyStore) ChannelResponse() (r [channelResponseSize]byte) {
	copy(r[:], ks.read(offChannelResponse, channelResponseSize))
	return r
}

// Channels returns the 8 byte channel table.
func (ks *KeyStore) Channels() (ch [8]byte) {
	copy(ch[:], ks.read(offChannelResponse+channelsOffset, 8))
	return ch
}

func (ks *KeyStore) SetChannels(ch [8]byte) error {
	return ks.write(offChannelResponse+channelsOffset, ch[:])
}

// Record returns entitlement record 0 or 1.
func (ks *KeyStore) Record(i int) (rec [recordSize]byte, err error) {
	off, err := recordOffset(i)
	if err != nil {
		return rec, err
	}
	copy(rec[:], ks.read(off, recordSize))
	return rec, nil
}

func (ks *KeyStore) SetRecord(i int, rec [recordSize]byte) error {
	off, err := recordOffset(i)
	if err != nil {
		return err
	}
	return ks.write(off, rec[:])
}

func recordOffset(i int) (int, error) {
	switch i {
	case 0:
		return offRecord0, nil
	case 1:
		return offRecord1, nil
	}
	return 0, fmt.Errorf("%w: record %d", ErrBadSlot, i)
}

// DateWindow returns the validity window carried by the entitlement records:
// the low bound from bytes 8..9 of record 0, the high bound from bytes 6..7
// of record 1, both little-endian.
func (ks *KeyStore) DateWindow() (minDate, maxDate uint16) {
	r0 := ks.read(offRecord0, recordSize)
	r1 := ks.read(offRecord1, recordSize)
	return binary.LittleEndian.Uint16(r0[8:10]), binary.LittleEndian.Uint16(r1[6:8])
}

// Key returns the 8 byte key in slot.
func (ks *KeyStore) Key(slot int) (key [8]byte, err error) {
	if slot < 0 || slot >= KeySlots {
		return key, fmt.Errorf("%w: %d", ErrBadSlot, slot)
	}
	copy(key[:], ks.read(slotOffset(slot), 8))
	return key, nil
}

func (ks *KeyStore) SetKey(slot int, key [8]byte) error {
	if slot < 0 || slot >= KeySlots {
		return fmt.Errorf("%w: %d", ErrBadSlot, slot)
	}
	return ks.write(slotOffset(slot), key[:])
}

// PrimaryKey picks the key for a decrypt command: the special key for
// audience 0x11, otherwise the key index offset by the ATR profile.
func (ks *KeyStore) PrimaryKey(keyIndex int, audience, atrIndex byte) ([8]byte, error) {
	if audience == SpecialAudience {
		return ks.Key(SpecialSlot)
	}
	return ks.Key(keyIndex + int(atrIndex&0x0F)*2)
}

// XTEAKey returns the alternate cipher key selected by the parity of i.
func (ks *KeyStore) XTEAKey(i int) xtea.Key {
	i &= 1
	return getXTEAKey(ks.read(offXTEAKeys+i*xteaKeySize, xteaKeySize))
}

func (ks *KeyStore) SetXTEAKey(i int, k xtea.Key) error {
	if i < 0 || i > 1 {
		return fmt.Errorf("%w: xtea key %d", ErrBadSlot, i)
	}
	buf := make([]byte, xteaKeySize)
	putXTEAKey(buf, k)
	return ks.write(offXTEAKeys+i*xteaKeySize, buf)
}

func putXTEAKey(dst []byte, k xtea.Key) {
	for i, w := range k {
		binary.LittleEndian.PutUint32(dst[i*4:], w)
	}
}

func getXTEAKey(src []byte) (k xtea.Key) {
	for i := range k {
		k[i] = binary.LittleEndian.Uint32(src[i*4:])
	}
	return k
}
