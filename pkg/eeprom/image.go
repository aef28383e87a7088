package eeprom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/neo7530/systerfun/pkg/transform"
)

var imageMagic = []byte("SYSE")

var ErrBadImage = errors.New("eeprom: bad image")

// Dump writes the full store through p. The plain image is a 4 byte magic,
// a big-endian 16-bit size and the cells.
func Dump(w io.Writer, s Store, p *transform.Pipeline) error {
	cells, err := s.Block(0, s.Size())
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.Write(imageMagic)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(cells)))
	buf.Write(cells)

	sealed, err := p.Seal(buf.Bytes())
	if err != nil {
		return fmt.Errorf("eeprom: dump: %w", err)
	}
	_, err = w.Write(sealed)
	return err
}

// Restore loads an image written by Dump into s. Only cells that differ are
// written.
func Restore(r io.Reader, s Store, p *transform.Pipeline) error {
	sealed, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("eeprom: restore: %w", err)
	}
	plain, err := p.Open(sealed)
	if err != nil {
		return fmt.Errorf("eeprom: restore: %w", err)
	}
	if len(plain) < 6 || !bytes.Equal(plain[:4], imageMagic) {
		return ErrBadImage
	}
	size := int(binary.BigEndian.Uint16(plain[4:6]))
	cells := plain[6:]
	if size != len(cells) || size != s.Size() {
		return fmt.Errorf("%w: image holds %d bytes, store has %d", ErrBadImage, len(cells), s.Size())
	}
	return s.UpdateBlock(0, cells)
}
