package keystore

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/neo7530/systerfun/pkg/xtea"
)

// HexBytes is a byte string written as hex in provisioning files. Spaces
// and colons are ignored on input.
type HexBytes []byte

func (h *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*h = b
	return nil
}

func (h HexBytes) MarshalYAML() (interface{}, error) {
	return strings.ToUpper(hex.EncodeToString(h)), nil
}

// Provisioning is the YAML document applied by Provision. Absent fields are
// left untouched on the card.
type Provisioning struct {
	CryptMode *uint8            `yaml:"crypt_mode,omitempty"`
	AtrIndex  *uint8            `yaml:"atr_index,omitempty"`
	Channels  HexBytes          `yaml:"channels,omitempty"`
	Records   map[int]HexBytes  `yaml:"records,omitempty"`
	Keys      map[int]HexBytes  `yaml:"keys,omitempty"`
	XTEA      map[int][4]uint32 `yaml:"xtea,omitempty"`
}

// ParseProvisioning decodes a provisioning document and checks field sizes.
func ParseProvisioning(r io.Reader) (*Provisioning, error) {
	var p Provisioning
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("keystore: provisioning: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Provisioning) validate() error {
	if p.Channels != nil && len(p.Channels) != 8 {
		return fmt.Errorf("keystore: channels: %d bytes, want 8", len(p.Channels))
	}
	for i, r := range p.Records {
		if i < 0 || i > 1 {
			return fmt.Errorf("%w: record %d", ErrBadSlot, i)
		}
		if len(r) != recordSize {
			return fmt.Errorf("keystore: record %d: %d bytes, want %d", i, len(r), recordSize)
		}
	}
	for slot, k := range p.Keys {
		if slot < 0 || slot >= KeySlots {
			return fmt.Errorf("%w: %d", ErrBadSlot, slot)
		}
		if len(k) != 8 {
			return fmt.Errorf("keystore: key %d: %d bytes, want 8", slot, len(k))
		}
	}
	for i := range p.XTEA {
		if i < 0 || i > 1 {
			return fmt.Errorf("%w: xtea key %d", ErrBadSlot, i)
		}
	}
	return nil
}

// Provision applies p. Fields are written one by one; a store failure
// leaves the fields before it applied.
func (ks *KeyStore) Provision(p *Provisioning) error {
	if err := p.validate(); err != nil {
		return err
	}
	if p.CryptMode != nil {
		if err := ks.SetCryptMode(*p.CryptMode); err != nil {
			return err
		}
	}
	if p.AtrIndex != nil {
		if err := ks.SetAtrIndex(*p.AtrIndex); err != nil {
			return err
		}
	}
	if p.Channels != nil {
		var ch [8]byte
		copy(ch[:], p.Channels)
		if err := ks.SetChannels(ch); err != nil {
			return err
		}
	}
	for _, i := range sortedKeys(p.Records) {
		var rec [recordSize]byte
		copy(rec[:], p.Records[i])
		if err := ks.SetRecord(i, rec); err != nil {
			return err
		}
	}
	for _, slot := range sortedKeys(p.Keys) {
		var key [8]byte
		copy(key[:], p.Keys[slot])
		if err := ks.SetKey(slot, key); err != nil {
			return err
		}
	}
	for _, i := range sortedKeys(p.XTEA) {
		if err := ks.SetXTEAKey(i, xtea.Key(p.XTEA[i])); err != nil {
			return err
		}
	}
	return nil
}

// Export captures the whole provisioned state as a document Provision accepts.
func (ks *KeyStore) Export() *Provisioning {
	mode, atr := ks.CryptMode(), ks.AtrIndex()
	ch := ks.Channels()
	p := &Provisioning{
		CryptMode: &mode,
		AtrIndex:  &atr,
		Channels:  HexBytes(ch[:]),
		Records:   make(map[int]HexBytes),
		Keys:      make(map[int]HexBytes),
		XTEA:      make(map[int][4]uint32),
	}
	for i := 0; i < 2; i++ {
		rec, _ := ks.Record(i)
		p.Records[i] = HexBytes(rec[:])
		p.XTEA[i] = ks.XTEAKey(i)
	}
	for slot := 0; slot < KeySlots; slot++ {
		key, _ := ks.Key(slot)
		p.Keys[slot] = HexBytes(key[:])
	}
	return p
}

// WriteYAML encodes p.
func (p *Provisioning) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
