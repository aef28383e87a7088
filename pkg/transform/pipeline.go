package transform

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Pipeline applies transforms 0..N on Seal and N..0 on Open.
type Pipeline struct {
	transforms []Transform
}

// NewPipeline requires at least one transform. Use NewNoOpTransform() for
// an explicitly empty pipeline.
func NewPipeline(transforms ...Transform) (*Pipeline, error) {
	if len(transforms) == 0 {
		return nil, errors.New("transform: pipeline requires at least one transform")
	}
	s := make([]Transform, len(transforms))
	copy(s, transforms)
	return &Pipeline{transforms: s}, nil
}

// ForImage builds the pipeline used for card images. compression is one of
// "zstd", "gzip" or "none"; a non-empty passphrase appends AES-GCM sealing.
func ForImage(compression, passphrase string) (*Pipeline, error) {
	var ts []Transform
	switch compression {
	case "", "zstd":
		z, err := NewZstdTransform(zstd.SpeedBetterCompression)
		if err != nil {
			return nil, err
		}
		ts = append(ts, z)
	case "gzip":
		ts = append(ts, NewGzipTransform())
	case "none":
		ts = append(ts, NewNoOpTransform())
	default:
		return nil, fmt.Errorf("transform: unknown compression %q", compression)
	}
	if passphrase != "" {
		aes, err := NewAESGCMTransform(passphrase)
		if err != nil {
			return nil, err
		}
		ts = append(ts, aes)
	}
	return NewPipeline(ts...)
}

func (p *Pipeline) Seal(payload []byte) ([]byte, error) {
	var err error
	cur := payload
	for i, t := range p.transforms {
		cur, err = t.Apply(cur)
		if err != nil {
			return nil, fmt.Errorf("seal: transform %d (%T) failed: %w", i, t, err)
		}
	}
	return cur, nil
}

func (p *Pipeline) Open(payload []byte) ([]byte, error) {
	var err error
	cur := payload
	for i := len(p.transforms) - 1; i >= 0; i-- {
		t := p.transforms[i]
		cur, err = t.Reverse(cur)
		if err != nil {
			return nil, fmt.Errorf("open: transform %d (%T) failed: %w", i, t, err)
		}
	}
	return cur, nil
}
