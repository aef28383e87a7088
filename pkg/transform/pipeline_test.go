package transform

import (
	"bytes"
	"testing"
)

func TestImagePipelines(t *testing.T) {
	image := bytes.Repeat([]byte{0xFF, 0x00, 0x12, 0x34}, 64)

	tests := []struct {
		compression string
		passphrase  string
	}{
		{"zstd", ""},
		{"gzip", ""},
		{"none", ""},
		{"zstd", "s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.compression+"/"+tt.passphrase, func(t *testing.T) {
			p, err := ForImage(tt.compression, tt.passphrase)
			if err != nil {
				t.Fatalf("ForImage: %v", err)
			}
			sealed, err := p.Seal(image)
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			opened, err := p.Open(sealed)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !bytes.Equal(opened, image) {
				t.Fatal("image changed through pipeline")
			}
		})
	}
}

func TestWrongPassphrase(t *testing.T) {
	a, _ := ForImage("zstd", "one")
	b, _ := ForImage("zstd", "two")
	sealed, err := a.Seal([]byte("card image"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open(sealed); err == nil {
		t.Fatal("opened with the wrong passphrase")
	}
}

func TestUnknownCompression(t *testing.T) {
	if _, err := ForImage("lz4", ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmptyPipeline(t *testing.T) {
	if _, err := NewPipeline(); err == nil {
		t.Fatal("expected error for empty pipeline")
	}
}

func TestSealingIsSalted(t *testing.T) {
	tr, err := NewAESGCMTransform("pw")
	if err != nil {
		t.Fatal(err)
	}
	a, _ := tr.Apply([]byte("same"))
	b, _ := tr.Apply([]byte("same"))
	if bytes.Equal(a[:saltSize], b[:saltSize]) || bytes.Equal(a, b) {
		t.Fatal("two seals of the same payload are identical")
	}
	if _, err := tr.Reverse(a[:saltSize+4]); err == nil {
		t.Fatal("truncated payload opened")
	}
	if _, err := NewAESGCMTransform(""); err == nil {
		t.Fatal("empty passphrase accepted")
	}
}
