package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/neo7530/systerfun/pkg/xtea"
)

// run executes the CLI in-process and returns its standard output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := &cli.App{
		Name:           appName,
		Writer:         &out,
		ErrWriter:      &out,
		Flags:          []cli.Flag{configFlag},
		Commands:       []*cli.Command{decryptCommand, provisionCommand, eepromCommand},
		ExitErrHandler: func(*cli.Context, error) {},
	}
	err := app.Run(append([]string{appName}, args...))
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "systerfun.yaml")
	cfg := "eeprom_path: " + filepath.Join(dir, "eeprom.db") + "\nimage_compression: zstd\n"
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseTimeSpec(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		spec string
		want time.Time
	}{
		{"90s", now.Add(-90 * time.Second)},
		{"1h30m", now.Add(-90 * time.Minute)},
		{"2d", now.Add(-48 * time.Hour)},
		{"1w", now.Add(-7 * 24 * time.Hour)},
		{"2024-03-09T08:00:00Z", time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseTimeSpec(tt.spec, now)
		if err != nil {
			t.Errorf("parseTimeSpec(%q): %v", tt.spec, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseTimeSpec(%q) = %s, want %s", tt.spec, got, tt.want)
		}
	}
	if _, err := parseTimeSpec("yesterday", now); err == nil {
		t.Error("expected error for unparseable spec")
	}
}

func TestParseXTEAKey(t *testing.T) {
	k, err := parseXTEAKey("00112233, 0x44556677,8899aabb,CCDDEEFF")
	if err != nil {
		t.Fatal(err)
	}
	if k != (xtea.Key{0x00112233, 0x44556677, 0x8899AABB, 0xCCDDEEFF}) {
		t.Errorf("key = %08x", k)
	}
	if _, err := parseXTEAKey("1,2,3"); err == nil {
		t.Error("expected error for short key")
	}
}

func TestDecryptWithKey(t *testing.T) {
	out, err := run(t, "decrypt", "--key", "0000000000001234", "--ecm", "000102030405060708090a0b0c0d0e0f")
	if err != nil {
		t.Fatal(err)
	}
	want := "cw:   d2344136ffc4791c\naux:  40\ndate: 748d\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestDecryptWithXTEA(t *testing.T) {
	key := "00112233,44556677,8899aabb,ccddeeff"
	out, err := run(t, "decrypt", "--xtea", key, "--verify", "--ecm", "0001020304050607d012bb30e7fb7eeb")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "cw:   c341426f2a9e8830\n") {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, "decrypt", "--xtea", key, "--verify", "--ecm", "0001020304050607d012bb30e7fb7eea")
	if err != nil {
		t.Fatal(err)
	}
	if out != "failed: signature mismatch\n" {
		t.Errorf("tampered output = %q", out)
	}
}

func TestDecryptRequiresOneKeySource(t *testing.T) {
	if _, err := run(t, "decrypt", "--ecm", "000102030405060708090a0b0c0d0e0f"); err == nil {
		t.Error("expected error without a key source")
	}
	if _, err := run(t, "decrypt", "--key", "00", "--ecm", "000102030405060708090a0b0c0d0e0f"); err == nil {
		t.Error("expected error for short key")
	}
}

func TestProvisionThenDecryptFromEEPROM(t *testing.T) {
	cfg := writeConfig(t)
	doc := filepath.Join(t.TempDir(), "card.yaml")
	// ATR profile 1 maps key index 1 of 0620 to slot 3 and does not validate.
	yml := "atr_index: 1\nkeys:\n  3: 00e2516d15975155\n"
	if err := os.WriteFile(doc, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "-c", cfg, "provision", doc)
	if err != nil {
		t.Fatalf("provision: %v (%s)", err, out)
	}
	if !strings.HasPrefix(out, "provisioned ") {
		t.Errorf("provision output = %q", out)
	}

	out, err = run(t, "-c", cfg, "decrypt", "--command", "0620", "--ecm", "000102030405060708090a0b0c0d0e0f")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "cw:   aeee9a3bf12d2b0b\n") {
		t.Errorf("decrypt output = %q", out)
	}

	out, err = run(t, "-c", cfg, "provision", "--export")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "00E2516D15975155") {
		t.Errorf("export does not contain provisioned key:\n%s", out)
	}
}

func TestEEPROMDumpRestore(t *testing.T) {
	cfg := writeConfig(t)
	img := filepath.Join(t.TempDir(), "card.img")
	doc := filepath.Join(t.TempDir(), "card.yaml")
	if err := os.WriteFile(doc, []byte("channels: 0102030405060708\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "-c", cfg, "provision", doc); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "-c", cfg, "eeprom", "dump", "--passphrase", "s3cret", img); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, "-c", cfg, "provision", "--format", doc); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(doc, []byte("channels: ffffffffffffffff\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "-c", cfg, "provision", doc); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, "-c", cfg, "eeprom", "restore", "--passphrase", "wrong", img); err == nil {
		t.Fatal("restore with wrong passphrase succeeded")
	}
	out, err := run(t, "-c", cfg, "eeprom", "restore", "--passphrase", "s3cret", img)
	if err != nil {
		t.Fatalf("restore: %v (%s)", err, out)
	}
	out, err = run(t, "-c", cfg, "provision", "--export")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "0102030405060708") {
		t.Errorf("restored image lost the channel table:\n%s", out)
	}
}
