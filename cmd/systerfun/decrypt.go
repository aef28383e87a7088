package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/neo7530/systerfun/pkg/card"
	"github.com/neo7530/systerfun/pkg/systerdes"
	"github.com/neo7530/systerfun/pkg/xtea"
)

var decryptCommand = &cli.Command{
	Name:      "decrypt",
	Usage:     "decrypt a control message offline",
	UsageText: "systerfun decrypt --ecm HEX (--key HEX | --xtea K0,K1,K2,K3 [--verify] | --command CODE)",
	Description: `With --key the message is run through the primary cipher, with --xtea
through the alternate cipher. With --command the card's own keys and
selectors are used, exactly as a decrypt command from the decoder would.`,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "ecm", Usage: "Control message, 16 bytes as `HEX`", Required: true},
		&cli.StringFlag{Name: "key", Usage: "Primary key, 8 bytes as `HEX`"},
		&cli.StringFlag{Name: "xtea", Usage: "Alternate key as four hex `DWORDS` separated by commas"},
		&cli.BoolFlag{Name: "verify", Usage: "Check the alternate cipher signature"},
		&cli.StringFlag{Name: "command", Usage: "Decrypt command `CODE` run against the card EEPROM, e.g. 0620"},
	},
	Action: decryptCmd,
}

func parseHexArray(s string, n int) ([]byte, error) {
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("want %d bytes, got %d", n, len(b))
	}
	return b, nil
}

func parseXTEAKey(s string) (xtea.Key, error) {
	var k xtea.Key
	parts := strings.Split(s, ",")
	if len(parts) != len(k) {
		return k, fmt.Errorf("want %d comma separated dwords, got %d", len(k), len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(p), "0x"), 16, 32)
		if err != nil {
			return k, fmt.Errorf("dword %d: %w", i, err)
		}
		k[i] = uint32(v)
	}
	return k, nil
}

func decryptCmd(c *cli.Context) error {
	raw, err := parseHexArray(c.String("ecm"), systerdes.ECMSize)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: --ecm: %v", err), 1)
	}
	var ecm [systerdes.ECMSize]byte
	copy(ecm[:], raw)

	modes := 0
	for _, f := range []string{"key", "xtea", "command"} {
		if c.IsSet(f) {
			modes++
		}
	}
	if modes != 1 {
		return cli.Exit("Error: exactly one of --key, --xtea or --command is required.", 1)
	}

	w := c.App.Writer
	switch {
	case c.IsSet("key"):
		kb, err := parseHexArray(c.String("key"), systerdes.KeySize)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error: --key: %v", err), 1)
		}
		var key [systerdes.KeySize]byte
		copy(key[:], kb)
		printPrimary(w, systerdes.Decrypt(key, ecm))

	case c.IsSet("xtea"):
		key, err := parseXTEAKey(c.String("xtea"))
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error: --xtea: %v", err), 1)
		}
		out := card.Outcome{OK: true}
		out.CW, out.OK = xtea.Decrypt(key, ecm, c.Bool("verify"))
		if !out.OK {
			out.Reason = "signature mismatch"
		}
		printOutcome(w, out)

	default:
		cmd, err := card.ParseCommand(c.String("command"))
		if err != nil || !cmd.IsDecrypt() {
			return cli.Exit(fmt.Sprintf("Error: %q is not a decrypt command", c.String("command")), 1)
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		store, ks, err := openCard(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		printOutcome(w, card.Decrypt(ks, card.LoadState(ks), cmd, ecm, nil))
	}
	return nil
}

func printPrimary(w io.Writer, r systerdes.Result) {
	fmt.Fprintf(w, "cw:   %s\n", hex.EncodeToString(r.CW[:]))
	fmt.Fprintf(w, "aux:  %02x\n", r.Aux)
	fmt.Fprintf(w, "date: %04x\n", r.Date)
}

func printOutcome(w io.Writer, out card.Outcome) {
	if !out.OK {
		fmt.Fprintf(w, "failed: %s\n", out.Reason)
		return
	}
	printPrimary(w, systerdes.Result{CW: out.CW, Aux: out.Aux, Date: out.Date})
}
