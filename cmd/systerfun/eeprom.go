package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/neo7530/systerfun/pkg/eeprom"
	"github.com/neo7530/systerfun/pkg/transform"
)

var imageFlags = []cli.Flag{
	&cli.StringFlag{Name: "compression", Usage: "Image compression `ALGO`: zstd, gzip or none (default: image_compression)"},
	&cli.StringFlag{Name: "passphrase", Usage: "Seal the image with AES-GCM under `PASSPHRASE` (default: image_passphrase)", EnvVars: []string{"SYSTER_IMAGE_PASSPHRASE"}},
}

var eepromCommand = &cli.Command{
	Name:  "eeprom",
	Usage: "back up or restore the card EEPROM",
	Subcommands: []*cli.Command{
		{
			Name:      "dump",
			Usage:     "write a compressed EEPROM image",
			UsageText: "systerfun eeprom dump FILE",
			Flags:     imageFlags,
			Action:    eepromDumpCmd,
		},
		{
			Name:      "restore",
			Usage:     "load an EEPROM image written by dump",
			UsageText: "systerfun eeprom restore FILE",
			Flags:     imageFlags,
			Action:    eepromRestoreCmd,
		},
	},
}

func imagePipeline(c *cli.Context, compression, passphrase string) (*transform.Pipeline, error) {
	if c.IsSet("compression") {
		compression = c.String("compression")
	}
	if c.IsSet("passphrase") {
		passphrase = c.String("passphrase")
	}
	p, err := transform.ForImage(compression, passphrase)
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}
	return p, nil
}

func eepromDumpCmd(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("Error: an image file is required.", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	p, err := imagePipeline(c, cfg.ImageCompression, cfg.ImagePassphrase)
	if err != nil {
		return err
	}
	store, _, err := openCard(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Create(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := eeprom.Dump(f, store, p); err != nil {
		f.Close()
		return cli.Exit(fmt.Sprintf("Error dumping EEPROM: %v", err), 1)
	}
	if err := f.Close(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Fprintf(c.App.Writer, "wrote %d-byte EEPROM image to %s\n", store.Size(), c.Args().First())
	return nil
}

func eepromRestoreCmd(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("Error: an image file is required.", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	p, err := imagePipeline(c, cfg.ImageCompression, cfg.ImagePassphrase)
	if err != nil {
		return err
	}
	f, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer f.Close()

	store, _, err := openCard(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	before := store.Writes()
	if err := eeprom.Restore(f, store, p); err != nil {
		return cli.Exit(fmt.Sprintf("Error restoring EEPROM: %v", err), 1)
	}
	fmt.Fprintf(c.App.Writer, "restored %s (%d cells written)\n", c.Args().First(), store.Writes()-before)
	return nil
}
