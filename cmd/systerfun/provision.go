package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/neo7530/systerfun/pkg/keystore"
)

var provisionCommand = &cli.Command{
	Name:      "provision",
	Usage:     "apply or export a YAML provisioning file",
	UsageText: "systerfun provision FILE | systerfun provision --export [FILE]",
	Description: `Writes keys, channels, entitlement records and mode selectors from a
YAML file into the card EEPROM. Only the fields present are written.
With --export the current contents are written as YAML instead.`,
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "export", Usage: "Export the EEPROM contents instead of applying a file"},
		&cli.BoolFlag{Name: "format", Usage: "Reset the EEPROM to factory values before applying"},
	},
	Action: provisionCmd,
}

func provisionCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, ks, err := openCard(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if c.Bool("export") {
		out := c.App.Writer
		if c.Args().Len() > 0 {
			f, err := os.Create(c.Args().First())
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer f.Close()
			out = f
		}
		if err := ks.Export().WriteYAML(out); err != nil {
			return cli.Exit(fmt.Sprintf("Error exporting: %v", err), 1)
		}
		return nil
	}

	if c.Args().Len() != 1 {
		return cli.Exit("Error: exactly one provisioning file is required.", 1)
	}
	f, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer f.Close()
	p, err := keystore.ParseProvisioning(f)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	if c.Bool("format") {
		if err := ks.Format(); err != nil {
			return cli.Exit(fmt.Sprintf("Error formatting: %v", err), 1)
		}
	}
	before := store.Writes()
	if err := ks.Provision(p); err != nil {
		return cli.Exit(fmt.Sprintf("Error provisioning: %v", err), 1)
	}
	fmt.Fprintf(c.App.Writer, "provisioned %s (%d cells written)\n", c.Args().First(), store.Writes()-before)
	return nil
}
