package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/neo7530/systerfun/pkg/appdir"
	"github.com/neo7530/systerfun/pkg/config"
	"github.com/neo7530/systerfun/pkg/eeprom"
	"github.com/neo7530/systerfun/pkg/keystore"
)

// Set at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const appName = "systerfun"

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Configuration file `PATH` (default: systerfun.yaml in ., /etc/systerfun, ~/.systerfun)",
	EnvVars: []string{"SYSTER_CONFIG"},
}

func main() {
	app := &cli.App{
		Name:    appName,
		Usage:   "conditional-access card emulator",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			upCommand,
			ctlCommand,
			logsCommand,
			decryptCommand,
			provisionCommand,
			eepromCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("Error loading configuration: %v", err), 1)
	}
	return cfg, nil
}

// openCard opens the persistent EEPROM named by cfg and the key store on it.
// A relative path is taken from the app directory.
func openCard(cfg *config.Config) (*eeprom.BoltStore, *keystore.KeyStore, error) {
	store, err := eeprom.OpenBolt(appdir.Path(cfg.EEPROMPath), eeprom.DefaultSize)
	if err != nil {
		return nil, nil, cli.Exit(fmt.Sprintf("Error opening EEPROM: %v", err), 1)
	}
	ks, err := keystore.Open(store)
	if err != nil {
		store.Close()
		return nil, nil, cli.Exit(fmt.Sprintf("Error opening key store: %v", err), 1)
	}
	return store, ks, nil
}
