package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/neo7530/systerfun/pkg/config"
	"github.com/neo7530/systerfun/pkg/emulator"
	"github.com/neo7530/systerfun/pkg/log"
	"github.com/neo7530/systerfun/pkg/management"
)

var upCommand = &cli.Command{
	Name:      "up",
	Usage:     "start the card emulator",
	UsageText: "systerfun up [--serial PORT] [--listen ADDR] [--api ADDR]",
	Description: `Serves the card on a serial bridge to the decoder and/or on a TCP
listener for simulated decoders. The HTTP API and the management socket
run alongside.`,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "serial", Usage: "Serial `PORT` of the decoder bridge (overrides serial_port)"},
		&cli.IntFlag{Name: "baud", Usage: "Serial baud `RATE` (overrides baud_rate)"},
		&cli.StringFlag{Name: "listen", Usage: "TCP host listener `ADDR` (overrides listen_address)"},
		&cli.StringFlag{Name: "api", Usage: "HTTP API `ADDR` (overrides api_listen_address)"},
		&cli.StringFlag{Name: "eeprom", Usage: "EEPROM database `PATH` (overrides eeprom_path)"},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
	},
	Action: upCmd,
}

func applyUpFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("serial") {
		cfg.SerialPort = c.String("serial")
	}
	if c.IsSet("baud") {
		cfg.BaudRate = c.Int("baud")
	}
	if c.IsSet("listen") {
		cfg.ListenAddress = c.String("listen")
	}
	if c.IsSet("api") {
		cfg.APIListenAddress = c.String("api")
	}
	if c.IsSet("eeprom") {
		cfg.EEPROMPath = c.String("eeprom")
	}
	if c.Bool("debug") {
		cfg.Debug = true
	}
}

func upCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	applyUpFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if !cfg.HasHost() {
		return cli.Exit("Error: no host link configured; set serial_port or listen_address", 1)
	}

	log.SetStd()
	log.SetDebug(cfg.Debug)
	if err := log.Init(cfg.LogDB); err != nil {
		log.Fatalf("Failed to initialize log database: %v", err)
	}
	defer log.Close()

	fmt.Printf("systerfun %s (built %s) on %s\n", Version, BuildTime, config.Hostname())

	store, _, err := openCard(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := emulator.New(cfg, store, emulator.WithManagement(management.SocketPath(appName)))
	if err != nil {
		log.Fatalf("Failed to create emulator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("card emulator is running. Press Ctrl+C to stop.")
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("emulator stopped with error")
		return cli.Exit(err.Error(), 1)
	}
	log.Printf("card emulator has been shut down.")
	return nil
}
