package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/neo7530/systerfun/pkg/management"
)

var ctlCommand = &cli.Command{
	Name:        "ctl",
	Usage:       "send a command to the running emulator",
	UsageText:   "systerfun ctl [command [args...]]",
	Description: `Talks to the management socket of "systerfun up". Run "systerfun ctl help" for the command list.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Management `PASSWORD` (default: management_password from the configuration)",
			EnvVars: []string{"SYSTER_MANAGEMENT_PASSWORD"},
		},
	},
	Action: ctlCmd,
}

func ctlCmd(c *cli.Context) error {
	password := c.String("password")
	if !c.IsSet("password") {
		if cfg, err := loadConfig(c); err == nil {
			password = cfg.ManagementPassword
		}
	}
	client := management.NewManagementClient(management.SocketPath(appName), password)
	res, err := client.SendCommand(strings.Join(c.Args().Slice(), " "))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Println(res)
	return nil
}
