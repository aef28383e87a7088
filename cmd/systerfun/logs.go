package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/neo7530/systerfun/pkg/log"
)

// timeFormats are tried in order when parsing absolute times.
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var longUnit = regexp.MustCompile(`^(\d+)([dw])$`)

// parseTimeSpec accepts a duration before now ("90s", "1h30m", "2d", "1w")
// or an absolute timestamp. Absolute times without a zone are local.
func parseTimeSpec(spec string, now time.Time) (time.Time, error) {
	if m := longUnit.FindStringSubmatch(spec); m != nil {
		n, _ := strconv.Atoi(m[1])
		day := 24 * time.Hour
		if m[2] == "w" {
			day *= 7
		}
		return now.Add(-time.Duration(n) * day), nil
	}
	if d, err := time.ParseDuration(spec); err == nil {
		return now.Add(-d), nil
	}
	for _, layout := range timeFormats {
		if ts, err := time.ParseInLocation(layout, spec, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time specification: '%s'. Use relative duration (e.g., '1h', '30m', '2d') or absolute format (e.g., '2023-10-27T15:04:05Z')", spec)
}

const logsCommandHelpTemplate = `NAME:
   {{.HelpName}} - {{.Usage}}

USAGE:
   {{.HelpName}} {{if .UsageText}}{{.UsageText}}{{else}}[command options]{{end}}
{{if .Description}}
DESCRIPTION:
   {{.Description | Indent 4}}
{{end}}
MODES (choose one; defaults to --last):
     --last                 Retrieve the most recent N log entries.
     --since                Retrieve logs since a start time up to now.
     --between              Retrieve logs between a start and an end time.
     --session ID           Retrieve the logs of one card session.

OPTIONS:
{{range .VisibleFlags}}   {{.}}
{{end}}
TIME SPECIFICATION (<time_spec>):
     1. Relative duration before now: "5m", "1h30m", "2d", "1w".
     2. Absolute timestamp: "2023-10-27T15:04:05Z", "2023-10-27 10:00:00",
        "2023-10-27". Local time is assumed without a zone.

EXAMPLES:
     systerfun logs -n 50
     systerfun logs --since -s 1h --pretty
     systerfun logs --between -s 2d -e 1d --limit 2000
     systerfun logs --session 6f1c2a0e-8d8e-4a55-9d0e-3f7b1d2c9a10
`

var logsCommand = &cli.Command{
	Name:               "logs",
	Usage:              "retrieve log entries from the emulator's log database",
	UsageText:          "systerfun logs [--last|--since|--between|--session ID] [options]",
	Description:        `Reads the SQLite log database written by "systerfun up" (log_db in the configuration, or -f).`,
	CustomHelpTemplate: logsCommandHelpTemplate,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "dbfile",
			Aliases: []string{"f"},
			Usage:   "Path to the SQLite log database `PATH` (default: log_db)",
		},
		&cli.BoolFlag{
			Name:    "pretty",
			Aliases: []string{"p"},
			Usage:   "Print human-readable lines instead of raw JSON",
		},
		&cli.BoolFlag{Name: "last", Usage: "Mode: most recent N entries (default)"},
		&cli.BoolFlag{Name: "since", Usage: "Mode: entries since a start time"},
		&cli.BoolFlag{Name: "between", Usage: "Mode: entries between a start and an end time"},
		&cli.StringFlag{Name: "session", Usage: "Mode: entries of one card session `ID`"},
		&cli.IntFlag{
			Name:    "count",
			Aliases: []string{"n"},
			Usage:   "Number of entries for --last `NUMBER`",
			Value:   100,
		},
		&cli.StringFlag{
			Name:    "start",
			Aliases: []string{"s"},
			Usage:   "Start time for --since/--between `TIME_SPEC`",
		},
		&cli.StringFlag{
			Name:    "end",
			Aliases: []string{"e"},
			Usage:   "End time for --between `TIME_SPEC`",
		},
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"l"},
			Usage:   "Max entries for --since/--between/--session `NUMBER`",
			Value:   1000,
		},
	},
	Action: logsCmd,
}

func logsCmd(c *cli.Context) error {
	dbFile := c.String("dbfile")
	if dbFile == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		dbFile = cfg.LogDB
	}

	isLast, isSince, isBetween := c.Bool("last"), c.Bool("since"), c.Bool("between")
	isSession := c.IsSet("session")
	modes := 0
	for _, m := range []bool{isLast, isSince, isBetween, isSession} {
		if m {
			modes++
		}
	}
	switch {
	case modes == 0:
		isLast = true
	case modes > 1:
		return cli.Exit("Error: Only one mode flag (--last, --since, --between, --session) can be specified at a time.", 1)
	}

	if err := log.Init(dbFile); err != nil {
		if os.IsNotExist(err) {
			return cli.Exit(fmt.Sprintf("Error: Database file not found at '%s'", dbFile), 1)
		}
		return cli.Exit(fmt.Sprintf("Error opening log database: %v", err), 1)
	}
	defer log.Close()

	now := time.Now()
	var (
		results []log.LogEntry
		err     error
	)
	switch {
	case isLast:
		count := c.Int("count")
		if count <= 0 {
			return cli.Exit("Error: --count (-n) must be a positive number.", 1)
		}
		results, err = log.GetLastNLogs(count)

	case isSince:
		if !c.IsSet("start") {
			return cli.Exit("Error: --start (-s) flag is required for --since mode.", 1)
		}
		start, perr := parseTimeSpec(c.String("start"), now)
		if perr != nil {
			return cli.Exit(fmt.Sprintf("Error parsing start time: %v", perr), 1)
		}
		results, err = log.GetLogsSince(start, c.Int("limit"))

	case isBetween:
		if !c.IsSet("start") || !c.IsSet("end") {
			return cli.Exit("Error: --start (-s) and --end (-e) are required for --between mode.", 1)
		}
		start, perr := parseTimeSpec(c.String("start"), now)
		if perr != nil {
			return cli.Exit(fmt.Sprintf("Error parsing start time: %v", perr), 1)
		}
		end, perr := parseTimeSpec(c.String("end"), now)
		if perr != nil {
			return cli.Exit(fmt.Sprintf("Error parsing end time: %v", perr), 1)
		}
		if start.After(end) {
			fmt.Fprintf(os.Stderr, "Warning: Start time (%s) is after end time (%s).\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
		results, err = log.GetLogsBetween(start, end, c.Int("limit"))

	case isSession:
		results, err = log.GetSessionLogs(c.String("session"), c.Int("limit"))
	}

	if err != nil {
		if errors.Is(err, log.ErrNotInitialized) {
			return cli.Exit("Internal Error: Logger DB handle became unavailable.", 2)
		}
		return cli.Exit(fmt.Sprintf("Error retrieving logs: %v", err), 1)
	}
	if len(results) == 0 {
		fmt.Fprintln(os.Stderr, "No log entries found matching the criteria.")
		return nil
	}

	if !c.Bool("pretty") {
		for _, e := range results {
			fmt.Println(e.LogData)
		}
		return nil
	}
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	for _, e := range results {
		if _, err := cw.Write([]byte(e.LogData)); err != nil {
			fmt.Println(e.LogData)
		}
	}
	return nil
}
