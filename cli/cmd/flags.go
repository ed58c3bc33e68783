// Package cmd provides CLI commands for the loupe binary.
package cmd

import "github.com/urfave/cli/v2"

// Output flags shared by every command that renders a result.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// QuietFlag suppresses live text and the summary.
	QuietFlag = &cli.BoolFlag{
		Name:    "quiet",
		Aliases: []string{"q"},
		Usage:   "Suppress output; only the exit code reports the outcome",
	}
)

// OutputFlags returns the shared output flags.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		QuietFlag,
	}
}

// RelayFlags returns the flags that configure the backend and stream
// handling. Each one overrides the matching key of the config file.
func RelayFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to loupe.yaml",
		},
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "Backend base address (default $API_ENDPOINT or http://localhost:8080)",
		},
		&cli.StringSliceFlag{
			Name:  "header",
			Usage: "Extra backend request header as Key=Value (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "sentinel",
			Usage: "Terminal frame payload (repeatable, default [DONE])",
		},
		&cli.StringFlag{
			Name:  "line-break",
			Usage: `Text inserted before a fragment that starts a block (escapes \n \r \t allowed)`,
		},
		&cli.IntFlag{
			Name:  "max-frame-size",
			Usage: "Largest accepted frame in bytes",
		},
		&cli.BoolFlag{
			Name:  "strict-contract",
			Usage: "Check every request against the upload schema before sending",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
	}
}

// AdapterFlags returns the completion adapter flags.
func AdapterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Completion adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook URL or Redis URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel",
		},
		&cli.StringSliceFlag{
			Name:  "adapter-header",
			Usage: "Webhook header as Key=Value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-publish timeout",
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Publish retry attempts",
			Value: 3,
		},
	}
}

func joinFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
