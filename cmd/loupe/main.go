// Package main provides the loupe CLI entrypoint.
//
// Usage:
//
//	loupe <command> [options] [args]
//
// Exit codes for describe and replay:
//   - 0: success
//   - 1: validation error (bad input or flags)
//   - 2: transport error
//   - 3: upstream error (non-2xx backend status)
//   - 4: protocol error (malformed stream)
//   - 130: canceled
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/loupe/cli/cmd"
	"github.com/pithecene-io/loupe/runtime"
	"github.com/pithecene-io/loupe/types"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "loupe",
		Usage:          "Stream image descriptions from an inference backend",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.DescribeCommand(),
			cmd.ServeCommand(),
			cmd.ReplayCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for every error it sees.
		os.Exit(runtime.ExitCodeValidation)
	}
}

// exitErrHandler prints err and exits with the code it carries.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(report(os.Stderr, err))
}

// report writes the message for err to w and returns the exit code.
// cli.Exit errors keep their code; anything else is a usage failure.
func report(w io.Writer, err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"; skip those.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code
	}

	fmt.Fprintf(w, "Error: %v\n", err)
	return runtime.ExitCodeValidation
}
