package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/loupe/cli/config"
	"github.com/pithecene-io/loupe/cli/render"
	"github.com/pithecene-io/loupe/iox"
	"github.com/pithecene-io/loupe/reassemble"
	"github.com/pithecene-io/loupe/runtime"
	"github.com/pithecene-io/loupe/transcript"
	"github.com/pithecene-io/loupe/types"
)

// ReplayCommand returns the replay command.
// Replay never contacts the backend.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Re-render a recorded transcript through the reassembler",
		ArgsUsage: "<transcript>",
		Flags: joinFlags(
			[]cli.Flag{
				&cli.StringFlag{
					Name:  "line-break",
					Usage: `Text inserted before a fragment that starts a block (escapes \n \r \t allowed)`,
				},
			},
			OutputFlags(),
		),
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("replay requires a transcript path", runtime.ExitCodeValidation)
	}

	r, err := render.NewRenderer(c, c.App.Writer)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeValidation)
	}

	f, err := os.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open transcript: %v", err), runtime.ExitCodeValidation)
	}
	defer iox.DiscardClose(f)

	var opts []reassemble.Option
	if c.IsSet("line-break") {
		opts = append(opts, reassemble.WithLineBreak(config.DecodeLineBreak(c.String("line-break"))))
	}

	quiet := c.Bool("quiet")
	live := !quiet && r.Format() == render.FormatTable

	start := time.Now()
	replayer := transcript.Replay(f)
	cursor := reassemble.NewCursor(replayer, reassemble.New(opts...))

	var printer *livePrinter
	if live {
		printer = newLivePrinter(c.App.Writer)
	}
	frames := 0
	err = cursor.Drain(func(st reassemble.State) {
		if !st.Done {
			frames++
		}
		if printer != nil {
			printer.Update(st)
		}
	})
	if printer != nil {
		printer.finish()
	}

	result := cursor.Result()
	res := &types.SubmissionResult{
		Outcome:       runtime.DetermineOutcome(err),
		Streaming:     true,
		FrameCount:    frames,
		FragmentCount: result.Len(),
		Duration:      time.Since(start),
		Text:          result.Text(),
	}
	if h := replayer.Header(); h != nil {
		res.RequestID = h.RequestID
		res.MimeType = h.MimeType
	}

	if !quiet {
		if err := r.Render(render.NewSummary(res)); err != nil {
			return err
		}
	}

	code := runtime.ExitCode(res.Outcome.Status)
	if code == runtime.ExitCodeSuccess {
		return nil
	}
	return cli.Exit(res.Outcome.Message, code)
}
