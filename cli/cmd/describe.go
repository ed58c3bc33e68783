package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/loupe/cli/render"
	"github.com/pithecene-io/loupe/cli/tui"
	"github.com/pithecene-io/loupe/iox"
	"github.com/pithecene-io/loupe/payload"
	"github.com/pithecene-io/loupe/reassemble"
	"github.com/pithecene-io/loupe/runtime"
	"github.com/pithecene-io/loupe/transcript"
	"github.com/pithecene-io/loupe/types"
)

// sniffLen is how much of the file is inspected when no MIME type is known.
const sniffLen = 512

// DescribeCommand returns the describe command.
// It is the only command that submits work to the backend.
func DescribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Describe an image, printing the text as it streams back",
		ArgsUsage: "<image>",
		Flags: joinFlags(
			[]cli.Flag{
				&cli.StringFlag{
					Name:    "prompt",
					Aliases: []string{"p"},
					Usage:   "Instruction for the model (default: Describe the image)",
				},
				&cli.StringFlag{
					Name:  "mime",
					Usage: "Image MIME type (default: from the extension, then the content)",
				},
				&cli.BoolFlag{
					Name:  "no-stream",
					Usage: "Wait for the complete description instead of streaming",
				},
				&cli.BoolFlag{
					Name:  "tui",
					Usage: "Show the description in an interactive view",
				},
				&cli.StringFlag{
					Name:  "record",
					Usage: "Write the received frames to a transcript file",
				},
			},
			OutputFlags(),
			RelayFlags(),
			AdapterFlags(),
		),
		Action: describeAction,
	}
}

func describeAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("describe requires an image path", runtime.ExitCodeValidation)
	}
	if c.NArg() > 1 {
		return cli.Exit("describe takes exactly one image path", runtime.ExitCodeValidation)
	}

	r, err := render.NewRenderer(c, c.App.Writer)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeValidation)
	}

	s, err := newSetup(c, "cli", true)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeValidation)
	}
	defer s.close()

	in, closeFile, err := openImage(path, c.String("mime"))
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeValidation)
	}
	defer closeFile()
	s.logger.Sugar().Debugf("submitting %s as %s", path, in.MimeType)
	in.Prompt = c.String("prompt")
	in.Stream = !c.Bool("no-stream")

	var recorder *transcript.Recorder
	if out := c.String("record"); out != "" {
		if !in.Stream {
			return cli.Exit("--record requires a streaming submission", runtime.ExitCodeValidation)
		}
		f, err := os.Create(out)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot create transcript: %v", err), runtime.ExitCodeValidation)
		}
		defer iox.DiscardClose(f)
		recorder = transcript.NewRecorder(f)
	}

	orch, err := runtime.NewOrchestrator(runtime.Config{
		Forwarder:      s.forwarder,
		Sentinels:      s.sentinels(c),
		LineBreak:      s.lineBreak(c),
		MaxFrameSize:   s.maxFrameSize(c),
		StrictContract: s.strictContract(c),
		Logger:         s.logger,
		Metrics:        s.metrics,
		Adapter:        s.adapter,
		Recorder:       recorder,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	quiet := c.Bool("quiet")
	// Live text only goes to a human-readable stream; json and yaml carry
	// the text in the summary instead.
	live := !quiet && r.Format() == render.FormatTable

	var res *types.SubmissionResult
	switch {
	case c.Bool("tui"):
		res, err = tui.Run(ctx, filepath.Base(path), func(ctx context.Context, sink func(reassemble.State)) (*types.SubmissionResult, error) {
			return orch.Execute(ctx, in, runtime.SinkFunc(sink))
		})
	case live:
		printer := newLivePrinter(c.App.Writer)
		res, err = orch.Execute(ctx, in, printer)
		printer.finish()
	default:
		res, err = orch.Execute(ctx, in, nil)
	}
	if res == nil {
		return fmt.Errorf("execution failed: %w", err)
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

// openImage opens path and builds the submission input. The returned func
// closes the file.
func openImage(path, mimeType string) (payload.Input, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return payload.Input{}, nil, fmt.Errorf("cannot open image: %w", err)
	}

	size := payload.UnknownSize
	if info, err := f.Stat(); err == nil && info.Mode().IsRegular() {
		size = info.Size()
	}

	br := bufio.NewReaderSize(f, sniffLen)
	if mimeType == "" {
		mimeType = detectMIME(path, br)
	}

	return payload.Input{
		File:         br,
		DeclaredSize: size,
		MimeType:     mimeType,
	}, func() { iox.DiscardClose(f) }, nil
}

// detectMIME guesses the type from the extension, then from the content.
// An empty or unrecognizable file yields "", which encoding rejects.
func detectMIME(path string, br *bufio.Reader) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		t, _, _ = strings.Cut(t, ";")
		return t
	}
	head, _ := br.Peek(sniffLen)
	if len(head) == 0 {
		return ""
	}
	t := http.DetectContentType(head)
	if t == "application/octet-stream" {
		return ""
	}
	t, _, _ = strings.Cut(t, ";")
	return t
}

// livePrinter writes each newly appended piece of text as it arrives.
type livePrinter struct {
	w       io.Writer
	printed int
	wrote   bool
}

func newLivePrinter(w io.Writer) *livePrinter {
	return &livePrinter{w: w}
}

// Update implements runtime.Sink.
func (p *livePrinter) Update(st reassemble.State) {
	if len(st.Text) <= p.printed {
		return
	}
	_, _ = io.WriteString(p.w, st.Text[p.printed:])
	p.printed = len(st.Text)
	p.wrote = true
}

// finish terminates the text with a blank line before the summary.
func (p *livePrinter) finish() {
	if p.wrote {
		_, _ = io.WriteString(p.w, "\n\n")
	}
}
