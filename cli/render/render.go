// Package render writes command results as json, yaml or an aligned table.
//
// Without --format, a terminal gets table and anything else gets json.
// Only Tabular values have a table form; others fall back to yaml.
// --no-color affects table output only.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/loupe/cli/tui"
	"github.com/pithecene-io/loupe/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a --format value. An empty value yields "", leaving
// the default to the caller.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "", FormatJSON, FormatTable, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Row is one label/value line of table output. Rows with an Outcome are
// colored by it.
type Row struct {
	Label   string
	Value   string
	Outcome types.OutcomeStatus
}

// Tabular is implemented by values that have a table form.
type Tabular interface {
	Rows() []Row
}

// Summary is the rendered form of a finished submission.
type Summary struct {
	RequestID  string              `json:"request_id" yaml:"request_id"`
	Outcome    types.OutcomeStatus `json:"outcome" yaml:"outcome"`
	Message    string              `json:"message,omitempty" yaml:"message,omitempty"`
	StatusCode int                 `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Streaming  bool                `json:"streaming" yaml:"streaming"`
	MimeType   string              `json:"mime_type" yaml:"mime_type"`
	Image      *types.ImageInfo    `json:"image,omitempty" yaml:"image,omitempty"`
	Frames     int                 `json:"frames" yaml:"frames"`
	Fragments  int                 `json:"fragments" yaml:"fragments"`
	Discarded  int                 `json:"discarded_segments" yaml:"discarded_segments"`
	BytesRead  int64               `json:"bytes_read" yaml:"bytes_read"`
	DurationMs int64               `json:"duration_ms" yaml:"duration_ms"`
	Text       string              `json:"text" yaml:"text"`
}

// NewSummary converts a submission result for rendering.
func NewSummary(res *types.SubmissionResult) Summary {
	s := Summary{
		RequestID:  res.RequestID,
		Streaming:  res.Streaming,
		MimeType:   res.MimeType,
		Image:      res.Image,
		Frames:     res.FrameCount,
		Fragments:  res.FragmentCount,
		Discarded:  res.DiscardedSegments,
		BytesRead:  res.BytesRead,
		DurationMs: res.Duration.Milliseconds(),
		Text:       res.Text,
	}
	if res.Outcome != nil {
		s.Outcome = res.Outcome.Status
		s.StatusCode = res.Outcome.StatusCode
		if res.Outcome.Status != types.OutcomeSuccess {
			s.Message = res.Outcome.Message
		}
	}
	return s
}

// Rows implements Tabular. The text is left out: table output goes to
// terminals, which have already shown it as it arrived.
func (s Summary) Rows() []Row {
	rows := []Row{
		{Label: "request_id", Value: s.RequestID},
		{Label: "outcome", Value: string(s.Outcome), Outcome: s.Outcome},
	}
	if s.StatusCode != 0 {
		rows = append(rows, Row{Label: "status_code", Value: strconv.Itoa(s.StatusCode)})
	}
	if s.Message != "" {
		rows = append(rows, Row{Label: "message", Value: s.Message})
	}
	rows = append(rows, Row{Label: "mime_type", Value: s.MimeType})
	if s.Image != nil {
		w, h := s.Image.DisplaySize()
		rows = append(rows, Row{Label: "image", Value: fmt.Sprintf("%s %dx%d", s.Image.Format, w, h)})
	}
	return append(rows,
		Row{Label: "streaming", Value: strconv.FormatBool(s.Streaming)},
		Row{Label: "frames", Value: strconv.Itoa(s.Frames)},
		Row{Label: "fragments", Value: strconv.Itoa(s.Fragments)},
		Row{Label: "discarded_segments", Value: strconv.Itoa(s.Discarded)},
		Row{Label: "bytes_read", Value: strconv.FormatInt(s.BytesRead, 10)},
		Row{Label: "duration", Value: (time.Duration(s.DurationMs) * time.Millisecond).String()},
	)
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context, writing to out.
// The TTY default is decided on os.Stdout.
func NewRenderer(c *cli.Context, out io.Writer) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	if format == "" {
		if isTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}

	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     out,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Format returns the selected format.
func (r *Renderer) Format() Format {
	return r.format
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

func (r *Renderer) renderTable(data any) error {
	t, ok := data.(Tabular)
	if !ok {
		// Values without a table form are still readable as YAML.
		return r.renderYAML(data)
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, row := range t.Rows() {
		value := row.Value
		if row.Outcome != "" && !r.noColor {
			value = tui.OutcomeStyle(row.Outcome).Render(value)
		}
		fmt.Fprintf(w, "%s:\t%s\n", row.Label, value)
	}
	return w.Flush()
}

// isTTY returns true if the file is a terminal.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
