package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/pithecene-io/loupe/types"
)

// SummaryRows returns the label/value pairs shown for a finished submission.
func SummaryRows(res *types.SubmissionResult) [][2]string {
	if res == nil {
		return nil
	}
	rows := [][2]string{
		{"Request", res.RequestID},
		{"Outcome", string(outcomeStatus(res))},
	}
	if res.Outcome != nil && res.Outcome.StatusCode != 0 {
		rows = append(rows, [2]string{"Status", fmt.Sprintf("%d", res.Outcome.StatusCode)})
	}
	if res.Outcome != nil && res.Outcome.Status != types.OutcomeSuccess {
		rows = append(rows, [2]string{"Message", res.Outcome.Message})
	}
	rows = append(rows, [2]string{"Type", res.MimeType})
	if res.Image != nil {
		w, h := res.Image.DisplaySize()
		rows = append(rows, [2]string{"Image", fmt.Sprintf("%s %dx%d", res.Image.Format, w, h)})
	}
	rows = append(rows,
		[2]string{"Frames", fmt.Sprintf("%d", res.FrameCount)},
		[2]string{"Fragments", fmt.Sprintf("%d", res.FragmentCount)},
		[2]string{"Bytes", fmt.Sprintf("%d", res.BytesRead)},
		[2]string{"Duration", res.Duration.Round(time.Millisecond).String()},
	)
	return rows
}

// RenderSummary renders a finished submission as a bordered box.
func RenderSummary(res *types.SubmissionResult) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	for i, row := range SummaryRows(res) {
		if i > 0 {
			b.WriteString("\n")
		}
		value := ValueStyle.Render(row[1])
		if row[0] == "Outcome" {
			value = OutcomeStyle(outcomeStatus(res)).Render(row[1])
		}
		b.WriteString(LabelStyle.Render(row[0]+":") + " " + value)
	}
	return BoxStyle.Render(b.String())
}

func outcomeStatus(res *types.SubmissionResult) types.OutcomeStatus {
	if res.Outcome == nil {
		return ""
	}
	return res.Outcome.Status
}
