package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/loupe/reassemble"
	"github.com/pithecene-io/loupe/types"
)

// chromeHeight is the number of rows taken by the title, status and help lines.
const chromeHeight = 4

// StateMsg carries the visible state after one fragment.
type StateMsg struct {
	State reassemble.State
}

// ResultMsg carries the finished submission.
type ResultMsg struct {
	Result *types.SubmissionResult
	Err    error
}

// Exec runs a submission, calling sink after every update.
type Exec func(ctx context.Context, sink func(reassemble.State)) (*types.SubmissionResult, error)

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

// Model is the live description view.
type Model struct {
	title     string
	spinner   spinner.Model
	viewport  viewport.Model
	ready     bool
	text      string
	fragments int
	done      bool
	result    *types.SubmissionResult
	err       error
	quitting  bool
}

// NewModel creates a model titled with the submitted file name.
func NewModel(title string) Model {
	return Model{
		title:   title,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(WarningStyle)),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := max(msg.Height-chromeHeight, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.viewport.SetContent(m.text)
		m.viewport.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case StateMsg:
		m.text = msg.State.Text
		m.fragments = msg.State.Seq
		if m.ready {
			m.viewport.SetContent(m.text)
			m.viewport.GotoBottom()
		}
		return m, nil

	case ResultMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		if msg.Result != nil {
			m.text = msg.Result.Text
		}
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")
	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(m.text)
	}
	b.WriteString("\n")
	b.WriteString(m.status())
	if !m.done && !m.quitting {
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("Press q to cancel"))
	}
	return b.String()
}

func (m Model) status() string {
	switch {
	case m.done && m.result != nil && m.result.Outcome != nil:
		return OutcomeStyle(m.result.Outcome.Status).Render(string(m.result.Outcome.Status))
	case m.done && m.err != nil:
		return ErrorStyle.Render(m.err.Error())
	case m.quitting:
		return WarningStyle.Render("canceling")
	default:
		return fmt.Sprintf("%s receiving (%d fragments)", m.spinner.View(), m.fragments)
	}
}

// Text returns the text shown so far.
func (m Model) Text() string {
	return m.text
}

// Done reports whether the submission has finished.
func (m Model) Done() bool {
	return m.done
}

// Run drives exec under a live view and returns its result.
// Quitting the view cancels the context passed to exec.
func Run(ctx context.Context, title string, exec Exec) (*types.SubmissionResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		res *types.SubmissionResult
		err error
	}
	done := make(chan outcome, 1)

	p := tea.NewProgram(NewModel(title))
	go func() {
		res, err := exec(ctx, func(st reassemble.State) {
			p.Send(StateMsg{State: st})
		})
		p.Send(ResultMsg{Result: res, Err: err})
		done <- outcome{res: res, err: err}
	}()

	_, runErr := p.Run()
	cancel()
	o := <-done
	if runErr != nil && o.err == nil {
		return o.res, runErr
	}
	return o.res, o.err
}
