package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"atmoscope/internal/extract"
	"atmoscope/internal/orchestrator"
)

// DefaultTail is how many recent output lines the live view keeps on screen.
const DefaultTail = 12

type notificationMsg orchestrator.Notification

// Live is the bubbletea model for `run --tui`. It shows a spinner and the
// tail of the simulator output until the job's result arrives.
type Live struct {
	styles  Styles
	spinner spinner.Model
	notes   <-chan orchestrator.Notification
	cancel  func()

	jobID   string
	started time.Time
	tail    []string
	maxTail int
	lines   int

	done      bool
	cancelled bool
	result    *extract.Result
	err       error
}

// NewLive creates the view for one job. cancel is called when the user
// interrupts; the view keeps running until the job reports its outcome.
func NewLive(job *orchestrator.Job, styles Styles, cancel func()) Live {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	return Live{
		styles:  styles,
		spinner: sp,
		notes:   job.Notifications(),
		cancel:  cancel,
		jobID:   job.ID,
		started: job.StartedAt,
		maxTail: DefaultTail,
	}
}

func (m Live) waitForNotification() tea.Cmd {
	notes := m.notes
	return func() tea.Msg {
		n, ok := <-notes
		if !ok {
			return nil
		}
		return notificationMsg(n)
	}
}

// Init implements tea.Model.
func (m Live) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForNotification())
}

// Update implements tea.Model.
func (m Live) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.cancelled && m.cancel != nil {
				m.cancel()
			}
			m.cancelled = true
		}
		return m, nil

	case notificationMsg:
		switch msg.Kind {
		case orchestrator.KindLine:
			m.lines++
			m.tail = append(m.tail, msg.Line)
			if len(m.tail) > m.maxTail {
				m.tail = m.tail[len(m.tail)-m.maxTail:]
			}
			return m, m.waitForNotification()
		case orchestrator.KindResult:
			m.done = true
			m.result, m.err = msg.Result, msg.Err
			return m, tea.Quit
		}
		return m, m.waitForNotification()

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Live) View() string {
	var sb strings.Builder

	status := m.spinner.View() + " running"
	switch {
	case m.done && m.err != nil:
		status = m.styles.Error.Render("✗ failed")
	case m.done:
		status = m.styles.Success.Render("✓ finished")
	case m.cancelled:
		status = m.spinner.View() + " cancelling"
	}
	elapsed := time.Since(m.started).Round(100 * time.Millisecond)
	fmt.Fprintf(&sb, "%s %s %s\n", status, m.styles.Bold.Render("job "+m.jobID),
		m.styles.Muted.Render(fmt.Sprintf("· %d lines · %s", m.lines, elapsed)))

	for _, line := range m.tail {
		sb.WriteString(m.styles.Line.Render(strings.ReplaceAll(line, "\t", "    ")))
		sb.WriteString("\n")
	}
	if !m.done {
		sb.WriteString(m.styles.Muted.Render("q to cancel"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Done reports whether the job's result arrived.
func (m Live) Done() bool { return m.done }

// Outcome returns what the job reported. Both are nil until Done.
func (m Live) Outcome() (*extract.Result, error) {
	return m.result, m.err
}

// Lines returns how many output lines were seen.
func (m Live) Lines() int { return m.lines }
