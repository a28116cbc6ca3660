// Package notify holds the sinks that turn pipeline lifecycle events into
// console output, chat messages and metrics. Every sink attaches to a
// runner through its Register method and never affects the run's outcome.
package notify

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/systemstart/browser-build/pkg/runner"
)

type consoleStyles struct {
	header  lipgloss.Style
	index   lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	skipped lipgloss.Style
	dim     lipgloss.Style
}

func newConsoleStyles(r *lipgloss.Renderer) consoleStyles {
	return consoleStyles{
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#f97316")),
		index:   r.NewStyle().Foreground(lipgloss.Color("#888888")),
		success: r.NewStyle().Foreground(lipgloss.Color("#22c55e")),
		failure: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#ef4444")),
		skipped: r.NewStyle().Foreground(lipgloss.Color("#eab308")),
		dim:     r.NewStyle().Faint(true),
	}
}

// Console prints a progress line per lifecycle event. Colours are only
// emitted when w is a terminal.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	styles consoleStyles
	total  int
}

// NewConsole creates a console sink writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, styles: newConsoleStyles(lipgloss.NewRenderer(w))}
}

// Register subscribes c to every event type.
func (c *Console) Register(s runner.Subscriber) {
	runner.SubscribeAll(s, c.Handle)
}

// Handle prints e.
func (c *Console) Handle(e runner.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.styles
	var line string
	switch e.Type {
	case runner.PipelineStart:
		names, _ := e.Metadata["steps"].([]string)
		c.total = len(names)
		line = st.header.Render(fmt.Sprintf("Pipeline %s", e.Pipeline)) + " " +
			st.dim.Render(startSummary(e.Metadata, c.total))
	case runner.StepStart:
		line = st.index.Render(fmt.Sprintf("[%d/%d]", e.Index+1, c.total)) + " " + e.Step
	case runner.StepEnd:
		line = "  " + st.success.Render("✓ "+e.Step) + " " + st.dim.Render(detail(e.Message, e.Duration))
	case runner.StepSkip:
		line = "  " + st.skipped.Render("- "+e.Step+" skipped") + " " + st.dim.Render(e.Message)
	case runner.StepError:
		line = "  " + st.failure.Render("✗ "+e.Step) + " " + e.Message
	case runner.PipelineEnd:
		state, _ := e.Metadata["state"].(string)
		if e.Success {
			line = st.success.Render("Pipeline completed") + " " + st.dim.Render(detail(e.Message, e.Duration))
		} else {
			line = st.failure.Render("Pipeline "+state) + " " + e.Message
		}
	default:
		return
	}
	fmt.Fprintln(c.w, strings.TrimRight(line, " "))
}

func startSummary(meta map[string]any, total int) string {
	parts := []string{fmt.Sprintf("%d steps", total)}
	platform, _ := meta["platform"].(string)
	arch, _ := meta["arch"].(string)
	if platform != "" || arch != "" {
		parts = append(parts, platform+"/"+arch)
	}
	if bt, _ := meta["build_type"].(string); bt != "" {
		parts = append(parts, bt)
	}
	if dry, _ := meta["dry_run"].(bool); dry {
		parts = append(parts, "dry run")
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func detail(message string, d time.Duration) string {
	s := fmt.Sprintf("(%s)", d.Round(time.Millisecond))
	if message != "" {
		s = message + " " + s
	}
	return s
}
