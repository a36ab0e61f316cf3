// Package render draws a run on a terminal: log lines scroll while a
// progress bar stays on the last line. When the output is not a terminal
// it falls back to plain lines that are safe to pipe.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-isatty"

	qprogress "github.com/schovi/qrun/internal/progress"
	"github.com/schovi/qrun/internal/supervisor"
)

const defaultBarWidth = 40

// Console is a supervisor.Observer writing to one stream.
type Console struct {
	mu        sync.Mutex
	out       io.Writer
	live      bool
	bar       progress.Model
	percent   int
	lastShown int
	status    string
	exitCode  *int

	errStyle    lipgloss.Style
	recordStyle lipgloss.Style
	infoStyle   lipgloss.Style
	failStyle   lipgloss.Style
}

type Option func(*Console)

// WithLive forces the redrawing progress bar on or off. By default it is on
// when out is a terminal and NO_COLOR is unset.
func WithLive(live bool) Option {
	return func(c *Console) {
		c.live = live
	}
}

func WithBarWidth(width int) Option {
	return func(c *Console) {
		if width > 0 {
			c.bar.Width = width
		}
	}
}

func NewConsole(out io.Writer, opts ...Option) *Console {
	r := lipgloss.NewRenderer(out)
	c := &Console{
		out:       out,
		live:      isTerminal(out),
		lastShown: -1,
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(defaultBarWidth),
		),
		errStyle:    r.NewStyle().Faint(true),
		recordStyle: r.NewStyle().Foreground(lipgloss.Color("6")),
		infoStyle:   r.NewStyle().Bold(true),
		failStyle:   r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var terminalDetector = func(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func isTerminal(w io.Writer) bool {
	if _, disabled := os.LookupEnv("NO_COLOR"); disabled {
		return false
	}
	type fdWriter interface {
		Fd() uintptr
	}
	f, ok := w.(fdWriter)
	if !ok {
		return false
	}
	return terminalDetector(f.Fd())
}

// ExitCode returns the exit code of the last finished run.
func (c *Console) ExitCode() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exitCode == nil {
		return 0, false
	}
	return *c.exitCode, true
}

func (c *Console) OnStateChange(state supervisor.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status = state.String()
	switch state {
	case supervisor.Starting:
		c.percent = 0
		c.lastShown = -1
		c.exitCode = nil
	case supervisor.NotRunning:
		if c.live {
			c.clearLine()
			fmt.Fprintln(c.out, c.barLine())
		}
		return
	}
	c.redraw()
}

func (c *Console) OnProgress(percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.percent = percent
	if c.live {
		c.redraw()
		return
	}
	if percent != c.lastShown {
		c.lastShown = percent
		fmt.Fprintf(c.out, "progress: %d%%\n", percent)
	}
}

func (c *Console) OnLogLine(entry qprogress.LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := entry.Raw
	if c.live {
		switch {
		case entry.Parsed != nil:
			line = c.recordStyle.Render(line)
		case entry.Channel == qprogress.Err:
			line = c.errStyle.Render(line)
		}
	}
	c.println(line)
}

func (c *Console) OnVariables(vars map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(c.style(c.infoStyle, "vars: "+qprogress.FormatVariables(vars)))
}

func (c *Console) OnFinished(exitCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.exitCode = &exitCode
	msg := fmt.Sprintf("finished: exit code %d", exitCode)
	if exitCode == -1 {
		msg = "finished: terminated by signal"
	}
	if exitCode != 0 {
		msg = c.style(c.failStyle, msg)
	} else {
		msg = c.style(c.infoStyle, msg)
	}
	c.println(msg)
}

func (c *Console) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(c.style(c.failStyle, "error: "+err.Error()))
}

func (c *Console) style(s lipgloss.Style, text string) string {
	if !c.live {
		return text
	}
	return s.Render(text)
}

// println writes a line above the progress bar.
func (c *Console) println(line string) {
	if c.live {
		c.clearLine()
	}
	fmt.Fprintln(c.out, line)
	c.redraw()
}

func (c *Console) clearLine() {
	io.WriteString(c.out, "\r"+xansi.EraseEntireLine)
}

func (c *Console) redraw() {
	if !c.live {
		return
	}
	c.clearLine()
	io.WriteString(c.out, c.barLine())
}

func (c *Console) barLine() string {
	var b strings.Builder
	b.WriteString(c.bar.ViewAs(float64(c.percent) / 100))
	if c.status != "" {
		b.WriteString("  ")
		b.WriteString(c.status)
	}
	return b.String()
}
