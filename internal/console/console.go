// Package console prints coloured, serialized status lines for operators.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Status selects the colour and visibility of a line.
type Status int

const (
	StatusInfo Status = iota
	StatusSuccess
	StatusWarning
	StatusError
)

// Options configures a Console.
type Options struct {
	Verbose bool
	Quiet   bool
	NoColor bool
	// Now overrides the clock used for timestamps.
	Now func() time.Time
}

// Console writes one line at a time; concurrent callers never interleave.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	quiet   bool
	noColor bool
	now     func() time.Time

	styles map[Status]lipgloss.Style
	banner lipgloss.Style
	header lipgloss.Style
}

// New creates a Console writing to out.
func New(out io.Writer, opts Options) *Console {
	renderer := lipgloss.NewRenderer(out)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Console{
		out:     out,
		verbose: opts.Verbose,
		quiet:   opts.Quiet,
		noColor: opts.NoColor,
		now:     now,
		styles: map[Status]lipgloss.Style{
			StatusInfo:    renderer.NewStyle().Foreground(lipgloss.Color("12")),
			StatusSuccess: renderer.NewStyle().Foreground(lipgloss.Color("10")),
			StatusWarning: renderer.NewStyle().Foreground(lipgloss.Color("11")),
			StatusError:   renderer.NewStyle().Foreground(lipgloss.Color("9")),
		},
		banner: renderer.NewStyle().Foreground(lipgloss.Color("14")).Bold(true),
		header: renderer.NewStyle().
			Foreground(lipgloss.Color("14")).
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("14")).
			Padding(0, 11),
	}
}

// SetMode changes verbosity; it applies to subsequent lines.
func (c *Console) SetMode(verbose, quiet bool) {
	c.mu.Lock()
	c.verbose = verbose
	c.quiet = quiet
	c.mu.Unlock()
}

// Account prints a per-account line. Index is 0-based; it is shown 1-based.
func (c *Console) Account(index int, status Status, message string) {
	c.line(status, fmt.Sprintf("account %d: %s", index+1, message))
}

// Detail prints a per-account line only in verbose mode.
func (c *Console) Detail(index int, message string) {
	c.mu.Lock()
	verbose := c.verbose
	c.mu.Unlock()
	if !verbose {
		return
	}
	c.Account(index, StatusInfo, message)
}

// Status prints a line that is not tied to an account.
func (c *Console) Status(status Status, message string) {
	c.line(status, message)
}

// Banner prints a highlighted line surrounded by blank lines. Banners ignore quiet mode.
func (c *Console) Banner(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text := fmt.Sprintf("[%s] %s", c.timestamp(), message)
	fmt.Fprintf(c.out, "\n%s\n\n", c.render(c.banner, text))
}

// Header prints the boxed startup title.
func (c *Console) Header(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noColor {
		fmt.Fprintf(c.out, "\n=== %s ===\n\n", title)
		return
	}
	fmt.Fprintf(c.out, "\n%s\n\n", c.header.Render(title))
}

func (c *Console) line(status Status, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.visible(status) {
		return
	}
	text := fmt.Sprintf("[%s] %s", c.timestamp(), strings.TrimRight(message, "\n"))
	fmt.Fprintln(c.out, c.render(c.styles[status], text))
}

// visible must be called with mu held.
func (c *Console) visible(status Status) bool {
	switch status {
	case StatusWarning, StatusError:
		return true
	case StatusSuccess:
		return !c.quiet
	default:
		return c.verbose && !c.quiet
	}
}

func (c *Console) render(style lipgloss.Style, text string) string {
	if c.noColor {
		return text
	}
	return style.Render(text)
}

func (c *Console) timestamp() string {
	return c.now().Format("2006-01-02 15:04:05")
}
