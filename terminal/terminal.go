// Package terminal renders message segments and artifacts as ANSI-styled
// terminal output using lipgloss.
//
// Prose is printed as-is (wrapped to width) after escape sequences are
// stripped. Shell snippets are printed
// inline so they can be copied; every other code block is collapsed to a
// numbered placeholder that can be opened as an artifact.
package terminal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fwojciec/trickle"
)

// Renderer maps a Theme to lipgloss styles.
type Renderer struct {
	user     lipgloss.Style
	errStyle lipgloss.Style
	success  lipgloss.Style
	muted    lipgloss.Style
	accent   lipgloss.Style
}

// New creates a Renderer for theme.
func New(theme trickle.Theme) *Renderer {
	return &Renderer{
		user:     lipgloss.NewStyle().Foreground(ansiColor(theme.UserMsg)).Bold(true),
		errStyle: lipgloss.NewStyle().Foreground(ansiColor(theme.Error)),
		success:  lipgloss.NewStyle().Foreground(ansiColor(theme.Success)),
		muted:    lipgloss.NewStyle().Foreground(ansiColor(theme.Muted)).Faint(true),
		accent:   lipgloss.NewStyle().Foreground(ansiColor(theme.Accent)).Bold(true),
	}
}

func ansiColor(index int) lipgloss.TerminalColor {
	if index < 0 {
		return lipgloss.NoColor{}
	}
	return lipgloss.Color(strconv.Itoa(index))
}

// Segments renders segments in order. A width of 0 disables wrapping.
// Promotable code blocks are numbered from 1 in order of appearance,
// matching [Promotables].
func (r *Renderer) Segments(segs []trickle.Segment, width int) string {
	var b strings.Builder
	n := 0
	for i, seg := range segs {
		if i > 0 && seg.Kind == trickle.SegmentCode {
			ensureNewline(&b)
		}
		switch {
		case seg.Kind == trickle.SegmentText:
			b.WriteString(r.wrap(Sanitize(seg.Content), width))
		case seg.CopyOnly():
			b.WriteString(r.accent.Render(Sanitize(seg.Language)))
			b.WriteString(" " + r.muted.Render("[copy]") + "\n")
			b.WriteString(r.gutter(Sanitize(seg.Content)))
		default:
			n++
			b.WriteString(r.accent.Render(Sanitize(seg.Language)))
			b.WriteString(" " + r.muted.Render(fmt.Sprintf("[open %d]", n)) + "\n")
			b.WriteString(r.muted.Render(fmt.Sprintf("│ %d lines, run :open %d to view", lineCount(seg.Content), n)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Index renders one line per promotable code block, numbered like the
// placeholders of Segments. It returns "" when there are none.
func (r *Renderer) Index(segs []trickle.Segment) string {
	var b strings.Builder
	for i, seg := range Promotables(segs) {
		b.WriteString(r.muted.Render(fmt.Sprintf("[open %d]", i+1)))
		b.WriteString(" " + r.accent.Render(Sanitize(seg.Language)))
		b.WriteString(" " + r.muted.Render(fmt.Sprintf("%d lines", lineCount(seg.Content))) + "\n")
	}
	return b.String()
}

// Artifact renders an artifact with a title line and its full source.
func (r *Renderer) Artifact(a trickle.Artifact) string {
	var b strings.Builder
	b.WriteString(r.accent.Render(Sanitize(a.Title)))
	b.WriteString(" " + r.muted.Render(strings.ToUpper(Sanitize(a.Language))))
	if a.Previewable() {
		b.WriteString(" " + r.muted.Render("(previewable)"))
	}
	b.WriteString("\n")
	b.WriteString(r.gutter(Sanitize(a.Content)))
	return b.String()
}

// Prompt renders the label shown before user input.
func (r *Renderer) Prompt(label string) string {
	return r.user.Render(label)
}

// Error renders a user-visible failure.
func (r *Renderer) Error(err error) string {
	return r.errStyle.Render("error: " + err.Error())
}

// Status renders a muted status line, e.g. after cancellation.
func (r *Renderer) Status(text string) string {
	return r.muted.Render(text)
}

// Done renders a success marker.
func (r *Renderer) Done(text string) string {
	return r.success.Render(text)
}

// Promotables returns the promotable code segments in order of appearance.
// Index i of the result corresponds to placeholder number i+1.
func Promotables(segs []trickle.Segment) []trickle.Segment {
	var out []trickle.Segment
	for _, s := range segs {
		if s.Promotable() {
			out = append(out, s)
		}
	}
	return out
}

func (r *Renderer) wrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	return lipgloss.NewStyle().Width(width).Render(text)
}

func (r *Renderer) gutter(code string) string {
	var b strings.Builder
	bar := r.muted.Render("│") + " "
	for _, line := range strings.Split(code, "\n") {
		b.WriteString(bar + line + "\n")
	}
	return b.String()
}

func ensureNewline(b *strings.Builder) {
	if s := b.String(); s != "" && !strings.HasSuffix(s, "\n") {
		b.WriteString("\n")
	}
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
