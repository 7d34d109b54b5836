// Package report renders end-of-run summaries, dry-run task trees and the
// connector list for the console.
package report

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/dumper/pkg/task"
)

// Palette adapts to the destination's color support via lipgloss.
var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
)

// styles is bound to one writer, so colors are dropped when it is not a
// terminal.
type styles struct {
	banner    lipgloss.Style
	title     lipgloss.Style
	succeeded lipgloss.Style
	failed    lipgloss.Style
	skipped   lipgloss.Style
	pending   lipgloss.Style
	dim       lipgloss.Style
	errorLine lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		banner:    r.NewStyle().Foreground(colorCyan),
		title:     r.NewStyle().Bold(true).Foreground(colorCyan),
		succeeded: r.NewStyle().Foreground(colorGreen),
		failed:    r.NewStyle().Foreground(colorRed).Bold(true),
		skipped:   r.NewStyle().Faint(true),
		pending:   r.NewStyle().Foreground(colorYellow),
		dim:       r.NewStyle().Foreground(colorDim),
		errorLine: r.NewStyle().Foreground(colorRed).Bold(true),
	}
}

func (s styles) state(st task.State) lipgloss.Style {
	switch st {
	case task.Succeeded:
		return s.succeeded
	case task.Failed:
		return s.failed
	case task.Skipped:
		return s.skipped
	default:
		return s.pending
	}
}
