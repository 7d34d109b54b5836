package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/dumper/pkg/connector"
	"github.com/ormasoftchile/dumper/pkg/task"
)

// TreeMarkdown renders the task tree as a markdown list, groups indented.
func TreeMarkdown(title, output string, tasks []task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Dry run: %s\n\n", title)
	if output != "" {
		fmt.Fprintf(&b, "Output: `%s`\n\n", output)
	}
	task.Walk(tasks, func(t task.Task, depth int) {
		b.WriteString(strings.Repeat("  ", depth) + "- **" + t.Name() + "**")
		if t.Category() == task.Optional {
			b.WriteString(" _optional_")
		}
		if p := t.OutputPath(); p != "" {
			b.WriteString(" → `" + p + "`")
		}
		if n := len(t.Conditions()); n > 0 {
			fmt.Fprintf(&b, " (%d %s)", n, plural(n, "condition"))
		}
		if s := t.String(); s != t.Name() {
			b.WriteString(": " + s)
		}
		b.WriteString("\n")
	})
	leaves := task.CountLeaves(tasks)
	fmt.Fprintf(&b, "\n%d %s to run.\n", leaves, plural(leaves, "task"))
	return b.String()
}

// DryRun writes the task tree. With pretty set the markdown is rendered for
// the terminal; rendering problems fall back to the raw markdown.
func DryRun(w io.Writer, title, output string, tasks []task.Task, pretty bool) error {
	md := TreeMarkdown(title, output, tasks)
	if pretty {
		md = renderMarkdown(md)
	}
	_, err := io.WriteString(w, md)
	return err
}

func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// Connectors lists the available connectors with aligned descriptions.
func Connectors(w io.Writer, cs []connector.Connector) error {
	s := newStyles(w)
	width := 0
	for _, c := range cs {
		width = max(width, runewidth.StringWidth(c.Name()))
	}
	var b strings.Builder
	for _, c := range cs {
		fmt.Fprintf(&b, "%s%s  %s\n", s.title.Render(c.Name()), pad(c.Name(), width), c.Description())
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func plural(n int, noun string) string {
	if n == 1 {
		return noun
	}
	return noun + "s"
}
