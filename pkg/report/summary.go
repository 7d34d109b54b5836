package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ormasoftchile/dumper/pkg/engine"
	"github.com/ormasoftchile/dumper/pkg/task"
)

const rule = "**********************************************************"

// Summary writes the end-of-run report: every recorded task with its state,
// category and error, the counts line, and where the output went.
func Summary(w io.Writer, res *engine.RunResult, output string) error {
	s := newStyles(w)
	var b strings.Builder

	b.WriteString(s.banner.Render(rule) + "\n")
	b.WriteString(s.title.Render("* Task Summary:") + "\n")

	stateWidth, catWidth, nameWidth := 0, 0, 0
	for _, sum := range res.Summaries {
		stateWidth = max(stateWidth, runewidth.StringWidth(sum.State.String()))
		catWidth = max(catWidth, runewidth.StringWidth(sum.Category.String()))
		nameWidth = max(nameWidth, runewidth.StringWidth(sum.Name))
	}
	for _, sum := range res.Summaries {
		state := s.state(sum.State).Render(sum.State.String()) + pad(sum.State.String(), stateWidth)
		name := sum.Name
		if detail := summaryDetail(sum); detail != "" {
			name += pad(sum.Name, nameWidth) + "  " + s.dim.Render(detail)
		}
		fmt.Fprintf(&b, "* %s (%s) %s\n", state, runewidth.FillRight(sum.Category.String(), catWidth), name)
	}

	b.WriteString("* " + CountsLine(res.Counts) + "\n")
	b.WriteString(s.dim.Render("* Took "+res.Duration.Round(time.Millisecond).String()) + "\n")
	b.WriteString(s.banner.Render(rule) + "\n")

	if res.Error != nil {
		b.WriteString(s.errorLine.Render("* ABORTED: "+res.Error.Error()) + "\n")
	}
	if output != "" {
		b.WriteString("* Output has been saved to " + output + "\n")
		b.WriteString(s.banner.Render(rule) + "\n")
	}
	if res.FailedRequired > 0 {
		b.WriteString(s.errorLine.Render(fmt.Sprintf("* ERROR: %s failed.", requiredFailed(res.FailedRequired))) + "\n")
		if output != "" {
			b.WriteString("* Output, including debugging information, has been saved to " + output + "\n")
		}
		b.WriteString(s.banner.Render(rule) + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func summaryDetail(sum engine.Summary) string {
	switch {
	case sum.Err != "":
		return sum.Err
	case sum.Reason != "":
		return "(" + sum.Reason + ")"
	}
	return ""
}

// CountsLine renders leaf counts per terminal state, e.g.
// "Succeeded: 5, Failed: 1, Skipped: 2".
func CountsLine(counts []engine.StateCount) string {
	if len(counts) == 0 {
		return "No tasks ran."
	}
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s: %d", stateLabel(c.State), c.Count))
	}
	return strings.Join(parts, ", ")
}

// stateLabel turns NOT_STARTED into "Not Started".
func stateLabel(st task.State) string {
	return cases.Title(language.English).String(strings.ReplaceAll(st.String(), "_", " "))
}

// pad returns the spaces that widen s to width columns.
func pad(s string, width int) string {
	return strings.Repeat(" ", max(0, width-runewidth.StringWidth(s)))
}

func requiredFailed(n int) string {
	if n == 1 {
		return "1 required task"
	}
	return fmt.Sprintf("%d required tasks", n)
}
