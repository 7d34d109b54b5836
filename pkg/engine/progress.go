package engine

import (
	"fmt"
	"strings"
	"time"
)

// etaWindow is the number of recent completions the ETA looks at.
const etaWindow = 10

// etaMinCompleted is how many leaves must finish before an ETA is shown.
const etaMinCompleted = 10

// Progress tracks completed leaf tasks and estimates the remaining time.
type Progress struct {
	total     int
	completed int
	start     time.Time

	// ring of elapsed times at the most recent completions
	samples [etaWindow]time.Duration
	next    int
	n       int
}

func NewProgress(total int, start time.Time) *Progress {
	return &Progress{total: total, start: start}
}

// Complete records a leaf completion at now and returns the progress line.
func (p *Progress) Complete(now time.Time) string {
	p.completed++
	p.samples[p.next] = now.Sub(p.start)
	p.next = (p.next + 1) % etaWindow
	if p.n < etaWindow {
		p.n++
	}
	return p.Message(now)
}

func (p *Progress) Completed() int { return p.completed }
func (p *Progress) Total() int     { return p.total }

// Percent is the floor of the completed share. An empty run is complete.
func (p *Progress) Percent() int {
	if p.total <= 0 {
		return 100
	}
	return p.completed * 100 / p.total
}

// Average is the larger of the run-wide and the recent per-task duration.
func (p *Progress) Average(now time.Time) time.Duration {
	completed := max(1, p.completed)
	avgAll := now.Sub(p.start) / time.Duration(completed)
	return max(avgAll, p.recentAverage())
}

func (p *Progress) recentAverage() time.Duration {
	if p.n < 2 {
		return 0
	}
	newest := p.samples[(p.next-1+etaWindow)%etaWindow]
	oldest := p.samples[(p.next-p.n+etaWindow)%etaWindow]
	return (newest - oldest) / time.Duration(p.n)
}

// ETA estimates the remaining time. ok is false until more than ten leaves
// have completed, and once nothing remains.
func (p *Progress) ETA(now time.Time) (eta time.Duration, ok bool) {
	remaining := p.total - p.completed
	if p.completed <= etaMinCompleted || remaining <= 0 {
		return 0, false
	}
	return p.Average(now) * time.Duration(remaining), true
}

// Message renders "N% Completed", followed by the ETA when one is known.
func (p *Progress) Message(now time.Time) string {
	msg := fmt.Sprintf("%d%% Completed", p.Percent())
	if eta, ok := p.ETA(now); ok {
		msg += ". ETA: ~" + FormatETA(eta)
	}
	return msg
}

// FormatETA renders d as "H hours M minutes", dropping zero terms and
// truncating seconds. Durations under a minute read "less than one minute".
func FormatETA(d time.Duration) string {
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	if hours <= 0 && minutes <= 0 {
		return "less than one minute"
	}
	var parts []string
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
