package engine

import (
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

func TestFormatETA(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "less than one minute"},
		{59 * time.Second, "less than one minute"},
		{time.Minute, "1 minute"},
		{2*time.Minute + 30*time.Second, "2 minutes"},
		{time.Hour, "1 hour"},
		{time.Hour + time.Minute, "1 hour 1 minute"},
		{2*time.Hour + 5*time.Minute, "2 hours 5 minutes"},
		{3*time.Hour + 59*time.Second, "3 hours"},
		{-time.Minute, "less than one minute"},
	}
	for _, tt := range tests {
		if got := FormatETA(tt.d); got != tt.want {
			t.Errorf("FormatETA(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestProgress_ETAGate(t *testing.T) {
	p := NewProgress(20, t0)
	for i := 1; i <= 10; i++ {
		msg := p.Complete(at(time.Duration(i) * time.Minute))
		if _, ok := p.ETA(at(time.Duration(i) * time.Minute)); ok {
			t.Fatalf("ETA shown after %d completions: %s", i, msg)
		}
	}
	// Window now holds 2m..11m: recent average 54s, run-wide 1m.
	msg := p.Complete(at(11 * time.Minute))
	if want := "55% Completed. ETA: ~9 minutes"; msg != want {
		t.Errorf("message = %q, want %q", msg, want)
	}
}

func TestProgress_NoETAWhenDone(t *testing.T) {
	p := NewProgress(11, t0)
	var msg string
	for i := 1; i <= 11; i++ {
		msg = p.Complete(at(time.Duration(i) * time.Hour))
	}
	if msg != "100% Completed" {
		t.Errorf("message = %q", msg)
	}
}

func TestProgress_RecentSlowdownDominates(t *testing.T) {
	p := NewProgress(100, t0)
	for i := 1; i <= 20; i++ {
		p.Complete(at(time.Duration(i) * time.Second))
	}
	if got := p.Average(at(20 * time.Second)); got != time.Second {
		t.Errorf("steady average = %v, want 1s", got)
	}
	var now time.Time
	for k := 1; k <= 5; k++ {
		now = at(20*time.Second + time.Duration(k)*time.Minute)
		p.Complete(now)
	}
	// run-wide 320s/25 = 12.8s; window 16s..320s gives 30.4s
	if got := p.Average(now); got != 30400*time.Millisecond {
		t.Errorf("average = %v, want 30.4s", got)
	}
	eta, ok := p.ETA(now)
	if !ok || eta != 38*time.Minute {
		t.Errorf("ETA = %v, %v; want 38m", eta, ok)
	}
	if got := p.Message(now); got != "25% Completed. ETA: ~38 minutes" {
		t.Errorf("message = %q", got)
	}
}

func TestProgress_Percent(t *testing.T) {
	if got := NewProgress(0, t0).Percent(); got != 100 {
		t.Errorf("empty run percent = %d", got)
	}
	p := NewProgress(3, t0)
	p.Complete(at(time.Second))
	if got := p.Percent(); got != 33 {
		t.Errorf("percent = %d, want 33 (floored)", got)
	}
}

func TestProgress_SingleSampleUsesRunAverage(t *testing.T) {
	p := NewProgress(5, t0)
	p.Complete(at(10 * time.Second))
	if got := p.recentAverage(); got != 0 {
		t.Errorf("recent average with one sample = %v", got)
	}
	if got := p.Average(at(10 * time.Second)); got != 10*time.Second {
		t.Errorf("average = %v", got)
	}
}
