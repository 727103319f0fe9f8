package utils

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"
)

func TestDurationUS(t *testing.T) {
	d := 1234*time.Microsecond + 567*time.Nanosecond
	got := DurationUS(d)
	if math.Abs(got-1234.567) > 0.001 {
		t.Fatalf("want 1234.567µs, got %.3f", got)
	}
}

func TestPrintTimingStatsRespectsVerbose(t *testing.T) {
	var buf bytes.Buffer
	oldOut, oldVerbose := Output, Verbose
	defer func() { Output, Verbose = oldOut, oldVerbose }()
	Output = &buf

	stats := &TimingStats{
		TotalTime:    100 * time.Millisecond,
		AblationTime: 25 * time.Millisecond,
		VotingTime:   50 * time.Millisecond,
	}

	Verbose = false
	PrintTimingStats(stats, 10)
	if buf.Len() != 0 {
		t.Fatalf("expected no output with Verbose=false, got %q", buf.String())
	}

	Verbose = true
	PrintTimingStats(stats, 10)
	out := buf.String()
	if !strings.Contains(out, "TIMING STATISTICS") {
		t.Errorf("missing header in output: %q", out)
	}
	if !strings.Contains(out, "Ablation:") || !strings.Contains(out, "Vote accumulation:") {
		t.Errorf("missing phase lines in output: %q", out)
	}
}
