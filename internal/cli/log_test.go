package cli

import (
	"testing"
	"time"

	"github.com/gzhole/agentgate/internal/audit"
)

func TestFilterEntries(t *testing.T) {
	entries := []audit.Entry{
		{Outcome: "block", Tool: "CommandExec", HostTool: "Bash"},
		{Outcome: "allow", Tool: "CommandExec", HostTool: "Bash"},
		{Outcome: "block", Tool: "FileRead", HostTool: "Read"},
		{Outcome: "abstain", Tool: "NetworkFetch", HostTool: "WebFetch"},
	}

	tests := []struct {
		name    string
		outcome string
		tool    string
		want    int
	}{
		{"no filter", "", "", 4},
		{"outcome", "block", "", 2},
		{"outcome case-insensitive", "BLOCK", "", 2},
		{"canonical tool", "", "CommandExec", 2},
		{"host tool", "", "Read", 1},
		{"both", "block", "FileRead", 1},
		{"no match", "allow", "FileRead", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filterEntries(entries, tt.outcome, tt.tool); len(got) != tt.want {
				t.Errorf("got %d entries, want %d", len(got), tt.want)
			}
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	want := ts.Local().Format("2006-01-02 15:04:05")
	if got := formatTimestamp(ts.Format(time.RFC3339Nano)); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := formatTimestamp("garbage"); got != "garbage" {
		t.Errorf("unparseable timestamps pass through, got %q", got)
	}
}
