package main

import (
	"strings"
	"testing"

	"github.com/relaypane/harness/internal/railview"
)

func TestRenderRailEmpty(t *testing.T) {
	got := renderRail(nil)
	if !strings.Contains(got, "no conversations") {
		t.Errorf("expected placeholder text, got %q", got)
	}
}

func TestRenderRailJoinsRowsWithNewlines(t *testing.T) {
	rows := []railview.Row{
		{Kind: railview.RowDirHeader, Text: "repo"},
		{Kind: railview.RowConversationTitle, Text: "fix bug", Active: true},
	}
	got := renderRail(rows)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), got)
	}
	if !strings.Contains(lines[1], "fix bug") {
		t.Errorf("active row text missing: %q", lines[1])
	}
}
