package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/relaypane/harness/internal/railview"
)

var (
	railDirStyle    = lipgloss.NewStyle().Bold(true)
	railMetaStyle   = lipgloss.NewStyle().Faint(true)
	railActiveStyle = lipgloss.NewStyle().Reverse(true)
	railMutedStyle  = lipgloss.NewStyle().Faint(true).Italic(true)
)

// renderRail turns the gateway's rail rows into the sidebar's text.
// Full ANSI rendering of the PTY panes themselves is out of scope; the
// rail listing is plain, styled lines.
func renderRail(rows []railview.Row) string {
	if len(rows) == 0 {
		return railMutedStyle.Render("no conversations")
	}
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderRailRow(row))
	}
	return b.String()
}

func renderRailRow(row railview.Row) string {
	text := row.Text
	switch row.Kind {
	case railview.RowDirHeader:
		text = railDirStyle.Render(text)
	case railview.RowDirMeta, railview.RowConversationMeta:
		text = railMetaStyle.Render("  " + text)
	case railview.RowConversationTitle:
		text = "  " + text
	case railview.RowMuted, railview.RowShortcutHeader:
		text = railMutedStyle.Render(text)
	case railview.RowShortcutBody:
		text = railMetaStyle.Render("  " + text)
	case railview.RowAction:
		text = "  > " + text
	}
	if row.Active {
		return railActiveStyle.Render(text)
	}
	return text
}
