// Package railview builds the sidebar's row model from the gateway's
// current data. It performs no I/O: given the same inputs it always
// returns the same rows.
package railview

import "github.com/relaypane/harness/internal/sessionstore"

// RowKind names the shape of one rail row.
type RowKind string

const (
	RowDirHeader          RowKind = "dir-header"
	RowDirMeta            RowKind = "dir-meta"
	RowConversationTitle  RowKind = "conversation-title"
	RowConversationMeta   RowKind = "conversation-meta"
	RowProcessTitle       RowKind = "process-title"
	RowProcessMeta        RowKind = "process-meta"
	RowShortcutHeader     RowKind = "shortcut-header"
	RowShortcutBody       RowKind = "shortcut-body"
	RowAction             RowKind = "action"
	RowMuted              RowKind = "muted"
)

// Row is one immutable line of the rail.
type Row struct {
	Kind           RowKind
	Text           string
	Active         bool
	ConversationID string
	DirectoryKey   string
	ActionID       string
	Status         string
}

// UIFlags are view-only toggles that do not belong in persisted state.
type UIFlags struct {
	CollapsedDirectories map[string]bool
	ShowShortcuts        bool
}

// Ordering is a precomputed directory display order (by key); entries
// not present are appended afterward in arbitrary stable order.
type Ordering []string

// ActiveIDs names which conversation and/or directory currently has
// focus, for Row.Active.
type ActiveIDs struct {
	ConversationID string
	DirectoryKey   string
}

// Build is the pure rail/view-model constructor: repositories,
// directories, and conversations in, a flat sequence of typed rows out.
func Build(
	repositories []*sessionstore.Repository,
	directories []*sessionstore.Directory,
	conversations []*sessionstore.Conversation,
	ordering Ordering,
	active ActiveIDs,
	flags UIFlags,
) []Row {
	repoByID := make(map[string]*sessionstore.Repository, len(repositories))
	for _, r := range repositories {
		repoByID[r.ID] = r
	}

	convsByDir := make(map[string][]*sessionstore.Conversation)
	var unfiled []*sessionstore.Conversation
	for _, c := range conversations {
		if c.DirectoryID == nil {
			unfiled = append(unfiled, c)
			continue
		}
		convsByDir[*c.DirectoryID] = append(convsByDir[*c.DirectoryID], c)
	}

	dirByID := make(map[string]*sessionstore.Directory, len(directories))
	for _, d := range directories {
		dirByID[d.ID] = d
	}

	orderedIDs := orderDirectories(directories, ordering)

	var rows []Row
	for _, dirID := range orderedIDs {
		dir := dirByID[dirID]
		if dir == nil {
			continue
		}
		rows = append(rows, directoryRows(dir, repoByID[derefOr(dir.RepositoryID, "")], active, flags)...)
		if flags.CollapsedDirectories[dir.ID] {
			continue
		}
		rows = append(rows, conversationRows(convsByDir[dir.ID], active)...)
	}

	if len(unfiled) > 0 {
		rows = append(rows, Row{Kind: RowMuted, Text: "unfiled"})
		rows = append(rows, conversationRows(unfiled, active)...)
	}

	if flags.ShowShortcuts {
		rows = append(rows, Row{Kind: RowShortcutHeader, Text: "shortcuts"})
		rows = append(rows, Row{Kind: RowShortcutBody, Text: "n: new conversation", ActionID: "new-conversation"})
		rows = append(rows, Row{Kind: RowShortcutBody, Text: "x: archive", ActionID: "archive"})
	}

	return rows
}

func directoryRows(dir *sessionstore.Directory, repo *sessionstore.Repository, active ActiveIDs, flags UIFlags) []Row {
	row := Row{
		Kind:         RowDirHeader,
		Text:         dir.Path,
		Active:       active.DirectoryKey == dir.ID,
		DirectoryKey: dir.ID,
	}
	rows := []Row{row}
	if repo != nil {
		meta := repo.Name
		if repo.LastCommit != nil {
			meta = meta + " @ " + (*repo.LastCommit)[:min(7, len(*repo.LastCommit))]
		}
		rows = append(rows, Row{Kind: RowDirMeta, Text: meta, DirectoryKey: dir.ID})
	}
	return rows
}

func conversationRows(convs []*sessionstore.Conversation, active ActiveIDs) []Row {
	var rows []Row
	for _, c := range convs {
		title := c.Title
		if title == "" {
			title = c.AgentType
		}
		rows = append(rows, Row{
			Kind:           RowConversationTitle,
			Text:           title,
			Active:         active.ConversationID == c.ID,
			ConversationID: c.ID,
			Status:         c.Status,
		})
		rows = append(rows, Row{
			Kind:           RowConversationMeta,
			Text:           c.Status,
			ConversationID: c.ID,
			Status:         c.Status,
		})
	}
	return rows
}

// orderDirectories returns directory ids in ordering's order, with any
// directory ordering omits appended afterward in their given order.
func orderDirectories(directories []*sessionstore.Directory, ordering Ordering) []string {
	present := make(map[string]bool, len(directories))
	for _, d := range directories {
		present[d.ID] = true
	}

	seen := make(map[string]bool, len(ordering))
	out := make([]string, 0, len(directories))
	for _, id := range ordering {
		if present[id] && !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	for _, d := range directories {
		if !seen[d.ID] {
			out = append(out, d.ID)
			seen[d.ID] = true
		}
	}
	return out
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
