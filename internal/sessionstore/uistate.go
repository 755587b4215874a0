package sessionstore

import (
	"database/sql"
	"fmt"
)

// UIState is the mux client's persisted layout for one session: which
// pane has focus, divider positions keyed by pane-pair id, and which
// panes are collapsed. Both JSON blobs are opaque to the store; the
// mux client owns their shape.
type UIState struct {
	SessionID     string
	ActivePane    *string
	DividersJSON  string
	CollapsedJSON string
}

func (s *Store) SaveUIState(u *UIState) error {
	dividers := u.DividersJSON
	if dividers == "" {
		dividers = "{}"
	}
	collapsed := u.CollapsedJSON
	if collapsed == "" {
		collapsed = "[]"
	}
	_, err := s.db.Exec(`INSERT INTO mux_ui_state (session_id, active_pane, dividers_json, collapsed_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET active_pane = excluded.active_pane,
			dividers_json = excluded.dividers_json, collapsed_json = excluded.collapsed_json`,
		u.SessionID, nullableString(u.ActivePane), dividers, collapsed)
	if err != nil {
		return fmt.Errorf("save ui state: %w", err)
	}
	return nil
}

func (s *Store) GetUIState(sessionID string) (*UIState, error) {
	u := &UIState{SessionID: sessionID}
	err := s.db.QueryRow(`SELECT active_pane, dividers_json, collapsed_json FROM mux_ui_state WHERE session_id = ?`, sessionID).
		Scan(&u.ActivePane, &u.DividersJSON, &u.CollapsedJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ui state: %w", err)
	}
	return u, nil
}

func (s *Store) DeleteUIState(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM mux_ui_state WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete ui state: %w", err)
	}
	return nil
}
