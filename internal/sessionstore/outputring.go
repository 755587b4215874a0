package sessionstore

import (
	"fmt"
)

// AppendOutputChunk persists one chunk of PTY output for sessionID at
// sequence seq. Callers are expected to have already trimmed the chunk
// to a safe escape-sequence boundary before it reaches the store.
func (s *Store) AppendOutputChunk(sessionID string, seq int64, data []byte) error {
	_, err := s.db.Exec(`INSERT INTO output_ring (session_id, seq, data) VALUES (?, ?, ?)
		ON CONFLICT(session_id, seq) DO UPDATE SET data = excluded.data`,
		sessionID, seq, data)
	if err != nil {
		return fmt.Errorf("append output chunk: %w", err)
	}
	return nil
}

// TrimOutputBefore deletes every persisted chunk for sessionID with a
// sequence number below keepFromSeq, mirroring the in-memory ring's
// cursor-based eviction so the on-disk tail stays bounded.
func (s *Store) TrimOutputBefore(sessionID string, keepFromSeq int64) error {
	_, err := s.db.Exec(`DELETE FROM output_ring WHERE session_id = ? AND seq < ?`, sessionID, keepFromSeq)
	if err != nil {
		return fmt.Errorf("trim output: %w", err)
	}
	return nil
}

// Tail returns the newest limit chunks for sessionID (fewer if fewer are
// retained), in ascending sequence order. Used to answer a
// reattaching client's pty.tail request.
func (s *Store) Tail(sessionID string, limit int) ([][]byte, error) {
	rows, err := s.db.Query(`SELECT data FROM output_ring WHERE session_id = ?
		ORDER BY seq DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("tail output: %w", err)
	}
	defer rows.Close()

	var reversed [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan output chunk: %w", err)
		}
		reversed = append(reversed, data)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([][]byte, len(reversed))
	for i, chunk := range reversed {
		out[len(reversed)-1-i] = chunk
	}
	return out, nil
}

// DeleteOutput removes every persisted chunk for sessionID, called once
// a conversation is garbage collected.
func (s *Store) DeleteOutput(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM output_ring WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete output: %w", err)
	}
	return nil
}
