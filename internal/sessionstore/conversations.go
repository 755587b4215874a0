package sessionstore

import (
	"database/sql"
	"fmt"
	"time"
)

// Status values for Conversation.Status.
const (
	StatusStarting   = "starting"
	StatusRunning    = "running"
	StatusNeedsInput = "needs-input"
	StatusCompleted  = "completed"
	StatusExited     = "exited"
)

// Conversation is a single AI-coding session row.
type Conversation struct {
	ID              string
	DirectoryID     *string
	Title           string
	AgentType       string
	Status          string
	StartedAt       time.Time
	LastEventAt     time.Time
	AttentionReason *string
	Archived        bool
}

// ErrInvalidLastEventAt is returned when LastEventAt would precede
// StartedAt or, in SetStatus, the row's current LastEventAt.
var ErrInvalidLastEventAt = fmt.Errorf("sessionstore: lastEventAt must be >= startedAt")

func (s *Store) CreateConversation(c *Conversation) error {
	if c.LastEventAt.Before(c.StartedAt) {
		return ErrInvalidLastEventAt
	}
	if c.Status == "" {
		c.Status = StatusStarting
	}
	if c.DirectoryID != nil {
		dir, err := s.GetDirectory(*c.DirectoryID)
		if err != nil {
			return err
		}
		if dir == nil {
			return fmt.Errorf("sessionstore: directory %q not found", *c.DirectoryID)
		}
	}
	_, err := s.db.Exec(`INSERT INTO conversations
		(id, directory_id, title, agent_type, status, started_at, last_event_at, attention_reason, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		c.ID, nullableString(c.DirectoryID), c.Title, c.AgentType, c.Status,
		c.StartedAt.UTC().Format(timeFmt), c.LastEventAt.UTC().Format(timeFmt), nullableString(c.AttentionReason))
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(id string) (*Conversation, error) {
	c := &Conversation{}
	var startedAt, lastEventAt string
	var archived int
	err := s.db.QueryRow(`SELECT id, directory_id, title, agent_type, status, started_at, last_event_at, attention_reason, archived
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.DirectoryID, &c.Title, &c.AgentType, &c.Status, &startedAt, &lastEventAt, &c.AttentionReason, &archived)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	c.StartedAt, _ = time.Parse(timeFmt, startedAt)
	c.LastEventAt, _ = time.Parse(timeFmt, lastEventAt)
	c.Archived = archived != 0
	return c, nil
}

// SetStatus updates status/lastEventAt/attentionReason for id. lastEventAt
// must be monotonically non-decreasing: it may precede neither the row's
// startedAt nor its current lastEventAt.
func (s *Store) SetStatus(id, status string, lastEventAt time.Time, attentionReason *string) error {
	c, err := s.GetConversation(id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("sessionstore: conversation %q not found", id)
	}
	if lastEventAt.Before(c.StartedAt) || lastEventAt.Before(c.LastEventAt) {
		return ErrInvalidLastEventAt
	}
	_, err = s.db.Exec(`UPDATE conversations SET status = ?, last_event_at = ?, attention_reason = ? WHERE id = ?`,
		status, lastEventAt.UTC().Format(timeFmt), nullableString(attentionReason), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

func (s *Store) SetTitle(id, title string) error {
	_, err := s.db.Exec(`UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

func (s *Store) Archive(id string) error {
	_, err := s.db.Exec(`UPDATE conversations SET archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	return nil
}

// ListConversations returns every non-archived conversation, newest
// started first.
func (s *Store) ListConversations() ([]*Conversation, error) {
	rows, err := s.db.Query(`SELECT id, directory_id, title, agent_type, status, started_at, last_event_at, attention_reason, archived
		FROM conversations WHERE archived = 0 ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c := &Conversation{}
		var startedAt, lastEventAt string
		var archived int
		if err := rows.Scan(&c.ID, &c.DirectoryID, &c.Title, &c.AgentType, &c.Status, &startedAt, &lastEventAt, &c.AttentionReason, &archived); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.StartedAt, _ = time.Parse(timeFmt, startedAt)
		c.LastEventAt, _ = time.Parse(timeFmt, lastEventAt)
		c.Archived = archived != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// LiveSessionCount counts conversations not in a terminal status.
func (s *Store) LiveSessionCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations
		WHERE archived = 0 AND status NOT IN (?, ?)`, StatusCompleted, StatusExited).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("live session count: %w", err)
	}
	return n, nil
}
