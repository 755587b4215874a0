package sessionstore

import (
	"database/sql"
	"fmt"
	"time"
)

// Repository is the version-control metadata the rail surfaces for a
// directory; populated by the (out-of-scope) VCS host integration and
// consumed here only as data.
type Repository struct {
	ID           string
	Name         string
	RemoteURL    *string
	LastCommit   *string
	LastCommitAt *time.Time
}

func (s *Store) UpsertRepository(r *Repository) error {
	var lastCommitAt *string
	if r.LastCommitAt != nil {
		f := r.LastCommitAt.UTC().Format(timeFmt)
		lastCommitAt = &f
	}
	_, err := s.db.Exec(`INSERT INTO repositories (id, name, remote_url, last_commit, last_commit_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, remote_url = excluded.remote_url,
			last_commit = excluded.last_commit, last_commit_at = excluded.last_commit_at`,
		r.ID, r.Name, nullableString(r.RemoteURL), nullableString(r.LastCommit), nullableString(lastCommitAt))
	if err != nil {
		return fmt.Errorf("upsert repository: %w", err)
	}
	return nil
}

func (s *Store) GetRepository(id string) (*Repository, error) {
	r := &Repository{}
	var lastCommitAt *string
	err := s.db.QueryRow(`SELECT id, name, remote_url, last_commit, last_commit_at FROM repositories WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.RemoteURL, &r.LastCommit, &lastCommitAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	r.LastCommitAt = parseTimePtr(lastCommitAt)
	return r, nil
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(timeFmt, *s)
	if err != nil {
		return nil
	}
	return &t
}
