package sessionstore

import (
	"database/sql"
	"fmt"
)

// Directory maps a workspace-relative working directory to an optional
// repository.
type Directory struct {
	ID           string
	Path         string
	RepositoryID *string
}

func (s *Store) UpsertDirectory(d *Directory) error {
	_, err := s.db.Exec(`INSERT INTO directories (id, path, repository_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET path = excluded.path, repository_id = excluded.repository_id`,
		d.ID, d.Path, nullableString(d.RepositoryID))
	if err != nil {
		return fmt.Errorf("upsert directory: %w", err)
	}
	return nil
}

func (s *Store) GetDirectory(id string) (*Directory, error) {
	d := &Directory{}
	err := s.db.QueryRow(`SELECT id, path, repository_id FROM directories WHERE id = ?`, id).
		Scan(&d.ID, &d.Path, &d.RepositoryID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get directory: %w", err)
	}
	return d, nil
}

func (s *Store) ListDirectories() ([]*Directory, error) {
	rows, err := s.db.Query(`SELECT id, path, repository_id FROM directories ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list directories: %w", err)
	}
	defer rows.Close()

	var out []*Directory
	for rows.Next() {
		d := &Directory{}
		if err := rows.Scan(&d.ID, &d.Path, &d.RepositoryID); err != nil {
			return nil, fmt.Errorf("scan directory: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
