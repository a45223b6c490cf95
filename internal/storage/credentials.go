package storage

import (
	"database/sql"
	"fmt"
)

// InsertCredential stores a new credential. The provider UNIQUE constraint
// rejects a second row for the same provider; callers that want upsert
// semantics go through UpdateCredential on conflict.
func (s *Store) InsertCredential(c Credential) error {
	_, err := s.db.Exec(`
		INSERT INTO credentials (id, provider, secret, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Provider, c.Secret, boolToInt(c.Active), toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	)
	return err
}

// UpdateCredential overwrites the secret and active flag of an existing row.
func (s *Store) UpdateCredential(c Credential) error {
	res, err := s.db.Exec(`
		UPDATE credentials SET secret = ?, active = ?, updated_at = ? WHERE id = ?`,
		c.Secret, boolToInt(c.Active), toMillis(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCredential retrieves a credential by ID.
func (s *Store) GetCredential(id string) (Credential, error) {
	return s.scanCredential(s.db.QueryRow(`
		SELECT id, provider, secret, active, created_at, updated_at
		FROM credentials WHERE id = ?`, id))
}

// GetCredentialByProvider retrieves the credential for a provider, active or not.
func (s *Store) GetCredentialByProvider(provider string) (Credential, error) {
	return s.scanCredential(s.db.QueryRow(`
		SELECT id, provider, secret, active, created_at, updated_at
		FROM credentials WHERE provider = ?`, provider))
}

// ListCredentials returns all credentials ordered by creation time.
func (s *Store) ListCredentials() ([]Credential, error) {
	rows, err := s.db.Query(`
		SELECT id, provider, secret, active, created_at, updated_at
		FROM credentials ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Credential
	for rows.Next() {
		var c Credential
		var active int
		var createdAt, updatedAt int64
		if err := rows.Scan(&c.ID, &c.Provider, &c.Secret, &active, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.Active = active != 0
		c.CreatedAt = fromMillis(createdAt)
		c.UpdatedAt = fromMillis(updatedAt)
		results = append(results, c)
	}
	return results, rows.Err()
}

// DeleteCredential removes a credential by ID.
func (s *Store) DeleteCredential(id string) error {
	res, err := s.db.Exec(`DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scanCredential(row *sql.Row) (Credential, error) {
	var c Credential
	var active int
	var createdAt, updatedAt int64
	err := row.Scan(&c.ID, &c.Provider, &c.Secret, &active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("scanning credential: %w", err)
	}
	c.Active = active != 0
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
