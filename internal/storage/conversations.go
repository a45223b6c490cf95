package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertConversation stores a new conversation at the head of the list.
// Head insertion is implemented by giving it a position smaller than every
// existing row; ListConversations orders by position ascending.
func (s *Store) InsertConversation(c Conversation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	var minPos sql.NullInt64
	if err := tx.QueryRow(`SELECT MIN(position) FROM conversations`).Scan(&minPos); err != nil {
		return fmt.Errorf("reading head position: %w", err)
	}
	pos := int64(0)
	if minPos.Valid {
		pos = minPos.Int64 - 1
	}

	if _, err := tx.Exec(`
		INSERT INTO conversations (id, title, model, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Model, pos, toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	); err != nil {
		return err
	}

	return tx.Commit()
}

// GetConversation retrieves a conversation with its full message history.
func (s *Store) GetConversation(id string) (Conversation, error) {
	var c Conversation
	var createdAt, updatedAt int64
	err := s.db.QueryRow(`
		SELECT id, title, model, created_at, updated_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &c.Model, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)

	c.Messages, err = s.loadMessages(id)
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// ListConversations returns all conversations, most recent first, each with
// its full message history.
func (s *Store) ListConversations() ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, title, model, created_at, updated_at
		FROM conversations ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		var c Conversation
		var createdAt, updatedAt int64
		if err := rows.Scan(&c.ID, &c.Title, &c.Model, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = fromMillis(createdAt)
		c.UpdatedAt = fromMillis(updatedAt)
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		msgs, err := s.loadMessages(results[i].ID)
		if err != nil {
			return nil, err
		}
		results[i].Messages = msgs
	}
	return results, nil
}

// CountConversations returns the number of stored conversations.
func (s *Store) CountConversations() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}

// RenameConversation sets a conversation's title and bumps updated_at.
func (s *Store) RenameConversation(id, title string, updatedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, toMillis(updatedAt), id,
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

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id)
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
	return tx.Commit()
}

// DeleteAllConversations empties the conversation set.
func (s *Store) DeleteAllConversations() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning clear transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendMessage adds a message to the end of a conversation's history and
// bumps the conversation's updated_at. Returns ErrNotFound for an unknown
// conversation.
func (s *Store) AppendMessage(conversationID string, m Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("counting messages: %w", err)
	}

	res, err := tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		toMillis(m.Timestamp), conversationID)
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

	if _, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, model, timestamp, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, conversationID, m.Role, m.Content, m.Model, toMillis(m.Timestamp), seq,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// CountMessages returns the number of messages in a conversation.
func (s *Store) CountMessages(conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}

func (s *Store) loadMessages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, role, content, model, timestamp
		FROM messages WHERE conversation_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Model, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = fromMillis(ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
