package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/honganh1206/streamchat/conversation"
	"github.com/honganh1206/streamchat/db"
	"github.com/honganh1206/streamchat/utils"
)

//go:embed schema.sql
var schemaSQL string

type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := db.OpenDB(db.DefaultConfig(dsn), schemaSQL)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: conn}, nil
}

// Save rewrites every message of the conversation in one transaction.
func (s *SQLiteStore) Save(id string, msgs []conversation.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	query := `
	INSERT OR IGNORE INTO conversations (id, created_at)
	VALUES(?, ?);
	`

	if _, err = tx.Exec(query, id, time.Now().UTC()); err != nil {
		tx.Rollback()
		return err
	}

	query = `
	DELETE FROM messages WHERE conversation_id = ?;
	`

	if _, err = tx.Exec(query, id); err != nil {
		tx.Rollback()
		return err
	}

	query = `
	INSERT INTO messages (conversation_id, sequence_number, payload, created_at)
	VALUES (?, ?, ?, ?);
	`

	stmt, err := tx.Prepare(query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err = stmt.Exec(id, i, string(payload), msg.CreatedAt); err != nil {
			tx.Rollback()
			return err
		}
	}

	query = `
	INSERT INTO settings (key, value) VALUES ('active', ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value;
	`

	if _, err = tx.Exec(query, id); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) Load(id string) ([]conversation.Message, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conversation.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation '%s': %w", id, err)
	}

	query := `
		SELECT payload FROM messages
		WHERE conversation_id = ?
		ORDER BY sequence_number ASC
	`

	rows, err := s.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for conversation '%s': %w", id, err)
	}
	defer rows.Close()

	msgs := make([]conversation.Message, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan message for conversation '%s': %w", id, err)
		}
		var msg conversation.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message for conversation '%s': %w", id, err)
		}
		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}

func (s *SQLiteStore) ActiveID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = 'active'`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *SQLiteStore) List() ([]Metadata, error) {
	query := `
		SELECT
			c.id,
			c.created_at,
			COUNT(m.id) as message_count,
			COALESCE(MAX(m.created_at), c.created_at) as latest_message_at
		FROM
			conversations c
		LEFT JOIN
			messages m ON c.id = m.conversation_id
		GROUP BY
			c.id
		ORDER BY
			latest_message_at DESC;
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var list []Metadata
	for rows.Next() {
		var (
			meta      Metadata
			createdAt string
			latest    string
		)
		if err := rows.Scan(&meta.ID, &createdAt, &meta.MessageCount, &latest); err != nil {
			return nil, fmt.Errorf("failed to scan conversation metadata: %w", err)
		}
		if meta.CreatedAt, err = utils.ParseTimeWithFallback(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse conversation created_at: %w", err)
		}
		if meta.LatestMessageTime, err = utils.ParseTimeWithFallback(latest); err != nil {
			return nil, fmt.Errorf("failed to parse latest message time: %w", err)
		}
		list = append(list, meta)
	}

	return list, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
