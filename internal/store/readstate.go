package store

import (
	"database/sql"
	"time"
)

// SetLastRead records the mark-as-read watermark for a chat.
func (db *DB) SetLastRead(chatID string, at int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO read_state (chat_id, last_read_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			last_read_at = excluded.last_read_at,
			updated_at = excluded.updated_at`,
		chatID, at, now)
	return err
}

// LastRead returns the read watermark for a chat, 0 if never marked.
func (db *DB) LastRead(chatID string) (int64, error) {
	var at int64
	err := db.QueryRow(`SELECT last_read_at FROM read_state WHERE chat_id = ?`, chatID).Scan(&at)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return at, nil
}
