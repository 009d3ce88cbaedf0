package store

import (
	"database/sql"
	"time"

	"chatsync/internal/model"
)

// QueueOutbox inserts a locally-authored message into the outbox with
// pending status. The msg_id unique constraint makes a double enqueue of
// the same client id an error rather than a silent duplicate.
func (db *DB) QueueOutbox(m *model.Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (msg_id, chat_id, sender_id, body, status, timestamp, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, ?)`,
		m.ID, m.ChatID, m.SenderID, m.Text, m.Timestamp, now, now)
	return err
}

// RemoveOutbox deletes an entry once the remote store has confirmed it.
func (db *DB) RemoveOutbox(msgID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE msg_id = ?`, msgID)
	return err
}

// MarkOutboxFailed records a failed delivery attempt.
func (db *DB) MarkOutboxFailed(msgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE msg_id = ?`,
		errMsg, now, msgID)
	return err
}

// MarkOutboxPending moves a failed entry back to pending ahead of a retry.
func (db *DB) MarkOutboxPending(msgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'pending', error_message = '', updated_at = ? WHERE msg_id = ?`,
		now, msgID)
	return err
}

// RecordAttempt bumps the attempt counter and stamps the attempt time.
func (db *DB) RecordAttempt(msgID string, at int64) error {
	_, err := db.Exec(`UPDATE outbox SET attempts = attempts + 1, last_attempt_at = ?, updated_at = ? WHERE msg_id = ?`,
		at, time.Now().UnixMilli(), msgID)
	return err
}

// GetOutbox returns a single entry by client message id, or nil if absent.
func (db *DB) GetOutbox(msgID string) (*model.OutboxEntry, error) {
	row := db.QueryRow(`
		SELECT msg_id, chat_id, sender_id, body, status, attempts, last_attempt_at, error_message, timestamp
		FROM outbox WHERE msg_id = ?`, msgID)
	e, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// OutboxForChat returns a chat's entries in ascending timestamp order.
func (db *DB) OutboxForChat(chatID string) ([]model.OutboxEntry, error) {
	return db.queryOutbox(`
		SELECT msg_id, chat_id, sender_id, body, status, attempts, last_attempt_at, error_message, timestamp
		FROM outbox WHERE chat_id = ? ORDER BY timestamp ASC, msg_id ASC`, chatID)
}

// AllOutbox returns every entry across chats in ascending timestamp order.
// The reconnect flush relies on this ordering to preserve send order.
func (db *DB) AllOutbox() ([]model.OutboxEntry, error) {
	return db.queryOutbox(`
		SELECT msg_id, chat_id, sender_id, body, status, attempts, last_attempt_at, error_message, timestamp
		FROM outbox ORDER BY timestamp ASC, msg_id ASC`)
}

func (db *DB) queryOutbox(query string, args ...any) ([]model.OutboxEntry, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []model.OutboxEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanEntry(scan func(...any) error) (*model.OutboxEntry, error) {
	var e model.OutboxEntry
	var status string
	if err := scan(&e.ID, &e.ChatID, &e.SenderID, &e.Text, &status,
		&e.Attempts, &e.LastAttemptAt, &e.ErrorMessage, &e.Timestamp); err != nil {
		return nil, err
	}
	e.Status = model.Status(status)
	return &e, nil
}
