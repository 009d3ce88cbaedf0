package store

import (
	"database/sql"
	"time"
)

// UpsertContact caches a display name resolved from the remote store.
func (db *DB) UpsertContact(id, name string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (id, name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at`,
		id, name, now)
	return err
}

// ContactName returns the cached display name for a user id, "" if unknown.
func (db *DB) ContactName(id string) (string, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM contacts WHERE id = ?`, id).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return name, nil
}
