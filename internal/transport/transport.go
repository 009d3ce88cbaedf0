// Package transport defines the abstract remote-store contract the engine
// synchronizes against: a subscribe-to-path primitive yielding full-value
// snapshots, an idempotent write keyed by exact path, and a one-shot read.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sort"

	"chatsync/internal/model"
)

// ErrPushUnavailable is returned by Subscribe when the remote store cannot
// push updates. The engine then degrades to periodic ReadOnce polling of
// the same path.
var ErrPushUnavailable = errors.New("transport: push updates unavailable")

// ErrDisconnected is returned by operations attempted without a live
// connection to the remote store.
var ErrDisconnected = errors.New("transport: disconnected")

// Snapshot is the complete current value at a path. The remote store emits
// no diffs: every change re-delivers the whole value, and consumers
// recompute from scratch.
type Snapshot struct {
	Path  string
	Value json.RawMessage
}

// Transport is the remote-store collaborator. Implementations must make
// WriteAt an upsert at the exact path so that re-attempting a write for
// the same message id never creates a duplicate.
type Transport interface {
	// Subscribe emits the full value at path on every change, starting
	// with the current value. The stream closes when ctx is cancelled.
	Subscribe(ctx context.Context, path string) (<-chan Snapshot, error)
	// WriteAt upserts value at the exact path.
	WriteAt(ctx context.Context, path string, value any) error
	// ReadOnce fetches the current value at path.
	ReadOnce(ctx context.Context, path string) (Snapshot, error)
}

// MessagesPath is the subscription path for a chat's message collection.
func MessagesPath(chatID string) string {
	return path.Join("messages", chatID)
}

// MessagePath is the write path for a single message, keyed by client id.
func MessagePath(chatID, msgID string) string {
	return path.Join("messages", chatID, msgID)
}

// UserNamePath is the read path for a user's display name.
func UserNamePath(userID string) string {
	return path.Join("users", userID, "name")
}

// DecodeMessages decodes a chat snapshot (a map of message id to record)
// into validated messages sorted by timestamp, ties by id. Records that
// fail validation are skipped; the count of skipped records is returned
// so the caller can log the drop. A value that cannot be decoded at all
// counts as one dropped record.
func DecodeMessages(snap Snapshot) ([]model.Message, int) {
	if len(snap.Value) == 0 {
		return nil, 0
	}
	var raw map[string]model.Message
	if err := json.Unmarshal(snap.Value, &raw); err != nil {
		// The whole value is unusable; count it as one dropped record
		// so the caller logs the degradation instead of treating the
		// snapshot as empty.
		return nil, 1
	}

	dropped := 0
	msgs := make([]model.Message, 0, len(raw))
	for id, m := range raw {
		if m.ID == "" {
			m.ID = id
		}
		m.Status = model.StatusSent
		if !m.Valid() {
			dropped++
			continue
		}
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Less(&msgs[j]) })
	return msgs, dropped
}

// DecodeString decodes a snapshot holding a bare JSON string, e.g. a
// display name. Returns "" for empty or malformed values.
func DecodeString(snap Snapshot) string {
	var s string
	if err := json.Unmarshal(snap.Value, &s); err != nil {
		return ""
	}
	return s
}
