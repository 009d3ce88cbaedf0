package model

// Status describes where a message sits in its delivery lifecycle.
type Status string

const (
	// StatusPending means the message is queued locally and not yet
	// accepted by the remote store.
	StatusPending Status = "pending"
	// StatusSent means the remote store accepted the write and echoed
	// the message back on the chat's snapshot stream.
	StatusSent Status = "sent"
	// StatusFailed means the last write attempt failed; the entry stays
	// in the outbox until retried.
	StatusFailed Status = "failed"
)

// Message is the canonical message record exchanged with the remote store
// and held in the local outbox. IDs are client-generated (UUID) and remain
// authoritative: the remote write is keyed by the same id, so a confirmed
// message carries the id it was submitted with.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // epoch millis, client-stamped at creation
	Status    Status `json:"status"`
}

// Valid reports whether a record decoded from the transport is usable.
// Malformed records are dropped at the boundary instead of propagating
// empty fields into the merged view.
func (m *Message) Valid() bool {
	return m.ID != "" && m.ChatID != "" && m.SenderID != "" && m.Text != "" && m.Timestamp > 0
}

// Less orders messages by timestamp ascending, ties broken by id lexical
// order so repeated sorts of the same inputs are deterministic.
func (m *Message) Less(other *Message) bool {
	if m.Timestamp != other.Timestamp {
		return m.Timestamp < other.Timestamp
	}
	return m.ID < other.ID
}

// OutboxEntry is a locally-authored message awaiting confirmation, plus
// retry metadata. Owned by the store; the delivery coordinator is the
// only writer.
type OutboxEntry struct {
	Message
	Attempts      int
	LastAttemptAt int64
	ErrorMessage  string
}
