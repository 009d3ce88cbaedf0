package gateway

// Command is a client-to-engine request frame.
type Command struct {
	Op        string `json:"op"` // submit, retry, mark_read, watch, view, summaries
	ChatID    string `json:"chatId,omitempty"`
	Text      string `json:"text,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
	MsgID     string `json:"msgId,omitempty"`
	Kind      string `json:"kind,omitempty"`
	ContactID string `json:"contactId,omitempty"`
}

// Reply answers a command.
type Reply struct {
	Op      string `json:"op"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// EventFrame pushes an engine event to connected clients.
type EventFrame struct {
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}
