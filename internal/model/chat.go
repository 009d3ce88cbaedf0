package model

// ChatKind distinguishes direct conversations from shared rooms.
type ChatKind string

const (
	KindPrivate ChatKind = "private"
	KindGlobal  ChatKind = "global"
)

// NoMessagesPreview is the preview shown for a chat with an empty view.
const NoMessagesPreview = "No messages yet"

// ChatSummary is the derived per-chat rollup consumed by the UI layer.
// It is never authored directly; every field is recomputed from the
// merged view, the outbox, and the read state.
type ChatSummary struct {
	ChatID        string   `json:"chatId"`
	ContactName   string   `json:"contactName"`
	LastMessage   string   `json:"lastMessage"`
	LastMessageAt int64    `json:"lastMessageAt"`
	UnreadCount   int      `json:"unreadCount"`
	PendingCount  int      `json:"pendingCount"`
	Kind          ChatKind `json:"kind"`
}
