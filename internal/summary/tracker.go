// Package summary derives the per-chat rollups the UI renders: last
// message preview, unread count, and pending count.
package summary

import (
	"context"
	"sort"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"chatsync/internal/bus"
	"chatsync/internal/model"
	"chatsync/internal/store"
	"chatsync/internal/sync"
	"chatsync/internal/transport"
)

// nameLookupTimeout bounds the one-shot contact name read.
const nameLookupTimeout = 2 * time.Second

type chatInfo struct {
	kind model.ChatKind
	name string
}

// Tracker recomputes chat summaries from the reconciler's merged view,
// the outbox, and the durable read state. Summaries are derived, never
// authored: every change flows through a recompute.
type Tracker struct {
	db        *store.DB
	rec       *sync.Reconciler
	transport transport.Transport
	bus       *bus.Bus
	logger    *zap.Logger
	userID    string

	mu    stdsync.RWMutex
	chats map[string]chatInfo
}

// NewTracker creates a tracker for the given local user.
func NewTracker(db *store.DB, rec *sync.Reconciler, t transport.Transport, b *bus.Bus, logger *zap.Logger, userID string) *Tracker {
	return &Tracker{
		db:        db,
		rec:       rec,
		transport: t,
		bus:       b,
		logger:    logger,
		userID:    userID,
		chats:     make(map[string]chatInfo),
	}
}

// Track registers a chat and resolves its display name. For private chats
// contactID is the other participant; the name is fetched with a one-shot
// read and cached durably, degrading to the cached copy and finally the
// chat id when the read fails.
func (t *Tracker) Track(ctx context.Context, chatID string, kind model.ChatKind, contactID string) {
	name := t.resolveName(ctx, chatID, contactID)

	t.mu.Lock()
	t.chats[chatID] = chatInfo{kind: kind, name: name}
	t.mu.Unlock()

	t.OnViewChanged(chatID)
}

func (t *Tracker) resolveName(ctx context.Context, chatID, contactID string) string {
	if contactID == "" {
		return chatID
	}

	// Track runs on the engine loop; an unresponsive transport must not
	// stall it, so the lookup is bounded and degrades to the cache.
	ctx, cancel := context.WithTimeout(ctx, nameLookupTimeout)
	defer cancel()

	snap, err := t.transport.ReadOnce(ctx, transport.UserNamePath(contactID))
	if err == nil {
		if name := transport.DecodeString(snap); name != "" {
			if err := t.db.UpsertContact(contactID, name); err != nil {
				t.logger.Warn("failed to cache contact name", zap.Error(err), zap.String("contact_id", contactID))
			}
			return name
		}
	} else {
		t.logger.Warn("contact name lookup failed", zap.Error(err), zap.String("contact_id", contactID))
	}

	cached, err := t.db.ContactName(contactID)
	if err != nil || cached == "" {
		return chatID
	}
	return cached
}

// OnViewChanged recomputes a tracked chat's summary and publishes it.
func (t *Tracker) OnViewChanged(chatID string) {
	t.mu.RLock()
	_, tracked := t.chats[chatID]
	t.mu.RUnlock()
	if !tracked {
		return
	}

	s, err := t.Summary(chatID)
	if err != nil {
		t.logger.Error("failed to recompute summary", zap.Error(err), zap.String("chat_id", chatID))
		return
	}
	t.bus.Emit(bus.KindSummaryChanged, s)
}

// MarkRead moves the chat's read watermark to now. Unread drops to zero
// for everything up to this instant; the pending count is untouched.
func (t *Tracker) MarkRead(chatID string) error {
	if err := t.db.SetLastRead(chatID, time.Now().UnixMilli()); err != nil {
		return err
	}
	t.OnViewChanged(chatID)
	return nil
}

// Summary computes the current rollup for a chat.
func (t *Tracker) Summary(chatID string) (model.ChatSummary, error) {
	t.mu.RLock()
	info := t.chats[chatID]
	t.mu.RUnlock()

	s := model.ChatSummary{
		ChatID:      chatID,
		ContactName: info.name,
		Kind:        info.kind,
		LastMessage: model.NoMessagesPreview,
	}
	if s.ContactName == "" {
		s.ContactName = chatID
	}
	if s.Kind == "" {
		s.Kind = model.KindPrivate
	}

	view, err := t.rec.View(chatID)
	if err != nil {
		return model.ChatSummary{}, err
	}
	if len(view) > 0 {
		last := view[len(view)-1]
		s.LastMessage = last.Text
		s.LastMessageAt = last.Timestamp
	}

	lastRead, err := t.db.LastRead(chatID)
	if err != nil {
		return model.ChatSummary{}, err
	}
	for _, m := range view {
		if m.SenderID != t.userID && m.Timestamp > lastRead {
			s.UnreadCount++
		}
	}

	entries, err := t.db.OutboxForChat(chatID)
	if err != nil {
		return model.ChatSummary{}, err
	}
	s.PendingCount = len(entries)

	return s, nil
}

// Summaries returns every tracked chat's rollup, most recent activity
// first.
func (t *Tracker) Summaries() ([]model.ChatSummary, error) {
	t.mu.RLock()
	chatIDs := make([]string, 0, len(t.chats))
	for id := range t.chats {
		chatIDs = append(chatIDs, id)
	}
	t.mu.RUnlock()

	out := make([]model.ChatSummary, 0, len(chatIDs))
	for _, id := range chatIDs {
		s, err := t.Summary(id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].ChatID < out[j].ChatID
	})
	return out, nil
}
