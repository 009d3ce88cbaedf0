// Package sync merges remote-confirmed message state with the local
// outbox into a single duplicate-free, time-ordered view per chat.
package sync

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"chatsync/internal/bus"
	"chatsync/internal/model"
	"chatsync/internal/store"
)

// MatchWindowMillis is the timestamp tolerance of the de-duplication
// heuristic bridging a provisional outbox entry and a confirmed record
// that isn't keyed by the same id (same sender, same text, timestamps
// within the window).
const MatchWindowMillis = 5000

// Reconciler holds the last confirmed snapshot per chat and computes the
// merged view on demand. It keeps no incremental cache: chat volumes are
// small and a from-scratch recompute on every call cannot go stale.
type Reconciler struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu        sync.RWMutex
	confirmed map[string]map[string]model.Message // chatID -> msgID -> message
}

// NewReconciler creates a reconciler backed by the outbox store.
func NewReconciler(db *store.DB, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:        db,
		bus:       b,
		logger:    logger,
		confirmed: make(map[string]map[string]model.Message),
	}
}

// ApplySnapshot replaces a chat's confirmed set with the contents of a
// full-value snapshot from the transport. Messages must already be
// validated; the transport decode drops malformed records. An empty msgs
// is a valid snapshot (the "no data" degradation for read failures).
func (r *Reconciler) ApplySnapshot(chatID string, msgs []model.Message) {
	byID := make(map[string]model.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}

	r.mu.Lock()
	r.confirmed[chatID] = byID
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Emit(bus.KindViewChanged, chatID)
	}
}

// Confirm inserts a single message into the chat's confirmed set. The
// delivery coordinator calls this on write success, before the entry
// leaves the outbox, so the message is present in the merged view for
// the whole pending→sent transition even when no snapshot stream is
// open for the chat.
func (r *Reconciler) Confirm(chatID string, m model.Message) {
	r.mu.Lock()
	byID := r.confirmed[chatID]
	if byID == nil {
		byID = make(map[string]model.Message)
		r.confirmed[chatID] = byID
	}
	byID[m.ID] = m
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Emit(bus.KindViewChanged, chatID)
	}
}

// IsConfirmed reports whether the chat's confirmed set contains msgID.
func (r *Reconciler) IsConfirmed(chatID, msgID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.confirmed[chatID][msgID]
	return ok
}

// View returns the merged, ordered message list for a chat: confirmed
// messages plus every outbox entry not already represented — by id or by
// heuristic match — among them. Sorted by timestamp ascending, ties by id
// lexical order, so repeated calls over the same inputs are identical.
func (r *Reconciler) View(chatID string) ([]model.Message, error) {
	r.mu.RLock()
	confirmed := make([]model.Message, 0, len(r.confirmed[chatID]))
	byID := make(map[string]struct{}, len(r.confirmed[chatID]))
	for id, m := range r.confirmed[chatID] {
		confirmed = append(confirmed, m)
		byID[id] = struct{}{}
	}
	r.mu.RUnlock()

	entries, err := r.db.OutboxForChat(chatID)
	if err != nil {
		return nil, err
	}

	view := confirmed
	for _, e := range entries {
		if _, ok := byID[e.ID]; ok {
			continue
		}
		if matchesAny(&e.Message, confirmed) {
			continue
		}
		view = append(view, e.Message)
	}

	sort.Slice(view, func(i, j int) bool { return view[i].Less(&view[j]) })
	return view, nil
}

// matchesAny applies the de-duplication heuristic against the confirmed
// set: same sender and text, timestamps within the tolerance window.
func matchesAny(m *model.Message, confirmed []model.Message) bool {
	for i := range confirmed {
		c := &confirmed[i]
		if c.SenderID != m.SenderID || c.Text != m.Text {
			continue
		}
		delta := c.Timestamp - m.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if delta <= MatchWindowMillis {
			return true
		}
	}
	return false
}
