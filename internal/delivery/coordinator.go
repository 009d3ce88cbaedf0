// Package delivery drives the lifecycle of every outbox entry: the send
// attempt, the pending/failed transitions, manual retry, and the flush
// that runs when connectivity comes back.
package delivery

import (
	"context"
	"errors"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatsync/internal/bus"
	"chatsync/internal/model"
	"chatsync/internal/netmon"
	"chatsync/internal/store"
	"chatsync/internal/sync"
	"chatsync/internal/transport"
)

var (
	// ErrInvalidMessage rejects an empty or malformed submission before
	// it reaches the outbox.
	ErrInvalidMessage = errors.New("delivery: invalid message")
	// ErrUnknownEntry means no outbox entry exists for the given id.
	ErrUnknownEntry = errors.New("delivery: unknown outbox entry")
	// ErrNotFailed means a retry was requested for an entry that is not
	// in the failed state.
	ErrNotFailed = errors.New("delivery: entry is not failed")
)

// writeTimeout bounds a single transport write attempt.
const writeTimeout = 30 * time.Second

// Failure is the payload of delivery.failed events.
type Failure struct {
	ChatID string
	MsgID  string
	Err    string
}

// Coordinator owns all outbox mutations. Attempts for the same chat are
// serialized through a per-chat lock; attempts for the same entry are
// collapsed through an in-flight guard, so a racing double attempt
// results in at most one confirmed write.
type Coordinator struct {
	db        *store.DB
	rec       *sync.Reconciler
	transport transport.Transport
	mon       *netmon.Monitor
	bus       *bus.Bus
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        stdsync.Mutex
	chatLocks map[string]*stdsync.Mutex
	inflight  map[string]bool
}

// NewCoordinator creates a coordinator over the given outbox store,
// reconciler, and transport.
func NewCoordinator(db *store.DB, rec *sync.Reconciler, t transport.Transport, mon *netmon.Monitor, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		db:        db,
		rec:       rec,
		transport: t,
		mon:       mon,
		bus:       b,
		logger:    logger,
		chatLocks: make(map[string]*stdsync.Mutex),
		inflight:  make(map[string]bool),
	}
}

// Start arms the coordinator. Attempts spawned afterwards are bounded by
// the given context.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight attempts. Entries they were carrying stay in the
// outbox and are flushed on the next start.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Submit validates and enqueues a locally-authored message, then attempts
// delivery in the background when connected. It never blocks on the
// network; when disconnected the entry simply stays pending for the
// reconnect flush.
func (c *Coordinator) Submit(chatID, text, senderID string) (*model.Message, error) {
	if chatID == "" || senderID == "" || strings.TrimSpace(text) == "" {
		return nil, ErrInvalidMessage
	}

	msg := &model.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
		Status:    model.StatusPending,
	}

	if err := c.db.QueueOutbox(msg); err != nil {
		return nil, err
	}
	c.bus.Emit(bus.KindOutboxChanged, chatID)

	if c.mon.Connected() {
		go c.attempt(msg.ID, chatID)
	}
	return msg, nil
}

// Retry re-attempts a failed entry on explicit user request.
func (c *Coordinator) Retry(msgID string) error {
	e, err := c.db.GetOutbox(msgID)
	if err != nil {
		return err
	}
	if e == nil {
		return ErrUnknownEntry
	}
	if e.Status != model.StatusFailed {
		return ErrNotFailed
	}

	if err := c.db.MarkOutboxPending(msgID); err != nil {
		return err
	}
	c.bus.Emit(bus.KindOutboxChanged, e.ChatID)

	go c.attempt(msgID, e.ChatID)
	return nil
}

// FlushAll re-attempts every outstanding entry in ascending timestamp
// order, oldest first, preserving each chat's send order. Failed entries
// are given another chance on reconnect.
func (c *Coordinator) FlushAll() {
	entries, err := c.db.AllOutbox()
	if err != nil {
		c.logger.Error("failed to read outbox for flush", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}
	c.logger.Info("flushing outbox", zap.Int("entries", len(entries)))

	for _, e := range entries {
		if e.Status == model.StatusFailed {
			if err := c.db.MarkOutboxPending(e.ID); err != nil {
				c.logger.Error("failed to reset entry", zap.Error(err), zap.String("msg_id", e.ID))
				continue
			}
			c.bus.Emit(bus.KindOutboxChanged, e.ChatID)
		}
		c.attempt(e.ID, e.ChatID)
	}
}

// attempt performs one delivery for the entry, serialized per chat. A
// concurrent attempt for the same id is a no-op, and the transport write
// is an upsert keyed by the message id, so reattempts cannot produce a
// duplicate confirmed message.
func (c *Coordinator) attempt(msgID, chatID string) {
	c.mu.Lock()
	if c.inflight[msgID] {
		c.mu.Unlock()
		return
	}
	c.inflight[msgID] = true
	lock := c.chatLocks[chatID]
	if lock == nil {
		lock = &stdsync.Mutex{}
		c.chatLocks[chatID] = lock
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, msgID)
		c.mu.Unlock()
	}()

	lock.Lock()
	defer lock.Unlock()

	e, err := c.db.GetOutbox(msgID)
	if err != nil {
		c.logger.Error("failed to load entry", zap.Error(err), zap.String("msg_id", msgID))
		return
	}
	if e == nil {
		// Already confirmed and removed by an earlier attempt.
		return
	}

	if c.rec.IsConfirmed(chatID, msgID) {
		// A snapshot already carries this message; the write would be a
		// no-op upsert. Just drop the outbox entry.
		if err := c.db.RemoveOutbox(msgID); err != nil {
			c.logger.Error("failed to remove confirmed entry", zap.Error(err), zap.String("msg_id", msgID))
			return
		}
		c.bus.Emit(bus.KindOutboxChanged, chatID)
		return
	}

	now := time.Now().UnixMilli()
	if err := c.db.RecordAttempt(msgID, now); err != nil {
		c.logger.Error("failed to record attempt", zap.Error(err), zap.String("msg_id", msgID))
	}

	record := e.Message
	record.Status = model.StatusSent

	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	err = c.transport.WriteAt(ctx, transport.MessagePath(e.ChatID, e.ID), &record)
	cancel()

	if err != nil {
		c.logger.Warn("delivery failed",
			zap.Error(err),
			zap.String("msg_id", msgID),
			zap.String("chat_id", e.ChatID),
			zap.Int("attempts", e.Attempts+1))
		if dbErr := c.db.MarkOutboxFailed(msgID, err.Error()); dbErr != nil {
			c.logger.Error("failed to mark entry failed", zap.Error(dbErr), zap.String("msg_id", msgID))
		}
		c.bus.Emit(bus.KindOutboxChanged, e.ChatID)
		c.bus.Emit(bus.KindDeliveryFailed, Failure{ChatID: e.ChatID, MsgID: msgID, Err: err.Error()})
		return
	}

	// Confirm into the merged view first, then drop the outbox entry:
	// the message is never absent between the two steps.
	c.rec.Confirm(e.ChatID, record)

	if err := c.db.RemoveOutbox(msgID); err != nil {
		c.logger.Error("failed to remove confirmed entry", zap.Error(err), zap.String("msg_id", msgID))
		return
	}

	c.logger.Info("message delivered", zap.String("msg_id", msgID), zap.String("chat_id", e.ChatID))
	c.bus.Emit(bus.KindOutboxChanged, e.ChatID)
	c.bus.Emit(bus.KindDeliverySent, record)
}
