// Package engine owns the sync engine's lifecycle. It replaces the
// ambient listener globals of a typical client with one explicit instance
// holding per-chat subscription handles, started and stopped as a unit.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"chatsync/internal/bus"
	"chatsync/internal/delivery"
	"chatsync/internal/model"
	"chatsync/internal/netmon"
	"chatsync/internal/summary"
	"chatsync/internal/sync"
	"chatsync/internal/transport"
)

// DefaultPollInterval is the re-read cadence of the degraded polling
// fallback used when the transport cannot push.
const DefaultPollInterval = 30 * time.Second

type watch struct {
	cancel    context.CancelFunc
	kind      model.ChatKind
	contactID string
	active    bool
}

// Engine wires the coordinator, reconciler, summary tracker, and
// connectivity monitor together and drives them from a single event
// loop. That loop is the serialization point: snapshot application,
// outbox change fan-out, and the reconnect flush all run on it, so a
// connectivity edge triggers exactly one flush.
type Engine struct {
	transport transport.Transport
	mon       *netmon.Monitor
	bus       *bus.Bus
	rec       *sync.Reconciler
	coord     *delivery.Coordinator
	tracker   *summary.Tracker
	logger    *zap.Logger

	pollInterval time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	watches map[string]*watch
	ops     chan func()
}

// New creates an engine over the given collaborators.
func New(t transport.Transport, mon *netmon.Monitor, b *bus.Bus, rec *sync.Reconciler,
	coord *delivery.Coordinator, tracker *summary.Tracker, logger *zap.Logger) *Engine {
	return &Engine{
		transport:    t,
		mon:          mon,
		bus:          b,
		rec:          rec,
		coord:        coord,
		tracker:      tracker,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		watches:      make(map[string]*watch),
		ops:          make(chan func(), 64),
	}
}

// SetPollInterval overrides the polling fallback cadence. Must be called
// before Start.
func (e *Engine) SetPollInterval(d time.Duration) {
	if d > 0 {
		e.pollInterval = d
	}
}

// Start resolves the initial connectivity state with one synchronous
// probe, arms the coordinator, flushes any outbox entries that survived
// a restart, and starts the event loop.
func (e *Engine) Start(ctx context.Context, probe func() bool) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mon.Resolve(probe)
	e.coord.Start(e.ctx)

	events, unsub := e.bus.Subscribe("", 256)
	go func() {
		defer unsub()
		e.loop(events)
	}()

	if e.mon.Connected() {
		e.ops <- e.coord.FlushAll
	}
	e.logger.Info("engine started", zap.Bool("connected", e.mon.Connected()))
}

// Stop cancels every chat subscription and in-flight delivery attempt.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.coord.Stop()
	e.logger.Info("engine stopped")
}

// Watch subscribes to a chat's message stream and registers it with the
// summary tracker. Watching an already-watched chat is a no-op.
func (e *Engine) Watch(chatID string, kind model.ChatKind, contactID string) {
	done := make(chan struct{})
	e.ops <- func() {
		defer close(done)
		if _, ok := e.watches[chatID]; ok {
			return
		}
		w := &watch{kind: kind, contactID: contactID}
		e.watches[chatID] = w
		e.tracker.Track(e.ctx, chatID, kind, contactID)
		e.startWatch(chatID, w)
	}
	<-done
}

// Unwatch cancels a chat's subscription handle.
func (e *Engine) Unwatch(chatID string) {
	e.ops <- func() {
		if w, ok := e.watches[chatID]; ok {
			if w.cancel != nil {
				w.cancel()
			}
			delete(e.watches, chatID)
		}
	}
}

// Submit hands a locally-authored message to the delivery coordinator.
func (e *Engine) Submit(chatID, text, senderID string) (*model.Message, error) {
	return e.coord.Submit(chatID, text, senderID)
}

// Retry re-attempts a failed outbox entry.
func (e *Engine) Retry(msgID string) error {
	return e.coord.Retry(msgID)
}

// MarkRead moves a chat's read watermark to now.
func (e *Engine) MarkRead(chatID string) error {
	return e.tracker.MarkRead(chatID)
}

// View returns the merged message list for a chat.
func (e *Engine) View(chatID string) ([]model.Message, error) {
	return e.rec.View(chatID)
}

// Summary returns the rollup for one chat.
func (e *Engine) Summary(chatID string) (model.ChatSummary, error) {
	return e.tracker.Summary(chatID)
}

// Summaries returns every watched chat's rollup, most recent first.
func (e *Engine) Summaries() ([]model.ChatSummary, error) {
	return e.tracker.Summaries()
}

// loop is the engine's single event loop. Everything that mutates watch
// state or reacts to bus events runs here.
func (e *Engine) loop(events <-chan bus.Event) {
	for {
		select {
		case op := <-e.ops:
			op()
		case evt := <-events:
			e.handleEvent(evt)
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindNetConnected:
		// One flush per false->true edge, plus repair of any chat
		// subscription that broke while offline.
		e.coord.FlushAll()
		for chatID, w := range e.watches {
			if !w.active {
				e.startWatch(chatID, w)
			}
		}
	case bus.KindOutboxChanged:
		chatID, ok := evt.Payload.(string)
		if !ok {
			return
		}
		// An outbox mutation changes the merged view even though no
		// snapshot arrived.
		e.bus.Emit(bus.KindViewChanged, chatID)
	case bus.KindViewChanged:
		chatID, ok := evt.Payload.(string)
		if !ok {
			return
		}
		e.tracker.OnViewChanged(chatID)
	}
}

// startWatch opens the chat's snapshot stream, degrading to periodic
// one-shot reads when the transport cannot push. Runs on the event loop.
func (e *Engine) startWatch(chatID string, w *watch) {
	ctx, cancel := context.WithCancel(e.ctx)
	w.cancel = cancel

	path := transport.MessagesPath(chatID)
	ch, err := e.transport.Subscribe(ctx, path)
	if errors.Is(err, transport.ErrPushUnavailable) {
		w.active = true
		e.logger.Warn("push unavailable, polling", zap.String("chat_id", chatID), zap.Duration("interval", e.pollInterval))
		go e.pollLoop(ctx, chatID, path)
		return
	}
	if err != nil {
		// Degrade to "no data": the view falls back to local pending
		// entries until connectivity returns and the watch is repaired.
		e.logger.Warn("subscribe failed", zap.Error(err), zap.String("chat_id", chatID))
		w.active = false
		e.rec.ApplySnapshot(chatID, nil)
		return
	}

	w.active = true
	go func() {
		for snap := range ch {
			e.applySnapshot(chatID, snap)
		}
		e.ops <- func() {
			if cur, ok := e.watches[chatID]; ok && cur == w {
				w.active = false
			}
		}
	}()
}

func (e *Engine) pollLoop(ctx context.Context, chatID, path string) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		snap, err := e.transport.ReadOnce(ctx, path)
		if err != nil {
			e.logger.Warn("poll read failed", zap.Error(err), zap.String("chat_id", chatID))
		} else {
			e.applySnapshot(chatID, snap)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) applySnapshot(chatID string, snap transport.Snapshot) {
	msgs, dropped := transport.DecodeMessages(snap)
	if dropped > 0 {
		e.logger.Warn("dropped malformed records", zap.Int("count", dropped), zap.String("chat_id", chatID))
	}
	e.rec.ApplySnapshot(chatID, msgs)
}
