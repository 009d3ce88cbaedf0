// Package rtdbws implements the Transport contract against a realtime
// store reachable over WebSocket. Frames are small JSON envelopes: the
// client sends sub/unsub/set/get, the server answers with snap/ack/err.
package rtdbws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatsync/internal/transport"
)

type frame struct {
	Op    string          `json:"op"`
	Seq   int64           `json:"seq,omitempty"`
	Path  string          `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

const (
	opSub   = "sub"
	opUnsub = "unsub"
	opSet   = "set"
	opGet   = "get"
	opSnap  = "snap"
	opAck   = "ack"
	opErr   = "err"
)

// Client is a Transport backed by a WebSocket connection to the remote
// store. It reconnects with capped backoff and re-issues subscriptions
// after a reconnect; connection edges are reported through the state
// handler so the connectivity monitor can react.
type Client struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	seq     int64
	pending map[int64]chan frame
	subs    map[string][]chan transport.Snapshot
	onState func(connected bool)
	closed  bool
}

// Dial connects to the remote store. The initial dial is synchronous so
// the caller knows the starting connectivity state; when it fails the
// client starts disconnected and keeps reconnecting in the background,
// so an offline launch still yields a usable engine.
func Dial(ctx context.Context, url string, logger *zap.Logger) *Client {
	c := &Client{
		url:     url,
		logger:  logger,
		pending: make(map[int64]chan frame),
		subs:    make(map[string][]chan transport.Snapshot),
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		logger.Warn("initial dial failed, starting disconnected", zap.String("url", url), zap.Error(err))
		go c.reconnect()
		return c
	}
	c.conn = conn
	go c.readLoop(conn)
	return c
}

// SetStateHandler registers the callback invoked on every connect and
// disconnect edge. Must be called before the first drop to observe it.
func (c *Client) SetStateHandler(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// Connected reports whether a live connection exists. Used as the
// connectivity monitor's startup probe.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close tears the connection down and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// Subscribe registers for full-value snapshots at path.
func (c *Client) Subscribe(ctx context.Context, path string) (<-chan transport.Snapshot, error) {
	ch := make(chan transport.Snapshot, 16)

	c.mu.Lock()
	c.subs[path] = append(c.subs[path], ch)
	err := c.sendLocked(frame{Op: opSub, Path: path})
	c.mu.Unlock()
	if err != nil {
		c.dropSub(path, ch)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		c.dropSub(path, ch)
	}()

	return ch, nil
}

// WriteAt upserts value at the exact path and waits for the server ack.
func (c *Client) WriteAt(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	resp, err := c.request(ctx, frame{Op: opSet, Path: path, Value: data})
	if err != nil {
		return err
	}
	if resp.Op == opErr {
		return fmt.Errorf("write %s: %s", path, resp.Error)
	}
	return nil
}

// ReadOnce fetches the current value at path.
func (c *Client) ReadOnce(ctx context.Context, path string) (transport.Snapshot, error) {
	resp, err := c.request(ctx, frame{Op: opGet, Path: path})
	if err != nil {
		return transport.Snapshot{}, err
	}
	if resp.Op == opErr {
		return transport.Snapshot{}, fmt.Errorf("read %s: %s", path, resp.Error)
	}
	return transport.Snapshot{Path: path, Value: resp.Value}, nil
}

func (c *Client) request(ctx context.Context, f frame) (frame, error) {
	ch := make(chan frame, 1)

	c.mu.Lock()
	c.seq++
	f.Seq = c.seq
	c.pending[f.Seq] = ch
	err := c.sendLocked(f)
	c.mu.Unlock()
	if err != nil {
		c.clearPending(f.Seq)
		return frame{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.clearPending(f.Seq)
		return frame{}, ctx.Err()
	}
}

func (c *Client) sendLocked(f frame) error {
	if c.conn == nil {
		return transport.ErrDisconnected
	}
	return c.conn.WriteJSON(f)
}

func (c *Client) clearPending(seq int64) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func (c *Client) dropSub(path string, ch chan transport.Snapshot) {
	c.mu.Lock()
	chans := c.subs[path]
	for i, s := range chans {
		if s == ch {
			c.subs[path] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	remaining := len(c.subs[path])
	if remaining == 0 {
		delete(c.subs, path)
		_ = c.sendLocked(frame{Op: opUnsub, Path: path})
	}
	c.mu.Unlock()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.handleDrop(conn, err)
			return
		}

		switch f.Op {
		case opSnap:
			c.mu.Lock()
			chans := append([]chan transport.Snapshot(nil), c.subs[f.Path]...)
			c.mu.Unlock()
			snap := transport.Snapshot{Path: f.Path, Value: f.Value}
			for _, ch := range chans {
				select {
				case ch <- snap:
				default:
					// Slow consumer: the next snapshot supersedes
					// this one anyway.
				}
			}
		case opAck, opErr:
			c.mu.Lock()
			ch, ok := c.pending[f.Seq]
			delete(c.pending, f.Seq)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		}
	}
}

// handleDrop marks the connection down, fails in-flight requests, and
// starts the reconnect loop.
func (c *Client) handleDrop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	for seq, ch := range c.pending {
		ch <- frame{Op: opErr, Seq: seq, Error: transport.ErrDisconnected.Error()}
		delete(c.pending, seq)
	}
	onState := c.onState
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}
	c.logger.Warn("connection lost", zap.Error(cause))
	if onState != nil {
		onState(false)
	}
	go c.reconnect()
}

func (c *Client) reconnect() {
	backoff := time.Second
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.logger.Warn("reconnect failed", zap.Error(err), zap.Duration("backoff", backoff))
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		paths := make([]string, 0, len(c.subs))
		for p := range c.subs {
			paths = append(paths, p)
		}
		for _, p := range paths {
			_ = c.sendLocked(frame{Op: opSub, Path: p})
		}
		onState := c.onState
		c.mu.Unlock()

		go c.readLoop(conn)
		c.logger.Info("reconnected", zap.Int("resubscribed", len(paths)))
		if onState != nil {
			onState(true)
		}
		return
	}
}
