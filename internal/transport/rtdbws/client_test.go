package rtdbws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatsync/internal/transport"
)

// fakeServer speaks the frame protocol: acks every set/get and replays
// the stored value as a snap to subscribers of the written path.
type fakeServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu     sync.Mutex
	values map[string]json.RawMessage
	subs   map[*websocket.Conn][]string
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	fs := &fakeServer{
		t:      t,
		values: make(map[string]json.RawMessage),
		subs:   make(map[*websocket.Conn][]string),
	}
	srv := httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(srv.Close)
	return fs, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Op {
		case opSub:
			fs.mu.Lock()
			fs.subs[conn] = append(fs.subs[conn], f.Path)
			val := fs.values[f.Path]
			fs.mu.Unlock()
			if val != nil {
				_ = conn.WriteJSON(frame{Op: opSnap, Path: f.Path, Value: val})
			}
		case opSet:
			fs.mu.Lock()
			fs.values[f.Path] = f.Value
			subscribed := false
			for _, p := range fs.subs[conn] {
				if p == f.Path {
					subscribed = true
				}
			}
			fs.mu.Unlock()
			_ = conn.WriteJSON(frame{Op: opAck, Seq: f.Seq})
			if subscribed {
				_ = conn.WriteJSON(frame{Op: opSnap, Path: f.Path, Value: f.Value})
			}
		case opGet:
			fs.mu.Lock()
			val := fs.values[f.Path]
			fs.mu.Unlock()
			_ = conn.WriteJSON(frame{Op: opAck, Seq: f.Seq, Value: val})
		}
	}
}

func TestWriteThenReadOnce(t *testing.T) {
	_, srv := newFakeServer(t)

	c := Dial(context.Background(), wsURL(srv), zap.NewNop())
	defer func() { _ = c.Close() }()
	require.True(t, c.Connected())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, c.WriteAt(ctx, "users/u1/name", "Alice"))

	snap, err := c.ReadOnce(ctx, "users/u1/name")
	require.NoError(t, err)
	assert.Equal(t, "users/u1/name", snap.Path)

	var name string
	require.NoError(t, json.Unmarshal(snap.Value, &name))
	assert.Equal(t, "Alice", name)
}

func TestSubscribeReceivesPush(t *testing.T) {
	_, srv := newFakeServer(t)

	c := Dial(context.Background(), wsURL(srv), zap.NewNop())
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ch, err := c.Subscribe(ctx, "messages/global")
	require.NoError(t, err)

	require.NoError(t, c.WriteAt(ctx, "messages/global", map[string]string{"m1": "hi"}))

	select {
	case snap := <-ch:
		assert.Equal(t, "messages/global", snap.Path)
		var got map[string]string
		require.NoError(t, json.Unmarshal(snap.Value, &got))
		assert.Equal(t, "hi", got["m1"])
	case <-time.After(3 * time.Second):
		t.Fatal("no snapshot pushed")
	}
}

func TestOfflineDialStartsDisconnected(t *testing.T) {
	c := Dial(context.Background(), "ws://127.0.0.1:1/ws", zap.NewNop())
	defer func() { _ = c.Close() }()

	assert.False(t, c.Connected())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := c.WriteAt(ctx, "messages/global/m1", "x")
	assert.ErrorIs(t, err, transport.ErrDisconnected)
}
