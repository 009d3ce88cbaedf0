package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatsync/internal/bus"
	"chatsync/internal/delivery"
	"chatsync/internal/engine"
	"chatsync/internal/model"
	"chatsync/internal/netmon"
	"chatsync/internal/store"
	"chatsync/internal/summary"
	"chatsync/internal/sync"
	"chatsync/internal/transport/memstore"
)

func testServer(t *testing.T) (*Server, *websocket.Conn) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ms := memstore.New()
	b := bus.New()
	logger := zap.NewNop()
	mon := netmon.NewMonitor(b)
	rec := sync.NewReconciler(db, b, logger)
	coord := delivery.NewCoordinator(db, rec, ms, mon, b, logger)
	tracker := summary.NewTracker(db, rec, ms, b, logger, "u1")
	e := engine.New(ms, mon, b, rec, coord, tracker, logger)
	e.Start(context.Background(), ms.Online)
	t.Cleanup(e.Stop)

	srv := NewServer("", e, b, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.pump(ctx)

	httpSrv := httptest.NewServer(http.HandlerFunc(srv.handleWS))
	t.Cleanup(httpSrv.Close)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return srv, conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, cmd Command) Reply {
	t.Helper()
	require.NoError(t, conn.WriteJSON(cmd))
	// Skip event frames pushed between the command and its reply.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var reply Reply
		if err := json.Unmarshal(data, &reply); err == nil && reply.Op == cmd.Op {
			return reply
		}
	}
	t.Fatal("no reply received")
	return Reply{}
}

func TestSubmitAndViewOverGateway(t *testing.T) {
	_, conn := testServer(t)

	reply := roundTrip(t, conn, Command{Op: "watch", ChatID: "c1"})
	assert.True(t, reply.OK)

	reply = roundTrip(t, conn, Command{Op: "submit", ChatID: "c1", Text: "hi", SenderID: "u1"})
	require.True(t, reply.OK, reply.Error)

	require.Eventually(t, func() bool {
		reply := roundTrip(t, conn, Command{Op: "view", ChatID: "c1"})
		if !reply.OK {
			return false
		}
		data, _ := json.Marshal(reply.Payload)
		var view []model.Message
		_ = json.Unmarshal(data, &view)
		return len(view) == 1 && view[0].Status == model.StatusSent
	}, 2*time.Second, 50*time.Millisecond, "submitted message should reach the view as sent")
}

func TestSubmitValidationOverGateway(t *testing.T) {
	_, conn := testServer(t)

	reply := roundTrip(t, conn, Command{Op: "submit", ChatID: "c1", Text: "  ", SenderID: "u1"})
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "invalid message")
}

func TestUnknownOp(t *testing.T) {
	_, conn := testServer(t)
	reply := roundTrip(t, conn, Command{Op: "bogus"})
	assert.False(t, reply.OK)
	assert.Equal(t, "unknown op", reply.Error)
}

func TestEventBroadcast(t *testing.T) {
	srv, conn := testServer(t)

	require.Eventually(t, func() bool { return srv.hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	srv.bus.Emit(bus.KindViewChanged, "c1")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame EventFrame
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if err := json.Unmarshal(data, &frame); err == nil && frame.Event == bus.KindViewChanged {
			break
		}
	}
	assert.Equal(t, "c1", frame.Payload)
	assert.NotZero(t, frame.Timestamp)
}
