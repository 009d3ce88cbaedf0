package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/fx"

	"chatsync/internal/config"
	"chatsync/internal/gateway"
	"chatsync/internal/lock"
	"chatsync/internal/transport/memstore"
)

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestDaemonLifecycle(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	addr := freePort(t)
	cfgPath := filepath.Join(home, "config.toml")
	cfg := &config.Config{UserID: "alice", GatewayAddr: addr}
	cfg.Defaults()
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}

	app := fx.New(Module(Params{ConfigPath: cfgPath}))

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			t.Errorf("stop: %v", err)
		}
	}()

	if err := gateway.WaitListening(addr, 5*time.Second); err != nil {
		t.Fatal(err)
	}

	// A second daemon on the same data dir must be refused.
	if _, err := lock.Acquire(config.BaseDir()); err == nil {
		t.Fatal("second lock acquisition succeeded")
	} else {
		var held *lock.HeldError
		if !errors.As(err, &held) {
			t.Fatalf("want HeldError, got %v", err)
		}
	}

	// A command over the gateway exercises the full wiring.
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws", addr), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(gateway.Command{Op: "submit", ChatID: "global", Text: "hello", SenderID: "alice"}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var reply gateway.Reply
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatal(err)
		}
		if reply.Op == "" {
			continue // event frame
		}
		if !reply.OK {
			t.Fatalf("submit failed: %s", reply.Error)
		}
		break
	}
}

func TestProbeFor(t *testing.T) {
	ms := memstore.New()
	if !probeFor(ms)() {
		t.Fatal("memstore probe should report online")
	}
	ms.SetOffline(true)
	if probeFor(ms)() {
		t.Fatal("offline memstore probe should report offline")
	}
}
