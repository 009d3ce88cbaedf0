// Package gateway is the engine's outward surface: a WebSocket endpoint
// broadcasting view, delivery, summary, and connectivity events to UI
// clients and accepting their commands.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatsync/internal/bus"
	"chatsync/internal/engine"
	"chatsync/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Local daemon endpoint; the UI shell connects from its own origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server serves the /ws endpoint and bridges the bus to the hub.
type Server struct {
	addr   string
	engine *engine.Engine
	bus    *bus.Bus
	hub    *Hub
	logger *zap.Logger

	httpSrv *http.Server
	cancel  context.CancelFunc
}

// NewServer creates a gateway bound to addr.
func NewServer(addr string, e *engine.Engine, b *bus.Bus, logger *zap.Logger) *Server {
	return &Server{
		addr:   addr,
		engine: e,
		bus:    b,
		hub:    NewHub(logger),
		logger: logger,
	}
}

// Start listens and serves until Stop. Blocks.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.pump(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("gateway listening", zap.String("addr", ln.Addr().String()))
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Shutdown(ctx)
	}
}

// pump forwards engine events from the bus to connected clients.
func (s *Server) pump(ctx context.Context) {
	events, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	for {
		select {
		case evt := <-events:
			switch evt.Kind {
			case bus.KindViewChanged, bus.KindSummaryChanged,
				bus.KindDeliverySent, bus.KindDeliveryFailed,
				bus.KindNetConnected, bus.KindNetDisconnected:
				s.hub.Broadcast(EventFrame{
					Event:     evt.Kind,
					Timestamp: evt.Timestamp.UnixMilli(),
					Payload:   evt.Payload,
				})
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	s.hub.Add(conn)
	defer func() {
		s.hub.Remove(conn)
		_ = conn.Close()
	}()

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("client read failed", zap.Error(err))
			}
			return
		}
		reply := s.dispatch(&cmd)
		if err := s.hub.Send(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(cmd *Command) Reply {
	switch cmd.Op {
	case "submit":
		msg, err := s.engine.Submit(cmd.ChatID, cmd.Text, cmd.SenderID)
		if err != nil {
			return fail(cmd.Op, err)
		}
		return ok(cmd.Op, msg)
	case "retry":
		if err := s.engine.Retry(cmd.MsgID); err != nil {
			return fail(cmd.Op, err)
		}
		return ok(cmd.Op, nil)
	case "mark_read":
		if err := s.engine.MarkRead(cmd.ChatID); err != nil {
			return fail(cmd.Op, err)
		}
		return ok(cmd.Op, nil)
	case "watch":
		kind := model.ChatKind(cmd.Kind)
		if kind != model.KindGlobal {
			kind = model.KindPrivate
		}
		s.engine.Watch(cmd.ChatID, kind, cmd.ContactID)
		return ok(cmd.Op, nil)
	case "view":
		view, err := s.engine.View(cmd.ChatID)
		if err != nil {
			return fail(cmd.Op, err)
		}
		return ok(cmd.Op, view)
	case "summaries":
		sums, err := s.engine.Summaries()
		if err != nil {
			return fail(cmd.Op, err)
		}
		return ok(cmd.Op, sums)
	default:
		return Reply{Op: cmd.Op, OK: false, Error: "unknown op"}
	}
}

func ok(op string, payload any) Reply {
	return Reply{Op: op, OK: true, Payload: payload}
}

func fail(op string, err error) Reply {
	return Reply{Op: op, OK: false, Error: err.Error()}
}

// WaitListening polls until the server accepts connections, for callers
// that need the address live before proceeding.
func WaitListening(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return errors.New("gateway did not start listening")
}
