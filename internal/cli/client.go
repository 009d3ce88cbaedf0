package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/internal/gateway"
)

const dialTimeout = 3 * time.Second

// client is a short-lived gateway connection for one-shot commands.
type client struct {
	conn *websocket.Conn
}

func dialGateway(addr string) (*client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w (is chatsyncd running?)", addr, err)
	}
	return &client{conn: conn}, nil
}

func (c *client) Close() {
	_ = c.conn.Close()
}

// roundTrip sends a command and waits for its reply, skipping any event
// frames the gateway pushes in between.
func (c *client) roundTrip(cmd gateway.Command) (*gateway.Reply, error) {
	if err := c.conn.WriteJSON(cmd); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}
	deadline := time.Now().Add(dialTimeout)
	_ = c.conn.SetReadDeadline(deadline)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read reply: %w", err)
		}
		var probe struct {
			Event string `json:"event"`
		}
		if json.Unmarshal(data, &probe) == nil && probe.Event != "" {
			continue
		}
		var reply gateway.Reply
		if err := json.Unmarshal(data, &reply); err != nil {
			return nil, fmt.Errorf("decode reply: %w", err)
		}
		if !reply.OK {
			return nil, fmt.Errorf("%s: %s", reply.Op, reply.Error)
		}
		return &reply, nil
	}
}

// decodePayload re-marshals the loosely typed reply payload into out.
func decodePayload(reply *gateway.Reply, out any) error {
	raw, err := json.Marshal(reply.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
