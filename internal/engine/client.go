package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// Client talks JSON-RPC 2.0 to the host engine's local control socket. Each
// call opens a short-lived connection; the engine side expects
// newline-delimited requests.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a host-engine client for the given unix socket.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 5 * time.Second}
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      int            `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcNotification is a server-pushed message on the event stream; it carries
// no ID and expects no reply.
type rpcNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func (c *Client) call(ctx context.Context, method string, params map[string]any, result any) error {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("could not connect to engine socket at %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	reqBytes, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal engine request: %w", err)
	}

	if _, err := conn.Write(append(reqBytes, '\n')); err != nil {
		return fmt.Errorf("failed to write to engine socket: %w", err)
	}

	resBytes, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("failed to read engine response: %w", err)
	}

	var response rpcResponse
	if err := json.Unmarshal(resBytes, &response); err != nil {
		return fmt.Errorf("failed to unmarshal engine response: %w", err)
	}
	if response.Error != nil {
		return fmt.Errorf("engine error: %s (code: %d)", response.Error.Message, response.Error.Code)
	}
	if result != nil {
		if err := json.Unmarshal(response.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal engine result: %w", err)
		}
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, playerID uuid.UUID, text string) error {
	return c.call(ctx, "player.message", map[string]any{
		"player_id": playerID.String(),
		"text":      text,
	}, nil)
}

func (c *Client) Relocate(ctx context.Context, playerID uuid.UUID, address string) error {
	return c.call(ctx, "player.relocate", map[string]any{
		"player_id": playerID.String(),
		"address":   address,
	}, nil)
}

func (c *Client) PlayerPosition(ctx context.Context, playerID uuid.UUID) (Position, error) {
	var pos Position
	err := c.call(ctx, "player.position", map[string]any{
		"player_id": playerID.String(),
	}, &pos)
	return pos, err
}

func (c *Client) Kick(ctx context.Context, playerID uuid.UUID, reason string) error {
	return c.call(ctx, "player.kick", map[string]any{
		"player_id": playerID.String(),
		"reason":    reason,
	}, nil)
}

func (c *Client) HasPermission(ctx context.Context, playerID uuid.UUID, permission string) (bool, error) {
	var result struct {
		Granted bool `json:"granted"`
	}
	err := c.call(ctx, "player.permission", map[string]any{
		"player_id":  playerID.String(),
		"permission": permission,
	}, &result)
	return result.Granted, err
}

// StreamEvents holds a long-lived connection on which the engine pushes
// player.event notifications after an events.subscribe handshake. Undecodable
// or foreign notifications are skipped; the stream stays up. Returns when the
// connection breaks or ctx is canceled.
func (c *Client) StreamEvents(ctx context.Context, handler func(Event)) error {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("could not connect to engine socket at %s: %w", c.socketPath, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	reqBytes, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: "events.subscribe", ID: 1})
	if err != nil {
		return fmt.Errorf("failed to marshal engine request: %w", err)
	}
	if _, err := conn.Write(append(reqBytes, '\n')); err != nil {
		return fmt.Errorf("failed to write to engine socket: %w", err)
	}

	reader := bufio.NewReader(conn)
	ackBytes, err := reader.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("failed to read engine response: %w", err)
	}
	var ack rpcResponse
	if err := json.Unmarshal(ackBytes, &ack); err != nil {
		return fmt.Errorf("failed to unmarshal engine response: %w", err)
	}
	if ack.Error != nil {
		return fmt.Errorf("engine error: %s (code: %d)", ack.Error.Message, ack.Error.Code)
	}

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("engine event stream closed: %w", err)
		}
		var n rpcNotification
		if err := json.Unmarshal(line, &n); err != nil || n.Method != "player.event" {
			continue
		}
		var e Event
		if err := json.Unmarshal(n.Params, &e); err != nil {
			continue
		}
		handler(e)
	}
}

var (
	_ Host        = (*Client)(nil)
	_ EventSource = (*Client)(nil)
)
