// Package loadgen simulates authors typing into the draft gateway and
// aggregates the resulting latencies.
package loadgen

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	jsoniter "github.com/json-iterator/go"

	"github.com/whisper/contentguard/internal/moderation"
	"github.com/whisper/contentguard/internal/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is one simulated editor connected to the draft gateway.
type Client struct {
	conn      net.Conn
	sessionID string
	writeMu   sync.Mutex
	states    chan protocol.DraftStateMsg
	done      chan struct{}
	closeOnce sync.Once

	ConnectLatency time.Duration
}

// Dial connects to url and waits for session_created.
func Dial(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read session: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var hello protocol.SessionCreatedMsg
	if err := json.Unmarshal(data, &hello); err != nil || hello.SessionID == "" {
		conn.Close()
		return nil, fmt.Errorf("unexpected greeting: %s", data)
	}

	c := &Client{
		conn:           conn,
		sessionID:      hello.SessionID,
		states:         make(chan protocol.DraftStateMsg, 64),
		done:           make(chan struct{}),
		ConnectLatency: time.Since(start),
	}
	go c.readLoop()
	return c, nil
}

// SessionID returns the id assigned by the gateway.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Send marshals msg and writes it as a text frame. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Edit sends a draft_edit for field.
func (c *Client) Edit(field string, ct moderation.ContentType, text string) error {
	return c.Send(protocol.DraftEditMsg{Type: protocol.TypeDraftEdit, Field: field, ContentType: ct, Text: text})
}

// CloseField sends a draft_close for field.
func (c *Client) CloseField(field string) error {
	return c.Send(protocol.DraftCloseMsg{Type: protocol.TypeDraftClose, Field: field})
}

// States delivers every draft_state received except idle ones. Messages are
// dropped when the consumer falls behind.
func (c *Client) States() <-chan protocol.DraftStateMsg {
	return c.states
}

// WaitSettled blocks until field reports a settled state for text. Settled
// states for earlier text of the same field are skipped. It also returns how
// many checks of field it saw.
func (c *Client) WaitSettled(ctx context.Context, field, text string) (protocol.DraftStateMsg, int, error) {
	checks := 0
	for {
		select {
		case <-ctx.Done():
			return protocol.DraftStateMsg{}, checks, ctx.Err()
		case <-c.done:
			return protocol.DraftStateMsg{}, checks, fmt.Errorf("connection closed")
		case m := <-c.states:
			if m.Field != field {
				continue
			}
			if m.State == moderation.StateChecking {
				checks++
				continue
			}
			if m.Text != text {
				continue
			}
			return m, checks, nil
		}
	}
}

// Close closes the connection. It is safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			return
		}

		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil || env.Type != protocol.TypeDraftState {
			continue
		}
		var m protocol.DraftStateMsg
		if err := json.Unmarshal(data, &m); err != nil || m.State == moderation.StateIdle {
			continue
		}
		select {
		case c.states <- m:
		default:
		}
	}
}
