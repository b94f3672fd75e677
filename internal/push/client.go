package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Roles accepted by Client.Register.
const (
	RoleOfficer = "officer"
	RoleKiosk   = "kiosk"
)

var ErrClientClosed = errors.New("push: client closed")

// Client is the agent side of the push channel.
type Client struct {
	conn   *websocket.Conn
	events chan Message
	log    *slog.Logger

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// Dial connects to a push channel websocket URL (ws:// or wss://).
func Dial(ctx context.Context, url string, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("push dial %s: %w", url, err)
	}
	c := &Client{
		conn:   conn,
		events: make(chan Message, outboxSize),
		log:    log,
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Register joins the room for role ("officer" or "kiosk") and id.
func (c *Client) Register(role string, id int64) error {
	var event string
	switch role {
	case RoleOfficer:
		event = EventRegisterOfficer
	case RoleKiosk:
		event = EventRegisterKiosk
	default:
		return fmt.Errorf("push: unknown role %q", role)
	}
	msg, err := NewMessage(event, id)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// Leave leaves every joined room.
func (c *Client) Leave() error {
	return c.send(Message{Event: EventLeave})
}

// Events yields inbound frames. It is closed once the connection ends.
func (c *Client) Events() <-chan Message { return c.events }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) send(msg Message) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("push connection lost", "err", err)
			}
			return
		}
		select {
		case c.events <- msg:
		default:
			c.log.Warn("push event dropped: consumer too slow", "event", msg.Event)
		}
	}
}
