package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/plate/internal/models"
)

// Message types carried on the channel
const (
	MessageClipboardUpdate = "clipboard-update"
)

const writeWait = 10 * time.Second

// Message is one frame on the duplex channel.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Channel is a live WebSocket connection to /ws. Send is safe for concurrent
// use; Receive must be called from a single goroutine.
//
// With a non-zero idle timeout the channel pings the server and Receive
// fails once nothing (message, ping or pong) has arrived for that long.
type Channel struct {
	conn    *websocket.Conn
	idle    time.Duration
	quit    chan struct{}
	writeMu sync.Mutex
	once    sync.Once
}

// Dial opens the duplex channel, authenticating with token and deviceID.
func (c *Client) Dial(ctx context.Context) (*Channel, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {c.Token}, "deviceId": {c.DeviceID}}.Encode()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.Timeout,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, fmt.Errorf("dial channel: %w", ErrUnauthorized)
			case http.StatusForbidden:
				return nil, fmt.Errorf("dial channel: %w", ErrForbidden)
			}
			return nil, fmt.Errorf("dial channel: HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial channel: %w", err)
	}

	ch := &Channel{conn: conn, idle: c.ChannelIdle, quit: make(chan struct{})}
	if ch.idle > 0 {
		ch.extendDeadline()
		conn.SetPongHandler(func(string) error {
			ch.extendDeadline()
			return nil
		})
		conn.SetPingHandler(func(data string) error {
			ch.extendDeadline()
			err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
			var netErr net.Error
			if errors.Is(err, websocket.ErrCloseSent) || errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return err
		})
		go ch.pingLoop()
	}
	return ch, nil
}

func (ch *Channel) extendDeadline() {
	ch.conn.SetReadDeadline(time.Now().Add(ch.idle))
}

// pingLoop keeps a quiet but healthy connection from hitting the idle
// deadline. It stops on Close or on the first failed write.
func (ch *Channel) pingLoop() {
	ticker := time.NewTicker(ch.idle * 5 / 6)
	defer ticker.Stop()
	for {
		select {
		case <-ch.quit:
			return
		case <-ticker.C:
			if err := ch.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Send writes one message
func (ch *Channel) Send(msg Message) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ch.conn.WriteJSON(msg)
}

// SendUpdate emits a clipboard-update carrying entry
func (ch *Channel) SendUpdate(entry models.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return ch.Send(Message{Type: MessageClipboardUpdate, Data: data})
}

// Receive blocks for the next message. It returns an error once the
// connection is closed from either side or has gone idle.
func (ch *Channel) Receive() (Message, error) {
	var msg Message
	if err := ch.conn.ReadJSON(&msg); err != nil {
		return Message{}, err
	}
	if ch.idle > 0 {
		ch.extendDeadline()
	}
	return msg, nil
}

// Close sends a close frame and tears down the connection. Safe to call
// more than once.
func (ch *Channel) Close() error {
	var err error
	ch.once.Do(func() {
		close(ch.quit)
		ch.writeMu.Lock()
		ch.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ch.writeMu.Unlock()
		err = ch.conn.Close()
	})
	return err
}
