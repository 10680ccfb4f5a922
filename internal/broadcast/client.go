package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rate-throttler/internal/model"
)

// Client is one websocket connection. It implements bus.Subscriber; its
// OnPrice runs on the client's bus worker, which is the connection's only
// data writer once live. OnPrice holds back until the history replay is
// done, so the handler and the worker never write at the same time.
type Client struct {
	conn      *websocket.Conn
	format    string
	writeWait time.Duration
	buf       []byte

	ready     chan struct{}
	readyOnce sync.Once
}

func newClient(conn *websocket.Conn, format string, writeWait time.Duration) *Client {
	return &Client{
		conn:      conn,
		format:    format,
		writeWait: writeWait,
		buf:       make([]byte, 0, 64),
		ready:     make(chan struct{}),
	}
}

// goLive releases OnPrice. Safe to call more than once.
func (c *Client) goLive() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// OnPrice writes one update. An update that cannot be encoded is skipped
// with an error; a failed write closes the socket so the read loop notices
// and unsubscribes the client.
func (c *Client) OnPrice(ccyPair string, rate float64) error {
	<-c.ready

	messageType, data, err := c.encode(model.Update{Key: ccyPair, Rate: rate})
	if err != nil {
		return err
	}
	if err := c.send(messageType, data); err != nil {
		c.conn.Close()
		return err
	}
	return nil
}

func (c *Client) replay(history []model.Update) error {
	if len(history) == 0 {
		return nil
	}
	if err := c.writeHeader(len(history)); err != nil {
		return fmt.Errorf("history header: %w", err)
	}
	for i, u := range history {
		if err := c.write(u); err != nil {
			return fmt.Errorf("history stream after %d updates: %w", i, err)
		}
	}
	return nil
}

func (c *Client) writeHeader(n int) error {
	if c.format == formatJSON {
		return c.send(websocket.TextMessage, fmt.Appendf(c.buf[:0], `{"history":%d}`, n))
	}
	return c.send(websocket.BinaryMessage, model.AppendMsgPackHeader(c.buf[:0], uint32(n)))
}

func (c *Client) write(u model.Update) error {
	messageType, data, err := c.encode(u)
	if err != nil {
		return err
	}
	return c.send(messageType, data)
}

func (c *Client) encode(u model.Update) (int, []byte, error) {
	if c.format == formatJSON {
		b, err := json.Marshal(u)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s: %w", u.Key, err)
		}
		return websocket.TextMessage, b, nil
	}
	c.buf = u.AppendMsgPack(c.buf[:0])
	return websocket.BinaryMessage, c.buf, nil
}

func (c *Client) send(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// closeWith may be called concurrently with writes.
func (c *Client) closeWith(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.conn.Close()
}
