package proxy

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrConnClosed = errors.New("proxy: connection closed")

// Conn - message transport between the Proxy and Serve.
// Send is safe for concurrent use, Receive is called from one goroutine.
type Conn interface {
	Send(msg *Message) error
	Receive() (*Message, error)
	Close() error
}

const writeTimeout = time.Second * 5

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebsocketConn - one binary frame per message
func NewWebsocketConn(conn *websocket.Conn) Conn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(msg *Message) error {
	b, err := Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *wsConn) Receive() (*Message, error) {
	for {
		typ, b, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return nil, ErrConnClosed
			}
			return nil, err
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		return Unmarshal(b)
	}
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.mu.Unlock()
	return c.conn.Close()
}

type streamConn struct {
	rwc io.ReadWriteCloser
	dec *msgpack.Decoder
	mu  sync.Mutex
}

// NewStreamConn - msgpack values back to back over any byte stream (TCP, unix socket, stdio)
func NewStreamConn(rwc io.ReadWriteCloser) Conn {
	dec := msgpack.NewDecoder(bufio.NewReader(rwc))
	dec.SetCustomStructTag("json")
	return &streamConn{rwc: rwc, dec: dec}
}

func (c *streamConn) Send(msg *Message) error {
	b, err := Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.rwc.Write(b)
	return err
}

func (c *streamConn) Receive() (*Message, error) {
	msg := &Message{}
	if err := c.dec.Decode(msg); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
			return nil, ErrConnClosed
		}
		return nil, err
	}
	return msg, nil
}

func (c *streamConn) Close() error {
	return c.rwc.Close()
}

// Pipe - connected pair of in-process transports
func Pipe() (Conn, Conn) {
	a, b := net.Pipe()
	return NewStreamConn(a), NewStreamConn(b)
}
