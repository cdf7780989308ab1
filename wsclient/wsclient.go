// Package wsclient is the websocket transport shared by the bridge clients.
//
// A Client is driven by a single worker goroutine which dials, writes and reads. Other
// goroutines may only call Interrupt, which unblocks whatever I/O the worker is waiting on.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var (
	ErrNotConnected = errors.New("wsclient: not connected")
	ErrInterrupted  = errors.New("wsclient: interrupted")
)

type Client struct {
	name string
	log  *log.Logger

	urlstr string
	rw     io.ReadWriter

	// guards conn and interrupted; the only state touched outside the worker
	mu          sync.Mutex
	conn        net.Conn
	interrupted bool
}

func New(name string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{name: name, log: logger}
}

// bufferedConn reads through bytes the dialer already buffered past the handshake.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (b bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

func (c *Client) URL() string { return c.urlstr }

func (c *Client) Dial(ctx context.Context, urlstr string, timeout time.Duration) (err error) {
	if c.rw != nil {
		_ = c.Close()
	}

	c.log.Printf("%s: dial %s\n", c.name, urlstr)
	d := ws.Dialer{Timeout: timeout}
	conn, br, _, err := d.Dial(ctx, urlstr)
	if err != nil {
		return fmt.Errorf("%s: dial %s: %w", c.name, urlstr, err)
	}

	c.urlstr = urlstr
	if br != nil {
		c.rw = bufferedConn{Conn: conn, r: br}
	} else {
		c.rw = conn
	}

	c.mu.Lock()
	c.conn = conn
	c.interrupted = false
	c.mu.Unlock()
	return
}

// Interrupt makes any pending or future I/O on the current connection fail with ErrInterrupted.
// It is safe to call from any goroutine.
func (c *Client) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupted = true
	if c.conn != nil {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	}
}

func (c *Client) deadline(read bool, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interrupted {
		return ErrInterrupted
	}
	if c.conn == nil {
		return ErrNotConnected
	}
	var t time.Time
	if timeout > 0 {
		t = time.Now().Add(timeout)
	}
	if read {
		return c.conn.SetReadDeadline(t)
	}
	return c.conn.SetWriteDeadline(t)
}

func (c *Client) wrap(op string, err error) error {
	c.mu.Lock()
	interrupted := c.interrupted
	c.mu.Unlock()
	if interrupted && !errors.Is(err, ErrInterrupted) {
		err = fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	return fmt.Errorf("%s: %s: %w", c.name, op, err)
}

func (c *Client) SendText(p []byte, timeout time.Duration) (err error) {
	if c.rw == nil {
		return ErrNotConnected
	}
	if err = c.deadline(false, timeout); err != nil {
		return c.wrap("send", err)
	}
	if err = wsutil.WriteClientMessage(c.rw, ws.OpText, p); err != nil {
		return c.wrap("send", err)
	}
	return
}

func (c *Client) SendJSON(v interface{}, timeout time.Duration) error {
	p, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", c.name, err)
	}
	return c.SendText(p, timeout)
}

// ReadMessage returns the next text or binary message. A zero timeout waits indefinitely.
// A close frame from the server is reported as a wsutil.ClosedError.
func (c *Client) ReadMessage(timeout time.Duration) (p []byte, op ws.OpCode, err error) {
	if c.rw == nil {
		return nil, 0, ErrNotConnected
	}
	if err = c.deadline(true, timeout); err != nil {
		return nil, 0, c.wrap("read", err)
	}
	p, op, err = wsutil.ReadServerData(c.rw)
	if err != nil {
		return nil, 0, c.wrap("read", err)
	}
	return
}

// CloseWithReason sends a close frame carrying code and reason, then closes the socket.
func (c *Client) CloseWithReason(code ws.StatusCode, reason string) error {
	if c.rw == nil {
		return nil
	}
	if c.deadline(false, time.Second) == nil {
		body := ws.NewCloseFrameBody(code, reason)
		if err := wsutil.WriteClientMessage(c.rw, ws.OpClose, body); err != nil {
			c.log.Printf("%s: close frame: %v\n", c.name, err)
		}
	}
	return c.Close()
}

func (c *Client) Close() (err error) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.rw = nil
	if conn == nil {
		return nil
	}

	c.log.Printf("%s: close websocket %s\n", c.name, c.urlstr)
	if err = conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%s: close: %w", c.name, err)
	}
	return nil
}

// IsClosed reports whether err means the peer closed the connection.
func IsClosed(err error) bool {
	var closed wsutil.ClosedError
	return errors.As(err, &closed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// CloseStatus extracts the close frame code and reason from err, if any.
func CloseStatus(err error) (code ws.StatusCode, reason string, ok bool) {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return closed.Code, closed.Reason, true
	}
	return 0, "", false
}
