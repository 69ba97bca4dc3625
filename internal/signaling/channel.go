package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/rtcsignal/internal/util"
)

// ErrChannelClosed is returned once the relay connection is gone.
var ErrChannelClosed = errors.New("signaling channel closed")

const (
	defaultReadLimit = 64 * 1024
	writeWait        = 10 * time.Second
	inboxSize        = 64
)

// Conn is the part of the signaling channel the Adapter depends on.
type Conn interface {
	// Send writes one message to the relay.
	Send(msg Message) error
	// Messages yields inbound frames in order; it is closed when the
	// channel can no longer read.
	Messages() <-chan []byte
}

// DialOptions tunes the WebSocket connection.
type DialOptions struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	PingInterval     time.Duration // zero disables keepalive
	ReadLimit        int64         // zero means 64 KiB
}

// Channel is a WebSocket connection to the signaling relay. Writes are
// serialized by a mutex; a single goroutine reads frames into an ordered
// inbox.
type Channel struct {
	conn *websocket.Conn

	wmu sync.Mutex

	inbox chan []byte
	done  chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// Dial connects to the relay at url and starts the read loop.
func Dial(ctx context.Context, url string, opts DialOptions) (*Channel, error) {
	dialer := *websocket.DefaultDialer
	if opts.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = opts.HandshakeTimeout
	}

	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return NewChannel(conn, opts), nil
}

// NewChannel wraps an established WebSocket connection.
func NewChannel(conn *websocket.Conn, opts DialOptions) *Channel {
	c := &Channel{
		conn:  conn,
		inbox: make(chan []byte, inboxSize),
		done:  make(chan struct{}),
	}

	limit := opts.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)

	if opts.PingInterval > 0 {
		// Two missed pongs and the read deadline fires.
		wait := 2*opts.PingInterval + writeWait
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
		go c.keepalive(opts.PingInterval)
	}

	go c.readLoop()
	return c
}

// readLoop is the single reader. It exits on the first read error.
func (c *Channel) readLoop() {
	defer close(c.inbox)
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		select {
		case c.inbox <- data:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.wmu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.wmu.Unlock()
			if err != nil {
				util.LogDebug("WS ping failed: %v", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// Send writes a signaling message to the WebSocket, guarded by a mutex.
func (c *Channel) Send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write WS message: %w", err)
	}
	return nil
}

// Messages returns the ordered inbound frames.
func (c *Channel) Messages() <-chan []byte {
	return c.inbox
}

// Done is closed when the channel has been closed locally.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err reports why the read side stopped, or nil while it is running.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Channel) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

// Close sends a normal close frame and releases the socket. Safe to call
// multiple times.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wmu.Unlock()

		c.fail(ErrChannelClosed)
		err = c.conn.Close()
	})
	return err
}
