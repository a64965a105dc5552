// Package wsconn carries the wire protocol over a WebSocket.
//
// A Conn owns one socket. Sends are queued on a buffered channel and written
// by a single writer goroutine, so Send never blocks the node that calls it.
// Serve attaches the Conn to a node and runs the read loop until the socket
// closes.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/jsoncrdt/internal/transport"
	"github.com/roach88/jsoncrdt/internal/wire"
)

const (
	// DefaultBufferSize is the number of outgoing messages a Conn queues
	// before Send fails.
	DefaultBufferSize = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("wsconn: connection closed")

	// ErrSendBufferFull is returned by Send when the writer has fallen
	// behind by more than the buffer size.
	ErrSendBufferFull = errors.New("wsconn: send buffer full")
)

// Conn is a transport.Conn over a WebSocket.
//
// Thread-safety: Send and Close are safe for concurrent use. Serve must be
// called at most once.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
	bufLen int
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the connection logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBufferSize sets the outgoing queue length. Default: DefaultBufferSize.
func WithBufferSize(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.bufLen = n
		}
	}
}

// New wraps an established socket and starts its writer.
func New(ws *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		ws:     ws,
		done:   make(chan struct{}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		bufLen: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.send = make(chan []byte, c.bufLen)
	go c.writePump()
	return c
}

// Dial opens a WebSocket to url, typically a relay room such as
// ws://localhost:8080/myroom.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return New(ws, opts...), nil
}

// Send encodes msg and queues it for the writer.
func (c *Conn) Send(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer, which sends a close frame and closes the socket.
// It is safe to call more than once.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Serve attaches c to node and delivers incoming messages until the socket
// closes, ctx is cancelled or Close is called. The connection is detached
// and closed on return. A remote close or a local Close returns nil.
//
// Malformed messages are logged and skipped; the connection stays up.
func (c *Conn) Serve(ctx context.Context, node *transport.Node) error {
	defer c.Close()
	if err := node.Attach(c); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer node.Detach(c)

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return ctx.Err()
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("serve: read: %w", err)
		}

		msg, err := wire.Decode(data)
		if err != nil {
			c.logger.Warn("dropped malformed message", "bytes", len(data), "error", err)
			continue
		}
		if err := node.Handle(c, msg); err != nil {
			c.logger.Warn("message rejected", "action", msg.Action, "error", err)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is still queued when Close is called.
func (c *Conn) flush() {
	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
