package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liftsync/pkg/types"
)

// Connection wraps a websocket connection behind the engine's Conn
// contract.
// ARCHITECTURAL DISCOVERY: websocket writes must be serialized; a single
// writer goroutine fed by a buffered channel eliminates the race without a
// write mutex on the hot path.
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps an upgraded websocket and starts its writer
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteOperation queues an operation for delivery. A full buffer or a
// closed connection surfaces as an error so the engine can disconnect.
func (c *Connection) WriteOperation(op *types.Operation) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := op.Encode()
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(5 * time.Second):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ReadMessage blocks for the next client frame
func (c *Connection) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Close shuts down the writer and the underlying socket; safe to call more
// than once
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Done signals when the connection has been closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
