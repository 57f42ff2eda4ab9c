package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
	wsSendQueueSize   = 256
)

var (
	errConnClosed    = errors.New("connection closed")
	errSendQueueFull = errors.New("send queue full")
)

// wsConn adapts a websocket to registry.Sender. Frames are queued and written
// by a single goroutine with a write deadline per frame. The same goroutine
// pings every pingInterval so receive-only clients answer with pongs.
type wsConn struct {
	conn         *websocket.Conn
	out          chan []byte
	done         chan struct{}
	exited       chan struct{}
	once         sync.Once
	onSent       func(int)
	pingInterval time.Duration
}

func newWSConn(conn *websocket.Conn, pingInterval time.Duration, onSent func(int)) *wsConn {
	c := &wsConn{
		conn:         conn,
		out:          make(chan []byte, wsSendQueueSize),
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
		onSent:       onSent,
		pingInterval: pingInterval,
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendQueueFull
	}
}

// Close stops the write loop, sends a normal close frame, and closes the
// socket. It is safe to call more than once.
func (c *wsConn) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	<-c.exited
	return nil
}

func (c *wsConn) writeLoop() {
	defer close(c.exited)
	defer c.conn.Close()
	var pings <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}
	for {
		select {
		case <-pings:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				c.abort()
				return
			}
		case data := <-c.out:
			if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				c.abort()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.abort()
				return
			}
			if c.onSent != nil {
				c.onSent(len(data))
			}
		case <-c.done:
			deadline := time.Now().Add(wsWriteTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server closing"), deadline)
			return
		}
	}
}

func (c *wsConn) abort() {
	c.once.Do(func() {
		close(c.done)
	})
}
