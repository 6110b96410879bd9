package redkv

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l00pss/redkv/resp"
)

// ConnState tracks the lifecycle of a client connection.
type ConnState int32

const (
	StateNew ConnState = iota
	StateActive
	StateIdle
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errMalformedFrame = errors.New("redkv: malformed RESP frame")

// Connection wraps one client's TCP socket: a write buffer, the unparsed
// tail of bytes read so far, and lifecycle state shared with the Server
// that accepted it.
type Connection struct {
	conn   net.Conn
	writer *bufio.Writer
	server *Server

	state     atomic.Int32
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	mu       sync.RWMutex
	lastUsed time.Time

	buf     []byte
	scratch [4096]byte
}

func newConnection(netConn net.Conn, server *Server, ctx context.Context, cancel context.CancelFunc) *Connection {
	c := &Connection{
		conn:     netConn,
		writer:   bufio.NewWriter(netConn),
		server:   server,
		ctx:      ctx,
		cancel:   cancel,
		lastUsed: time.Now(),
	}
	c.state.Store(int32(StateNew))
	return c
}

func (c *Connection) setState(state ConnState) {
	c.state.Store(int32(state))
	if c.server.ConnStateHook != nil {
		c.server.ConnStateHook(c.conn, state)
	}
}

// GetState returns the connection's current lifecycle state.
func (c *Connection) GetState() ConnState {
	return ConnState(c.state.Load())
}

// Close closes the underlying socket exactly once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr returns the client's network address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the address this connection was accepted on.
func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

func (c *Connection) idleSince() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUsed
}

// fillBuffer performs one socket read and appends whatever arrived to the
// connection's unparsed tail.
func (c *Connection) fillBuffer() (int, error) {
	n, err := c.conn.Read(c.scratch[:])
	if n > 0 {
		c.buf = append(c.buf, c.scratch[:n]...)
	}
	return n, err
}

// nextFrame parses one frame out of already-buffered bytes, reading more
// from the socket only when what's buffered is incomplete. A command sent
// as several pipelined frames in one packet is served entirely from the
// buffer, with no extra syscalls.
func (c *Connection) nextFrame(limits resp.Limits) (resp.Frame, error) {
	for {
		frame, consumed, status := resp.ParseFrame(c.buf, limits)
		switch status {
		case resp.StatusComplete:
			remaining := make([]byte, len(c.buf)-consumed)
			copy(remaining, c.buf[consumed:])
			c.buf = remaining
			return frame, nil
		case resp.StatusMalformed:
			return resp.Frame{}, errMalformedFrame
		case resp.StatusIncomplete:
			n, err := c.fillBuffer()
			if err != nil {
				return resp.Frame{}, err
			}
			if n == 0 {
				return resp.Frame{}, io.EOF
			}
		}
	}
}

func (c *Connection) writeFrame(frame Frame) error {
	_, err := c.writer.Write(resp.Serialize(frame))
	return err
}

func (c *Connection) flush() error {
	return c.writer.Flush()
}
