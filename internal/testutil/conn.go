package testutil

import (
	"errors"
	"net"
	"sync"
	"time"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// FakeConn records every message written to it. It matches the broadcast
// and dispatch connection surfaces structurally, so neither package is
// imported here.
type FakeConn struct {
	// WriteErr fails every write once set. FailAfter fails writes after
	// that many successes; zero means never.
	WriteErr  error
	FailAfter int

	// Received mirrors each successful write, for tests that need to wait
	// on asynchronous writers.
	Received chan []byte

	mu       sync.Mutex
	addr     string
	messages [][]byte
	closed   bool
	deadline time.Time
}

func NewFakeConn(addr string) *FakeConn {
	return &FakeConn{addr: addr, Received: make(chan []byte, 64)}
}

func (c *FakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("connection closed")
	}
	if c.WriteErr != nil {
		err := c.WriteErr
		c.mu.Unlock()
		return err
	}
	if c.FailAfter > 0 && len(c.messages) >= c.FailAfter {
		c.mu.Unlock()
		return errors.New("write failed")
	}
	buf := append([]byte(nil), data...)
	c.messages = append(c.messages, buf)
	received := c.Received
	c.mu.Unlock()

	if received != nil {
		select {
		case received <- buf:
		default:
		}
	}
	return nil
}

func (c *FakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *FakeConn) RemoteAddr() net.Addr {
	return fakeAddr(c.addr)
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Messages returns a copy of everything written so far.
func (c *FakeConn) Messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.messages))
	copy(out, c.messages)
	return out
}

// Closed reports whether Close was called.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastDeadline returns the most recent write deadline.
func (c *FakeConn) LastDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}
