package netpoll

import (
	"net"
	"sync"
)

// Conn wraps a net.Conn so the default poller can probe for readability by
// reading a single lookahead byte without losing it: the byte is cached and
// handed back on the connection's next real Read. Callers that register a
// connection with the default Poller must register (and subsequently read
// from) the same wrapped Conn, not the raw net.Conn, or the first byte of
// the next frame would be silently consumed by the poller's probe.
type Conn struct {
	net.Conn

	mu     sync.Mutex
	peeked []byte
}

// NewConn wraps conn for use with the default goroutine-driven Poller.
func NewConn(conn net.Conn) *Conn {
	return &Conn{Conn: conn}
}

// Peek1 reports whether one byte is available to read without consuming it
// from the stream on the conn's next Read.
func (c *Conn) Peek1(scratch []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.peeked) > 0 {
		scratch[0] = c.peeked[0]
		return 1, nil
	}

	n, err := c.Conn.Read(scratch[:1])
	if n > 0 {
		c.peeked = append(c.peeked[:0], scratch[:n]...)
	}
	return n, err
}

// Read satisfies net.Conn, returning any cached peeked byte before
// continuing to read from the underlying connection.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.peeked) > 0 {
		n := copy(p, c.peeked)
		c.peeked = c.peeked[n:]
		c.mu.Unlock()
		if n == len(p) {
			return n, nil
		}
		m, err := c.Conn.Read(p[n:])
		return n + m, err
	}
	c.mu.Unlock()
	return c.Conn.Read(p)
}
