package pool

import (
	"net"
	"sync/atomic"
)

// Client is the per-connection handle shared between the acceptor and
// exactly one worker. Its ref count governs destruction: the acceptor
// holds one reference for the lifetime of its "all connections" list, and
// the owning worker holds one reference from the moment the client is
// enqueued on its handoff channel through its removal from that worker's
// client list.
type Client struct {
	// Socket is the accepted connection. It wraps the raw net.Conn with
	// netpoll.Conn so the worker's poller can probe for readability
	// without losing bytes the worker will later read itself.
	Socket net.Conn

	// RemoteAddr is the peer address captured at accept time.
	RemoteAddr net.Addr

	// ID is the monotonically increasing identifier assigned by the
	// acceptor at accept time.
	ID uint64

	// RequestCount is incremented by the owning worker on each
	// successfully read frame.
	RequestCount atomic.Uint64

	owningPool atomic.Pointer[Worker] // weak back-reference; never ownership
	refCount   atomic.Int64
}

// newClient constructs a Client with ref count zero; the acceptor takes its
// first reference immediately after construction by appending it to its
// connections list (see Acceptor.handleNewConnection).
func newClient(socket net.Conn, addr net.Addr, id uint64) *Client {
	return &Client{Socket: socket, RemoteAddr: addr, ID: id}
}

// OwningPool returns the worker currently holding this client, or nil if
// it is not (yet, or any longer) registered on one.
func (c *Client) OwningPool() *Worker {
	return c.owningPool.Load()
}

// RefCount returns the current reference count. Exposed for tests and
// diagnostics; production code should never branch on a read of this
// value under a lock — it is consulted only at the final shutdown sweep.
func (c *Client) RefCount() int64 {
	return c.refCount.Load()
}

func (c *Client) addRef() int64 {
	return c.refCount.Add(1)
}

func (c *Client) release() int64 {
	return c.refCount.Add(-1)
}
