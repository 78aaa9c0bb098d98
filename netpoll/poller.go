// Package netpoll provides the readiness-set abstraction each worker
// registers its client sockets on. It plays the role spec.md calls an
// "epoll-equivalent": Register a net.Conn for a set of event kinds, then
// Wait for a bounded batch of readiness notifications with a timeout.
//
// The default implementation is syscall-free and portable (no epoll/kqueue
// build tags): it drives one lightweight goroutine per registered
// connection using read-deadline probing, the same technique
// SeleniaProject-Orizon's internal/runtime/asyncio.goPoller uses for its
// portability-first baseline poller.
package netpoll

import (
	"context"
	"errors"
	"net"
	"time"
)

// EventType is the kind of readiness a registration is watching for.
type EventType int

const (
	// Readable fires when a Read on the connection would return data (or
	// EOF/an error).
	Readable EventType = iota
	// Error fires when the connection has failed or hung up.
	Error
)

// Event is a single readiness notification returned by Wait.
type Event struct {
	Conn net.Conn
	Type EventType
	Err  error
}

// Poller is the readiness-set abstraction. One Poller instance backs each
// worker's client sockets; the acceptor's listen socket is not registered
// on a Poller (pool.Acceptor waits on it with a listener deadline) —
// instances are never shared across goroutines that both write
// to them concurrently in ways that would require external locking; Poller
// implementations are expected to be safe for concurrent Register/
// Deregister/Wait from the handful of goroutines that use them.
type Poller interface {
	// Register starts watching conn for the given event kinds.
	// Re-registering an already-registered conn updates its kinds.
	Register(conn net.Conn, kinds []EventType) error
	// Deregister stops watching conn. It is a no-op if conn was never
	// registered, or already deregistered.
	Deregister(conn net.Conn) error
	// Rearm resumes watching conn for readability after the caller has
	// finished acting on a previously delivered Readable event for it. A
	// registration stops probing conn once it has handed back one
	// Readable event — the caller owns conn's deadlines and Read calls
	// until it calls Rearm — so a background probe never races the
	// caller's own in-progress Read. It is a no-op if conn is not
	// currently registered. A Rearm for a registration that is not paused
	// yet is remembered, so its next pause ends at once.
	Rearm(conn net.Conn) error
	// Wait blocks until at least one event is ready, up to maxEvents are
	// ready, or timeout elapses — whichever comes first. A zero-length,
	// nil-error result means the wait timed out with nothing ready.
	// Wait returns early with an error if ctx is canceled.
	Wait(ctx context.Context, maxEvents int, timeout time.Duration) ([]Event, error)
	// Close stops every in-flight watcher and releases resources. Wait
	// must not be called after Close.
	Close() error
}

// ErrInvalidRegistration is returned by Register when conn is nil.
var ErrInvalidRegistration = errors.New("netpoll: invalid registration")

// ErrClosed is returned by Wait once the poller has been Closed.
var ErrClosed = errors.New("netpoll: poller closed")
