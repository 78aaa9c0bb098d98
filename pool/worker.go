package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/systemli/connd/netpoll"
)

// Worker (spec.md's ConnectionPool) owns a subset of accepted connections
// and drives their readiness-based read loop. Its client list and poller
// are touched only from the worker's own goroutine; size and running are
// atomics so the acceptor (size) and the lifecycle controller (running)
// may read/write them from other goroutines without a lock.
type Worker struct {
	ID   int
	Name string

	running atomic.Bool
	size    atomic.Int64

	poller  netpoll.Poller
	clients []*Client // worker-goroutine-only
	handoff chan *Client

	handler Handler
	logger  *zap.Logger
	metrics Metrics

	recvBufSize int
	waitTimeout time.Duration
	maxEvents   int

	// UpdateFunc is an overridable per-iteration tick hook; nil means the
	// default no-op, matching spec.md's "update() tick hook".
	UpdateFunc func(context.Context)
}

// newWorker constructs a Worker. It does not start the worker's loop —
// callers spawn ServeForever in its own goroutine.
func newWorker(id int, handler Handler, logger *zap.Logger) *Worker {
	w := &Worker{
		ID:          id,
		Name:        fmt.Sprintf("worker-%d", id),
		poller:      netpoll.NewPoller(),
		handoff:     make(chan *Client, handoffQueueCapacity),
		handler:     handler,
		logger:      logger,
		metrics:     noopMetrics{},
		recvBufSize: recvBufferSize,
		waitTimeout: workerWaitTimeout,
		maxEvents:   maxEventsPerWait,
	}
	w.running.Store(true)
	return w
}

// Size returns the number of clients currently registered on this worker.
// Safe to call from the acceptor goroutine; it is the only Worker field
// the acceptor reads.
func (w *Worker) Size() int64 { return w.size.Load() }

// AddNewConnection is called by the acceptor to hand off a newly accepted
// client. It takes a reference on c's behalf, then attempts a non-blocking
// enqueue. On failure the reference is released and c's socket is closed
// before returning ErrQueueFull — the acceptor must not retry.
func (w *Worker) AddNewConnection(c *Client) error {
	c.addRef()
	c.owningPool.Store(w)

	select {
	case w.handoff <- c:
		return nil
	default:
		c.release()
		c.owningPool.Store(nil)
		_ = c.Socket.Close()
		if w.logger != nil {
			w.logger.Warn("handoff queue full, dropping connection",
				zap.Int("worker", w.ID), zap.Uint64("client_id", c.ID))
		}
		return ErrQueueFull
	}
}

// tryDequeue is the non-blocking consumer side of the handoff channel —
// spec.md's try_dequeue. Only the worker's own goroutine calls this.
func (w *Worker) tryDequeue() (*Client, bool) {
	select {
	case c := <-w.handoff:
		return c, true
	default:
		return nil, false
	}
}

// AddToList is a migration primitive: it adjusts membership and ref count
// without touching the socket or readiness set.
func (w *Worker) AddToList(c *Client) {
	c.addRef()
	c.owningPool.Store(w)
	w.clients = append(w.clients, c)
	w.size.Add(1)
}

// RemoveFromList is AddToList's inverse — membership and ref count only.
func (w *Worker) RemoveFromList(c *Client) bool {
	for i, existing := range w.clients {
		if existing == c {
			w.clients = append(w.clients[:i], w.clients[i+1:]...)
			w.size.Add(-1)
			c.release()
			if c.owningPool.Load() == w {
				c.owningPool.Store(nil)
			}
			return true
		}
	}
	return false
}

// CloseConnection removes c from the client list, deregisters its socket
// from the readiness set, and closes it. Idempotent: a client that is not
// present returns 0 and mutates nothing, matching spec.md §8.
func (w *Worker) CloseConnection(c *Client) int {
	return w.closeConnectionWithReason(c, "explicit")
}

func (w *Worker) closeConnectionWithReason(c *Client, reason string) int {
	found := false
	for i, existing := range w.clients {
		if existing == c {
			w.clients = append(w.clients[:i], w.clients[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return 0
	}

	w.size.Add(-1)
	_ = w.poller.Deregister(c.Socket)
	_ = c.Socket.Close()
	c.release()
	if c.owningPool.Load() == w {
		c.owningPool.Store(nil)
	}
	w.metrics.ConnectionClosed(reason)
	return 1
}

// ServeForever is the worker's readiness loop (spec.md §4.2). It runs
// until ctx is canceled or running is cleared by Shutdown.
func (w *Worker) ServeForever(ctx context.Context) {
	if w.logger != nil {
		w.logger.Info("worker started", zap.Int("worker", w.ID), zap.String("name", w.Name))
	}

	buf := make([]byte, w.recvBufSize)

	for {
		w.checkNewConnections()

		events, err := w.poller.Wait(ctx, w.maxEvents, w.waitTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if w.logger != nil {
				w.logger.Warn("readiness wait error", zap.Int("worker", w.ID), zap.Error(err))
			}
		}

		for _, ev := range events {
			w.handleEvent(ctx, ev, buf)
		}

		if w.UpdateFunc != nil {
			w.UpdateFunc(ctx)
		}

		if !w.running.Load() || ctx.Err() != nil {
			break
		}
	}

	if w.logger != nil {
		w.logger.Info("worker stopped", zap.Int("worker", w.ID), zap.String("name", w.Name))
	}
}

// checkNewConnections drains the handoff channel, registering each client
// on the readiness set and appending it to the client list — spec.md's
// Pending → Active transition.
func (w *Worker) checkNewConnections() {
	for {
		c, ok := w.tryDequeue()
		if !ok {
			return
		}

		if err := w.poller.Register(c.Socket, []netpoll.EventType{netpoll.Readable}); err != nil {
			if w.logger != nil {
				w.logger.Warn("failed to register client socket",
					zap.Int("worker", w.ID), zap.Uint64("client_id", c.ID), zap.Error(err))
			}
			_ = c.Socket.Close()
			c.release()
			if c.owningPool.Load() == w {
				c.owningPool.Store(nil)
			}
			continue
		}

		w.clients = append(w.clients, c)
		w.size.Add(1)

		if w.logger != nil {
			w.logger.Info("connection registered",
				zap.Int("worker", w.ID), zap.Uint64("client_id", c.ID),
				zap.Stringer("remote_addr", c.RemoteAddr))
		}
	}
}

// findClient resolves a ready socket to its Client via a linear scan, per
// spec.md §4.2's explicit allowance for the pool sizes this design
// targets.
func (w *Worker) findClient(ev netpoll.Event) *Client {
	for _, c := range w.clients {
		if c.Socket == ev.Conn {
			return c
		}
	}
	return nil
}

func (w *Worker) handleEvent(ctx context.Context, ev netpoll.Event, buf []byte) {
	c := w.findClient(ev)
	if c == nil {
		return // already closed by a prior event in this same batch
	}

	if ev.Type != netpoll.Readable {
		if w.logger != nil {
			w.logger.Debug("non-readable event, closing connection",
				zap.Int("worker", w.ID), zap.Uint64("client_id", c.ID), zap.Error(ev.Err))
		}
		w.closeConnectionWithReason(c, "non_readable")
		return
	}

	n, err := c.Socket.Read(buf)
	if n == 0 && errors.Is(err, io.EOF) {
		// recv()==0 is EOF on a modern readiness backend, per spec.md §8 —
		// enforced explicitly here since a plain Read returning (0, io.EOF)
		// would otherwise look like any other recv error.
		if w.logger != nil {
			w.logger.Debug("connection closed by peer",
				zap.Int("worker", w.ID), zap.Uint64("client_id", c.ID))
		}
		w.closeConnectionWithReason(c, "peer_closed")
		return
	}
	if err != nil {
		if w.logger != nil {
			w.logger.Error("recv error",
				zap.Int("worker", w.ID), zap.Uint64("client_id", c.ID), zap.Error(err))
		}
		w.closeConnectionWithReason(c, "recv_error")
		return
	}

	if n >= w.recvBufSize {
		if w.logger != nil {
			w.logger.Warn("oversized frame, closing connection",
				zap.Int("worker", w.ID), zap.Uint64("client_id", c.ID), zap.Int("bytes", n))
		}
		w.closeConnectionWithReason(c, "oversized_frame")
		return
	}

	c.RequestCount.Add(1)
	packet := &Packet{Data: buf[:n]}

	if w.handler != nil {
		if herr := w.handler(ctx, c, packet); herr != nil {
			if w.logger != nil {
				w.logger.Error("handler failed, closing connection",
					zap.Int("worker", w.ID), zap.Uint64("client_id", c.ID), zap.Error(herr))
			}
			w.closeConnectionWithReason(c, "handler_error")
			return
		}
	}

	// The connection stays open: resume the poller's readability probe for
	// it now that this Read is complete, so the probe's next SetReadDeadline
	// can't race this call's Read.
	_ = w.poller.Rearm(c.Socket)
}

// Shutdown clears running, closes every still-registered client, and
// releases the readiness set. It returns the number of clients closed.
func (w *Worker) Shutdown() int {
	w.running.Store(false)

	closed := 0
	for _, c := range append([]*Client(nil), w.clients...) {
		closed += w.closeConnectionWithReason(c, "shutdown")
	}

	_ = w.poller.Close()

	if w.logger != nil {
		w.logger.Info("worker shut down", zap.Int("worker", w.ID), zap.Int("closed", closed))
	}
	return closed
}
