package pool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/systemli/connd/netpoll"
)

// Acceptor (spec.md's TcpConnectionAcceptor) owns the listen socket and the
// set of workers new connections are dispatched to.
type Acceptor struct {
	listener    *net.TCPListener
	workers     []*Worker
	serverStart time.Time
	acceptRate  float64 // accepts/sec; <=0 means unlimited
	waitTimeout time.Duration

	// running gates dispatch in the accept loop. Shutdown clears it before
	// doing anything else, so Run can never hand a freshly accepted
	// connection to a worker that is about to (or has already) observed
	// its own running flag go false and exit without draining it.
	running atomic.Bool

	handler Handler
	logger  *zap.Logger
	metrics Metrics

	connectionCount atomic.Uint64
	mu              sync.Mutex // guards connections during Shutdown's sweep
	connections     []*Client  // acceptor-goroutine-only except during Shutdown
}

// NewAcceptor binds and listens on bindIP:port and constructs workerCount
// workers. No worker goroutine is actually started until Run is called —
// construction only builds the Worker values, so the 200ms spawn-sleep
// spec.md §9 flags as a source workaround for a reference-capture race
// has no Go analogue: each *Worker is a plain pointer handed to its own
// goroutine later, never shared via a mutable reference during spawn.
func NewAcceptor(bindIP string, port int, workerCount int, opts ...Option) (*Acceptor, error) {
	if workerCount < 1 {
		return nil, fmt.Errorf("pool: worker count must be >= 1, got %d", workerCount)
	}

	addr := &net.TCPAddr{IP: net.ParseIP(bindIP), Port: port}
	ln, err := net.ListenTCP("tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("pool: listen on %s:%d: %w", bindIP, port, err)
	}

	a := &Acceptor{
		listener:    ln,
		serverStart: time.Now(),
		waitTimeout: acceptorWaitTimeout,
		logger:      zap.NewNop(),
		metrics:     noopMetrics{},
	}
	a.running.Store(true)
	for _, opt := range opts {
		opt(a)
	}

	a.workers = make([]*Worker, workerCount)
	for i := 0; i < workerCount; i++ {
		w := newWorker(i, a.handler, a.logger)
		w.metrics = a.metrics
		a.workers[i] = w
	}

	return a, nil
}

// Workers returns the acceptor's worker set (for tests/diagnostics).
func (a *Acceptor) Workers() []*Worker { return a.workers }

// Run spawns every worker's loop and drives the accept loop until ctx is
// canceled. It returns the error, if any, that stopped the accept loop —
// a canceled ctx returns nil.
func (a *Acceptor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, w := range a.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.ServeForever(ctx)
		}(w)
	}
	defer wg.Wait()

	for {
		if ctx.Err() != nil || !a.running.Load() {
			return nil
		}

		deadline := time.Now().Add(a.waitTimeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		if err := a.listener.SetDeadline(deadline); err != nil {
			if ctx.Err() != nil || !a.running.Load() {
				return nil // Shutdown closed the listener out from under us
			}
			return fmt.Errorf("pool: set listener deadline: %w", err)
		}

		conn, err := a.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || !a.running.Load() {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue // readiness wait elapsed with nothing ready
			}
			a.logger.Error("accept failed", zap.Error(err))
			continue
		}

		// Shutdown may have flipped running between Accept unblocking and
		// this check; never dispatch to a worker that could already be
		// tearing down.
		if !a.running.Load() {
			_ = conn.Close()
			return nil
		}

		a.handleNewConnection(conn)
	}
}

// handleNewConnection implements spec.md §4.3's eight steps.
func (a *Acceptor) handleNewConnection(conn net.Conn) {
	start := time.Now()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	remoteAddr := conn.RemoteAddr()
	// Wrap in netpoll.Conn so the worker's poller can probe readability
	// without consuming bytes the worker will itself read later — see
	// netpoll.Conn's doc comment.
	wrapped := netpoll.NewConn(conn)

	id := a.connectionCount.Load()
	client := newClient(wrapped, remoteAddr, id)
	client.addRef() // the acceptor's "all connections" list reference

	a.mu.Lock()
	a.connections = append(a.connections, client)
	a.mu.Unlock()

	worker := a.leastLoaded()
	client.owningPool.Store(worker)

	a.metrics.ConnectionAccepted()

	if err := worker.AddNewConnection(client); err != nil {
		a.metrics.ConnectionDropped()
		a.logger.Warn("dropping connection: handoff queue full",
			zap.Uint64("client_id", id), zap.Int("worker", worker.ID))
	} else {
		a.logger.Info("new connection accepted",
			zap.Uint64("client_id", id), zap.Int("worker", worker.ID),
			zap.Stringer("remote_addr", client.RemoteAddr))
	}

	a.connectionCount.Add(1)

	if a.acceptRate > 0 {
		elapsedMs := time.Since(start).Milliseconds()
		sleepMs := int64(1000/a.acceptRate) - elapsedMs
		if sleepMs > 0 {
			time.Sleep(time.Duration(sleepMs) * time.Millisecond)
		}
	}
}

// leastLoaded scans every worker and returns the one with the smallest
// size, ties broken by lowest index — spec.md §8's testable property.
func (a *Acceptor) leastLoaded() *Worker {
	best := a.workers[0]
	bestSize := best.Size()
	for _, w := range a.workers[1:] {
		if s := w.Size(); s < bestSize {
			best, bestSize = w, s
		}
	}
	return best
}

// Shutdown runs spec.md §4.3's two-phase teardown: clear every worker's
// running flag and give them shutdownGracePeriod to observe it and exit,
// then force-close whatever each worker still holds and sweep the
// acceptor's own connections list. It returns the total clients closed by
// worker shutdown and the number of clients left with refCount > 0 at the
// final sweep (per spec.md §9's decision to report leaks rather than
// silently drop or force-close them — see DESIGN.md's Open Questions).
//
// The accept loop is stopped first, before any worker's running flag is
// touched: clearing a.running and closing the listener guarantees Run can
// never hand a new connection to a worker during the grace sleep below,
// which would otherwise risk that worker exiting its loop without ever
// draining the handoff slot it was just given.
func (a *Acceptor) Shutdown() (closed int, leaked int) {
	a.running.Store(false)
	_ = a.listener.Close()

	for _, w := range a.workers {
		w.running.Store(false)
	}
	time.Sleep(shutdownGracePeriod)

	for _, w := range a.workers {
		closed += w.Shutdown()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	remaining := a.connections[:0]
	for _, c := range a.connections {
		c.release() // release the acceptor's own "all connections" reference
		if c.RefCount() <= 0 {
			continue // eligible for destruction; drop from the list
		}
		leaked++
		remaining = append(remaining, c)
	}
	a.connections = remaining

	if leaked > 0 {
		a.logger.Warn("shutdown complete with references outstanding",
			zap.Int("closed", closed), zap.Int("leaked", leaked))
	} else {
		a.logger.Info("shutdown complete", zap.Int("closed", closed))
	}
	return closed, leaked
}
