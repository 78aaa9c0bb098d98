package pool

import "time"

// Configuration inputs named in spec.md §6. Only acceptorWaitTimeout can be
// overridden per-Acceptor (WithAcceptorWaitTimeout); the others are fixed.
const (
	handoffQueueCapacity = 100
	recvBufferSize       = 4096 * 10 // 40960 bytes
	maxEventsPerWait     = 20
	acceptorWaitTimeout  = 10 * time.Second
	workerWaitTimeout    = 500 * time.Millisecond

	// shutdownGracePeriod is phase 1 of Acceptor.Shutdown: the time given
	// to every worker loop to observe its cleared running flag and exit
	// before phase 2 forces their sockets closed.
	shutdownGracePeriod = 2 * time.Second

	// listenBacklogHint documents spec.md's literal backlog=5; the Go
	// stdlib does not expose listen(2)'s backlog parameter, so this value
	// is not passed to a syscall — it is kept as a named constant so the
	// intent is visible and any future platform-specific listener
	// construction has a single place to wire it in.
	listenBacklogHint = 5
)
