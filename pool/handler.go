package pool

import "context"

// Packet is an opaque view over the bytes a worker read from one client in
// a single recv. The handler does not own the backing array and must not
// retain Data past its Handle call returning — the worker reuses the
// underlying buffer on its next iteration.
type Packet struct {
	Data []byte
}

// Handler is the injected, trusted request handler. It is invoked
// synchronously on the worker goroutine that owns c; a slow handler stalls
// that worker's other connections, exactly as spec.md §5 describes. A
// returned error closes c and is otherwise non-fatal to the worker.
type Handler func(ctx context.Context, c *Client, p *Packet) error
