package pool

import "errors"

// ErrQueueFull is returned by Worker.AddNewConnection when the worker's
// handoff channel is at capacity. It is never fatal to the caller (the
// acceptor): the would-be connection is dropped and its raw socket closed.
var ErrQueueFull = errors.New("pool: handoff queue full")

// ErrNotReadable names the condition of a registered socket reporting
// something other than plain readability (hang-up, reset, or any other
// non-readable condition spec.md treats as an error event). The worker does
// not return or record this value; it closes such a connection with the
// "non_readable" metrics reason.
var ErrNotReadable = errors.New("pool: non-readable event")

// ErrOversizedFrame names the condition of a single recv filling the
// worker's entire receive buffer, per spec.md §4.2's oversized-frame rule.
// The worker does not return or record this value; it closes such a
// connection with the "oversized_frame" metrics reason.
var ErrOversizedFrame = errors.New("pool: oversized frame")
