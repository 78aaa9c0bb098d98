package pool

import (
	"time"

	"go.uber.org/zap"
)

// Option configures an Acceptor at construction time, the same
// functional-options discipline the teacher uses for Userli
// (WithClient/WithTransport/WithTimeout in userli.go).
type Option func(*Acceptor)

// WithHandler sets the request handler invoked by every worker. Required:
// an Acceptor constructed without one runs workers that read and discard
// frames.
func WithHandler(h Handler) Option {
	return func(a *Acceptor) { a.handler = h }
}

// WithLogger installs a *zap.Logger. Defaults to zap.NewNop() so the core
// library never forces a logging backend or output destination on its
// caller.
func WithLogger(l *zap.Logger) Option {
	return func(a *Acceptor) { a.logger = l }
}

// WithAcceptRate sets the maximum accepts/sec; <= 0 means unlimited.
func WithAcceptRate(rate float64) Option {
	return func(a *Acceptor) { a.acceptRate = rate }
}

// WithAcceptorWaitTimeout overrides the acceptor's readiness-wait timeout.
// Exposed primarily for tests that want faster shutdown turnaround.
func WithAcceptorWaitTimeout(d time.Duration) Option {
	return func(a *Acceptor) { a.waitTimeout = d }
}

// WithMetrics installs a Metrics sink. Defaults to a noop sink so the core
// library never forces a metrics backend on its caller.
func WithMetrics(m Metrics) Option {
	return func(a *Acceptor) { a.metrics = m }
}
