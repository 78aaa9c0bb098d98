package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/markdingo/netstring"
	"go.uber.org/zap"

	"github.com/systemli/connd/pool"
)

// echoHandler is the bundled demo pool.Handler: it decodes each frame as a
// single netstring request, the same wire primitive the teacher's socketmap
// servers speak, and echoes the decoded payload back framed the same way.
// A request of "panic" is treated as a deliberate handler failure so the
// worker's isolate-one-connection behavior can be exercised by hand.
type echoHandler struct {
	logger *zap.Logger
	cache  *sessionCache // nil disables affinity tracking
}

func newEchoHandler(logger *zap.Logger, cache *sessionCache) *echoHandler {
	return &echoHandler{logger: logger, cache: cache}
}

func (h *echoHandler) Handle(ctx context.Context, c *pool.Client, p *pool.Packet) error {
	start := time.Now()

	decoder := netstring.NewDecoder(bytes.NewReader(p.Data))
	requestBytes, err := decoder.Decode()
	if err != nil {
		handlerDuration.WithLabelValues("decode_error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("connd: decode netstring frame: %w", err)
	}
	request := strings.TrimSpace(string(requestBytes))

	if h.cache != nil {
		h.recordAffinity(ctx, c)
	}

	if request == "panic" {
		handlerDuration.WithLabelValues("deliberate_failure").Observe(time.Since(start).Seconds())
		return fmt.Errorf("connd: deliberate failure requested by peer")
	}

	encoder := netstring.NewEncoder(c.Socket)
	if err := encoder.EncodeString(netstring.NoKey, request); err != nil {
		handlerDuration.WithLabelValues("write_error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("connd: write netstring response: %w", err)
	}

	handlerDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	h.logger.Debug("echoed frame",
		zap.Uint64("client_id", c.ID), zap.Int("bytes", len(request)))
	return nil
}

func (h *echoHandler) recordAffinity(ctx context.Context, c *pool.Client) {
	worker := c.OwningPool()
	if worker == nil {
		return
	}
	if err := h.cache.recordAffinity(ctx, c.RemoteAddr.String(), worker.Name); err != nil {
		h.logger.Warn("affinity cache update failed",
			zap.String("remote_addr", c.RemoteAddr.String()), zap.Error(err))
	}
}
