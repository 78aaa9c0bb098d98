package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const affinityTTL = time.Hour

// sessionCache tracks which worker last served a given remote address, an
// optional worker-affinity hint the demo handler consults on every frame.
// It is not consulted by the dispatcher itself — spec.md's least-loaded
// selection stays authoritative; this only records the serving worker and
// can notify an external webhook on a miss. Hits and misses are not logged.
type sessionCache struct {
	client     *redis.Client
	webhookURL string
	httpClient *http.Client
	logger     *zap.Logger
}

func newSessionCache(addr, webhookURL string, logger *zap.Logger) *sessionCache {
	return &sessionCache{
		client:     redis.NewClient(&redis.Options{Addr: addr}),
		webhookURL: webhookURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
}

// affinityMiss is the JSON body POSTed to webhookURL when a remote address
// is served by a different worker than last time.
type affinityMiss struct {
	RemoteAddr string `json:"remote_addr"`
	FromWorker string `json:"from_worker"`
	ToWorker   string `json:"to_worker"`
}

func affinityKey(remoteAddr string) string {
	return fmt.Sprintf("connd:affinity:%s", remoteAddr)
}

// recordAffinity stores workerName as the last worker to serve remoteAddr.
// It returns only an error from the cache itself; the previous value is not
// returned. A changed worker triggers a
// best-effort webhook notification; failures there are logged, not
// returned, since affinity tracking is advisory.
func (c *sessionCache) recordAffinity(ctx context.Context, remoteAddr, workerName string) error {
	key := affinityKey(remoteAddr)

	prev, err := c.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("connd: session cache get: %w", err)
	}

	if err := c.client.Set(ctx, key, workerName, affinityTTL).Err(); err != nil {
		return fmt.Errorf("connd: session cache set: %w", err)
	}

	if prev != "" && prev != workerName {
		c.notifyMiss(ctx, remoteAddr, prev, workerName)
	}
	return nil
}

func (c *sessionCache) notifyMiss(ctx context.Context, remoteAddr, fromWorker, toWorker string) {
	if c.webhookURL == "" {
		return
	}

	body, err := json.Marshal(affinityMiss{RemoteAddr: remoteAddr, FromWorker: fromWorker, ToWorker: toWorker})
	if err != nil {
		c.logger.Warn("failed to marshal affinity miss payload", zap.Error(err))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("failed to build affinity webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("affinity webhook request failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("affinity webhook returned non-2xx", zap.Int("status", resp.StatusCode))
	}
}

func (c *sessionCache) Close() error {
	return c.client.Close()
}
