package main

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the runtime configuration for the connd binary, assembled from
// environment variables the same way the teacher's Config gathers
// USERLI_TOKEN/USERLI_BASE_URL/SOCKETMAP_LISTEN_ADDR.
type Config struct {
	// BindIP is the address the acceptor listens on.
	BindIP string

	// Port is the TCP port the acceptor listens on.
	Port int

	// Workers is the number of worker goroutines in the dispatch pool.
	Workers int

	// AcceptRate caps accepts/sec; <= 0 means unlimited.
	AcceptRate float64

	// AcceptorWaitTimeout bounds how long the accept loop waits for a
	// connection before re-checking its context.
	AcceptorWaitTimeout time.Duration

	// MetricsListenAddr is the address the Prometheus/health HTTP server
	// listens on.
	MetricsListenAddr string

	// LogLevel is the minimum zap level to emit ("debug", "info", "warn",
	// "error").
	LogLevel string

	// RedisAddr, if non-empty, enables the worker-affinity session cache.
	RedisAddr string

	// AffinityWebhookURL, if non-empty, is notified on every affinity miss.
	AffinityWebhookURL string
}

// NewConfig builds a Config from the environment, applying the same
// default-then-required-check discipline as the teacher's NewConfig.
func NewConfig() (*Config, error) {
	bindIP := os.Getenv("CONND_BIND_IP")
	if bindIP == "" {
		bindIP = "0.0.0.0"
	}

	port, err := envInt("CONND_PORT", 9000)
	if err != nil {
		return nil, err
	}

	workers, err := envInt("CONND_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		return nil, fmt.Errorf("CONND_WORKERS must be >= 1, got %d", workers)
	}

	acceptRate, err := envFloat("CONND_ACCEPT_RATE", -1)
	if err != nil {
		return nil, err
	}

	waitTimeoutMs, err := envInt("CONND_ACCEPT_WAIT_TIMEOUT_MS", 10000)
	if err != nil {
		return nil, err
	}

	metricsListenAddr := os.Getenv("CONND_METRICS_ADDR")
	if metricsListenAddr == "" {
		metricsListenAddr = ":9100"
	}

	logLevel := os.Getenv("CONND_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		BindIP:              bindIP,
		Port:                port,
		Workers:             workers,
		AcceptRate:          acceptRate,
		AcceptorWaitTimeout: time.Duration(waitTimeoutMs) * time.Millisecond,
		MetricsListenAddr:   metricsListenAddr,
		LogLevel:            logLevel,
		RedisAddr:           os.Getenv("CONND_REDIS_ADDR"),
		AffinityWebhookURL:  os.Getenv("CONND_AFFINITY_WEBHOOK_URL"),
	}, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid float %q: %w", key, v, err)
	}
	return f, nil
}
