package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/systemli/connd/pool"
)

var (
	connectionsAcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connd_connections_accepted_total",
		Help: "Total number of connections accepted by the listener",
	})

	connectionsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connd_connections_dropped_total",
		Help: "Total number of connections dropped because a worker's handoff queue was full",
	})

	connectionsClosedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connd_connections_closed_total",
		Help: "Total number of connections closed, by reason",
	}, []string{"reason"})

	workerSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "connd_worker_size",
		Help: "Number of clients currently registered on a worker",
	}, []string{"worker"})

	handlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "connd_handler_duration_seconds",
		Help:    "Duration of handler invocations",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
	}, []string{"status"})

	healthCheckStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connd_health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	})
)

// promMetrics adapts the prometheus counters above to pool.Metrics.
type promMetrics struct{}

func (promMetrics) ConnectionAccepted() { connectionsAcceptedTotal.Inc() }
func (promMetrics) ConnectionDropped()  { connectionsDroppedTotal.Inc() }
func (promMetrics) ConnectionClosed(reason string) {
	connectionsClosedTotal.WithLabelValues(reason).Inc()
}

// startMetricsServer starts an HTTP server exposing /metrics, /health, and
// /ready, mirroring the teacher's StartMetricsServer. pollWorkerSizes feeds
// the worker_size gauge via a periodic poll since pool.Worker exposes no
// change notification.
func startMetricsServer(ctx context.Context, logger *zap.Logger, listenAddr string, workers []*pool.Worker) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		connectionsAcceptedTotal,
		connectionsDroppedTotal,
		connectionsClosedTotal,
		workerSize,
		handlerDuration,
		healthCheckStatus,
	)

	stopPoll := make(chan struct{})
	go pollWorkerSizes(ctx, stopPoll, workers)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(workers))

	server := &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		close(stopPoll)
		logger.Info("shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down metrics server", zap.Error(err))
		}
	}()

	logger.Info("metrics server started", zap.String("addr", listenAddr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", zap.Error(err))
	}
}

func pollWorkerSizes(ctx context.Context, stop <-chan struct{}, workers []*pool.Worker) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			for _, w := range workers {
				workerSize.WithLabelValues(w.Name).Set(float64(w.Size()))
			}
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// readyHandler reports ready once every worker has been constructed; there
// is no external dependency to probe, unlike the teacher's Userli-backed
// readiness check.
func readyHandler(workers []*pool.Worker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if len(workers) == 0 {
			healthCheckStatus.Set(0)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"unavailable"}`)
			return
		}
		healthCheckStatus.Set(1)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ready"}`)
	}
}
