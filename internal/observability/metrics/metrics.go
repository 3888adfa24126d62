// Package metrics 基于 Prometheus 暴露 HTTP、支付、调度与 keeper 的指标。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "synapsepay"

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_request_errors_total",
		Help:      "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	paymentTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_transitions_total",
		Help:      "Payment and invoice state transitions by target state.",
	}, []string{"state"})

	paymentVolume = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_volume_lamports_total",
		Help:      "Lamports moved by settled payments, split into net and fee.",
	}, []string{"kind"})

	triggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_triggers_total",
		Help:      "Subscription trigger attempts by outcome.",
	}, []string{"outcome"})

	keeperScans = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keeper_scans_total",
		Help:      "Number of keeper scans executed.",
	})

	keeperEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keeper_enqueued_total",
		Help:      "Due subscriptions enqueued by the keeper.",
	})

	keeperScanLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "keeper_scan_duration_seconds",
		Help:      "Keeper scan duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests, httpErrors, httpLatency,
		paymentTransitions, paymentVolume,
		triggers,
		keeperScans, keeperEnqueued, keeperScanLatency,
	)
}

// Registry exposes the underlying registry, mainly for tests.
func Registry() *prometheus.Registry { return registry }

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObservePaymentTransition counts a transition into state.
func ObservePaymentTransition(state string) {
	paymentTransitions.WithLabelValues(state).Inc()
}

// ObserveSettlement adds the net and fee parts of a settled payment.
func ObserveSettlement(net, fee uint64) {
	paymentVolume.WithLabelValues("net").Add(float64(net))
	paymentVolume.WithLabelValues("fee").Add(float64(fee))
}

// ObserveTrigger counts a trigger attempt; outcome is "ok" or an error code.
func ObserveTrigger(outcome string) {
	triggers.WithLabelValues(outcome).Inc()
}

// ObserveKeeperScan records one keeper scan.
func ObserveKeeperScan(enqueued int, duration time.Duration) {
	keeperScans.Inc()
	keeperEnqueued.Add(float64(enqueued))
	keeperScanLatency.Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
