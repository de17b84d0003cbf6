package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diffrelay"

var (
	// Registry is a dedicated Prometheus registry for all diffrelay metrics.
	Registry = prometheus.NewRegistry()

	// RequestDuration measures engine execution time per operation.
	RequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_ms",
			Help:      "Duration of diff/patch requests in milliseconds",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"op"}, // diff | patch
	)

	// RequestsTotal counts requests by operation and outcome.
	RequestsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of diff/patch requests",
		},
		[]string{"op", "outcome"}, // outcome: ok | corrupt | internal | rejected
	)

	// InFlight gauges requests submitted but not yet delivered.
	InFlight = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Requests currently retained by the dispatcher",
		},
	)

	// RetainedBytes gauges input buffer bytes held alive for in-flight requests.
	RetainedBytes = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retained_input_bytes",
			Help:      "Input buffer bytes retained until completion delivery",
		},
	)

	// OutputBytesTotal accumulates bytes handed to callers on success.
	OutputBytesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Cumulative output bytes transferred to callers",
		},
		[]string{"op"},
	)

	// Up is a liveness gauge for the service.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the service is running",
		},
	)
)

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
	Up.Set(1)
}

// ObserveRequest records timing and outcome counters for one request.
func ObserveRequest(start time.Time, op, outcome string) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	RequestDuration.WithLabelValues(op).Observe(elapsed)
	RequestsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveRejected counts a request refused before background submission.
func ObserveRejected(op string) {
	RequestsTotal.WithLabelValues(op, "rejected").Inc()
}

// AddRetained adjusts the retained-bytes gauge; pass a negative delta on release.
func AddRetained(delta int64) {
	RetainedBytes.Add(float64(delta))
}

// AddOutput accumulates output bytes delivered to a caller.
func AddOutput(op string, n int) {
	if n <= 0 {
		return
	}
	OutputBytesTotal.WithLabelValues(op).Add(float64(n))
}

// Serve starts the /metrics HTTP endpoint on the provided address.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = log.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: addr, Handler: mux}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Printf("[metrics] Prometheus endpoint listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}

	return err
}
