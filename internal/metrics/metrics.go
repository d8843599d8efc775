// Package metrics is process-boundary plumbing: it exposes the pipeline's
// operational counters and gauges over a Prometheus-compatible HTTP
// endpoint bound to METRICS_PORT. Only the cmd/ entrypoints import it —
// the pipeline packages (fixproc, flighttracker, geofence, agl) declare
// their instruments as single-method interfaces, which this registry's
// prometheus instruments happen to satisfy. Instruments register against
// the package's own registry rather than the global default, so tests can
// spin up an isolated registry per case.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the counters and gauges the pipeline stages update as
// they process fixes, router packets, and AGL lookups.
type Registry struct {
	reg *prometheus.Registry
	mux *http.ServeMux

	FramesIngested         *prometheus.CounterVec
	FramesInvalid          *prometheus.CounterVec
	FixesEmitted           prometheus.Counter
	FixesSkippedNoOnGround prometheus.Counter
	FlightsOpened          prometheus.Counter
	FlightsClosed          prometheus.Counter
	GeofenceExits          prometheus.Counter
	QueueDepth             prometheus.Gauge
	ElevationBatchSize     prometheus.Histogram
}

// New constructs a Registry with all instruments registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		FramesIngested: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "soar_frames_ingested_total",
			Help: "Number of wire frames read from upstream endpoints, by source.",
		}, []string{"source"}),
		FramesInvalid: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "soar_frames_invalid_total",
			Help: "Number of malformed frames dropped without a connection reset, by source.",
		}, []string{"source"}),
		FixesEmitted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "soar_fixes_emitted_total",
			Help: "Number of fixes emitted by the accumulator.",
		}),
		FixesSkippedNoOnGround: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "soar_fixes_skipped_no_on_ground_total",
			Help: "Number of otherwise-valid positions dropped because on-ground status is still unknown.",
		}),
		FlightsOpened: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "soar_flights_opened_total",
			Help: "Number of flights opened by the flight tracker.",
		}),
		FlightsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "soar_flights_closed_total",
			Help: "Number of flights closed by the flight tracker.",
		}),
		GeofenceExits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "soar_geofence_exits_total",
			Help: "Number of geofence exit events emitted.",
		}),
		QueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "soar_queue_depth_records",
			Help: "Current combined in-memory and on-disk record count in the ingest queue.",
		}),
		ElevationBatchSize: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "soar_elevation_batch_size",
			Help:    "Size of elevation batches flushed to storage.",
			Buckets: []float64{1, 10, 25, 50, 100},
		}),
	}
	r.mux = http.NewServeMux()
	r.mux.Handle("/metrics", r.Handler())
	return r
}

// Handler returns the HTTP handler serving this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Mux exposes the registry's serve mux so callers can attach additional
// routes (debug/admin endpoints) before Serve is called.
func (r *Registry) Mux() *http.ServeMux {
	return r.mux
}

// Serve starts an HTTP server exposing /metrics, plus any routes attached
// via Mux, on addr until ctx is cancelled.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: r.mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics: serve %s: %w", addr, err)
		}
		return nil
	}
}
