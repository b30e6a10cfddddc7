// Package metrics exports Prometheus metrics for release runs. The
// Observer plugs into the graph driver; Handler serves the standard
// /metrics endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relpipe/relpipe/graph"
)

// Observer records run, node, and unit outcomes as Prometheus metrics.
type Observer struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	runsRunning  prometheus.Gauge
	nodeDuration *prometheus.HistogramVec
	nodesTotal   *prometheus.CounterVec
	unitsTotal   *prometheus.CounterVec
}

var _ graph.Observer = (*Observer)(nil)

// NewObserver creates the metric set on its own registry.
func NewObserver() *Observer {
	o := &Observer{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relpipe_runs_total",
			Help: "Release runs by final status.",
		}, []string{"graph", "status"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relpipe_runs_running",
			Help: "Release runs currently in progress.",
		}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relpipe_node_duration_seconds",
			Help:    "Node execution time.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"node"}),
		nodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relpipe_nodes_total",
			Help: "Node outcomes by status.",
		}, []string{"node", "status"}),
		unitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relpipe_units_total",
			Help: "Matrix unit outcomes.",
		}, []string{"node", "outcome"}),
	}
	o.registry.MustRegister(o.runsTotal, o.runsRunning, o.nodeDuration, o.nodesTotal, o.unitsTotal)
	return o
}

// Handler serves the metrics over HTTP.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (o *Observer) Registry() *prometheus.Registry { return o.registry }

// Serve runs a metrics HTTP server on addr until the context is done.
func (o *Observer) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", o.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

func (o *Observer) BeforeRun(ctx context.Context, runID, graphName string, inputs map[string]string) error {
	o.runsRunning.Inc()
	return nil
}

func (o *Observer) AfterRun(ctx context.Context, runID string, result *graph.RunResult, err error) error {
	o.runsRunning.Dec()
	status := string(graph.StatusSucceeded)
	if err != nil {
		status = string(graph.StatusFailed)
	}
	o.runsTotal.WithLabelValues(result.Graph, status).Inc()
	return nil
}

func (o *Observer) BeforeNode(ctx context.Context, runID, node string) error { return nil }

func (o *Observer) AfterNode(ctx context.Context, runID string, res *graph.NodeResult) error {
	o.nodesTotal.WithLabelValues(res.Name, string(res.Status)).Inc()
	if res.Status == graph.StatusSucceeded || res.Status == graph.StatusFailed {
		o.nodeDuration.WithLabelValues(res.Name).Observe(res.Duration.Seconds())
	}
	return nil
}

func (o *Observer) AfterUnit(ctx context.Context, runID, node string, unit graph.UnitResult) error {
	outcome := "succeeded"
	if unit.Err != nil {
		outcome = "failed"
	}
	o.unitsTotal.WithLabelValues(node, outcome).Inc()
	return nil
}
