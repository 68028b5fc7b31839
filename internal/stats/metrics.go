package stats

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// collector adapts Counters to prometheus.Collector without requiring the
// counters to know anything about Prometheus; it reads a fresh Snapshot on
// every scrape.
type collector struct {
	counters *Counters

	queued    *prometheus.Desc
	dequeued  *prometheus.Desc
	done      *prometheus.Desc
	errored   *prometheus.Desc
	skipped   *prometheus.Desc
	bytesIn   *prometheus.Desc
	bytesOut  *prometheus.Desc
	bandwidth *prometheus.Desc
}

func newCollector(counters *Counters) *collector {
	ns := "warcling"
	return &collector{
		counters:  counters,
		queued:    prometheus.NewDesc(ns+"_urls_queued_total", "URLs admitted into the frontier.", nil, nil),
		dequeued:  prometheus.NewDesc(ns+"_urls_dequeued_total", "URLs checked out for fetching.", nil, nil),
		done:      prometheus.NewDesc(ns+"_urls_done_total", "URLs fetched successfully.", nil, nil),
		errored:   prometheus.NewDesc(ns+"_urls_errored_total", "URLs that failed permanently.", nil, nil),
		skipped:   prometheus.NewDesc(ns+"_urls_skipped_total", "URLs skipped by policy (robots, filters).", nil, nil),
		bytesIn:   prometheus.NewDesc(ns+"_bytes_in_total", "Bytes read from the network.", nil, nil),
		bytesOut:  prometheus.NewDesc(ns+"_bytes_out_total", "Bytes written to the network.", nil, nil),
		bandwidth: prometheus.NewDesc(ns+"_bandwidth_bytes_per_second", "Trailing one-second download rate.", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queued
	ch <- c.dequeued
	ch <- c.done
	ch <- c.errored
	ch <- c.skipped
	ch <- c.bytesIn
	ch <- c.bytesOut
	ch <- c.bandwidth
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.counters.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.CounterValue, float64(snap.Queued))
	ch <- prometheus.MustNewConstMetric(c.dequeued, prometheus.CounterValue, float64(snap.Dequeued))
	ch <- prometheus.MustNewConstMetric(c.done, prometheus.CounterValue, float64(snap.Done))
	ch <- prometheus.MustNewConstMetric(c.errored, prometheus.CounterValue, float64(snap.Errored))
	ch <- prometheus.MustNewConstMetric(c.skipped, prometheus.CounterValue, float64(snap.Skipped))
	ch <- prometheus.MustNewConstMetric(c.bytesIn, prometheus.CounterValue, float64(snap.BytesIn))
	ch <- prometheus.MustNewConstMetric(c.bytesOut, prometheus.CounterValue, float64(snap.BytesOut))
	ch <- prometheus.MustNewConstMetric(c.bandwidth, prometheus.GaugeValue, float64(snap.Bandwidth))
}

// ServeMetrics starts a /metrics endpoint exposing counters on addr and
// blocks until ctx is cancelled, at which point it shuts the server down.
// Callers run it in its own goroutine.
func ServeMetrics(ctx context.Context, addr string, counters *Counters) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(counters))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return server.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
