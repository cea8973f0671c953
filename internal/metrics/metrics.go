// Package metrics exports lobby traffic and handshake outcomes to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/pregame/internal/util"
)

const namespace = "pregame"

// statsCollector reads util.Stats at scrape time, so the hot path only pays
// for atomic adds.
type statsCollector struct {
	datagramsSent *prometheus.Desc
	datagramsRecv *prometheus.Desc
	bytesSent     *prometheus.Desc
	bytesRecv     *prometheus.Desc
	dropped       *prometheus.Desc
	compressed    *prometheus.Desc
	participants  *prometheus.Desc
}

func newStatsCollector() *statsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &statsCollector{
		datagramsSent: desc("datagrams_sent_total", "Datagrams handed to the socket."),
		datagramsRecv: desc("datagrams_received_total", "Datagrams read from the socket."),
		bytesSent:     desc("sent_bytes_total", "Wire bytes sent, after compression."),
		bytesRecv:     desc("received_bytes_total", "Wire bytes received, before decompression."),
		dropped:       desc("dropped_datagrams_total", "Inbound datagrams discarded as malformed or unexpected."),
		compressed:    desc("compressed_datagrams_total", "Outbound datagrams sent compressed."),
		participants:  desc("participants", "Participants currently known to the local controller."),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := util.Stats
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.datagramsSent, s.DatagramsSent.Load())
	counter(c.datagramsRecv, s.DatagramsRecv.Load())
	counter(c.bytesSent, s.BytesSent.Load())
	counter(c.bytesRecv, s.BytesRecv.Load())
	counter(c.dropped, s.Dropped.Load())
	counter(c.compressed, s.Compressed.Load())
	ch <- prometheus.MustNewConstMetric(c.participants, prometheus.GaugeValue, float64(s.Participants.Load()))
}

// Metrics owns a registry with the traffic collector and the handshake
// outcome counter.
type Metrics struct {
	reg      *prometheus.Registry
	outcomes *prometheus.CounterVec
}

// New returns a fresh registry populated with the lobby metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newStatsCollector())

	return &Metrics{
		reg: reg,
		outcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Completed handshakes by role and outcome.",
		}, []string{"role", "outcome"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// RecordOutcome counts one finished handshake. outcome is "ready",
// "aborted", or an error class.
func (m *Metrics) RecordOutcome(role, outcome string) {
	m.outcomes.WithLabelValues(role, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
