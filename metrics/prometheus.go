package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
	"github.com/siddontang/go-log/log"
)

const DefaultFlushInterval = 10 * time.Second

// PrometheusServer periodically copies a go-metrics registry into
// prometheus gauges and serves them on /metrics.
type PrometheusServer struct {
	addr   string
	server *http.Server
	ctx    context.Context
	cancel context.CancelFunc

	namespace     string
	subsystem     string
	registry      metrics.Registry
	promRegistry  *prometheus.Registry
	flushInterval time.Duration

	mu     sync.Mutex
	gauges map[string]prometheus.Gauge
}

// NewPrometheusServer returns nil when addr is empty.
func NewPrometheusServer(addr, cluster string, r metrics.Registry, flushInterval time.Duration) *PrometheusServer {
	if len(addr) == 0 {
		return nil
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	p := &PrometheusServer{
		addr:          addr,
		namespace:     "dbcluster",
		subsystem:     flattenKey(cluster),
		registry:      r,
		promRegistry:  prometheus.NewRegistry(),
		flushInterval: flushInterval,
		gauges:        make(map[string]prometheus.Gauge),
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	p.server = &http.Server{Addr: addr, Handler: mux}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

func (ps *PrometheusServer) Handler() http.Handler {
	return promhttp.HandlerFor(ps.promRegistry, promhttp.HandlerOpts{})
}

func flattenKey(key string) string {
	key = strings.Replace(key, " ", "_", -1)
	key = strings.Replace(key, ".", "_", -1)
	key = strings.Replace(key, "-", "_", -1)
	key = strings.Replace(key, "=", "_", -1)
	return key
}

func (ps *PrometheusServer) gaugeFromNameAndValue(name string, val float64) {
	key := fmt.Sprintf("%s_%s_%s", ps.namespace, ps.subsystem, name)
	g, ok := ps.gauges[key]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ps.namespace,
			Subsystem: ps.subsystem,
			Name:      flattenKey(name),
			Help:      name,
		})
		ps.promRegistry.MustRegister(g)
		ps.gauges[key] = g
	}
	g.Set(val)
}

// Run serves until Stop is called.
func (ps *PrometheusServer) Run() {
	go ps.updatePrometheusMetrics()
	err := ps.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Errorf("PrometheusServer ListenAndServe error,err:%s", err)
	}
}

func (ps *PrometheusServer) Stop() {
	ps.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ps.server.Shutdown(ctx); err != nil {
		log.Warnf("PrometheusServer shutdown error,err:%s", err)
	}
}

func (ps *PrometheusServer) updatePrometheusMetrics() {
	tick := time.NewTicker(ps.flushInterval)
	defer tick.Stop()
	for {
		select {
		case <-ps.ctx.Done():
			return
		case <-tick.C:
			ps.updatePrometheusMetricsOnce()
		}
	}
}

func (ps *PrometheusServer) updatePrometheusMetricsOnce() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.registry.Each(func(name string, i interface{}) {
		switch metric := i.(type) {
		case metrics.Counter:
			ps.gaugeFromNameAndValue(name, float64(metric.Count()))
		case metrics.Gauge:
			ps.gaugeFromNameAndValue(name, float64(metric.Value()))
		case metrics.GaugeFloat64:
			ps.gaugeFromNameAndValue(name, metric.Value())
		case metrics.Histogram:
			snap := metric.Snapshot()
			ps.gaugeFromNameAndValue(name+".mean", snap.Mean())
			ps.gaugeFromNameAndValue(name+".p95", snap.Percentile(0.95))
			ps.gaugeFromNameAndValue(name+".max", float64(snap.Max()))
		case metrics.Meter:
			snap := metric.Snapshot()
			ps.gaugeFromNameAndValue(name+".count", float64(snap.Count()))
			ps.gaugeFromNameAndValue(name+".rate1", snap.Rate1())
		case metrics.Timer:
			snap := metric.Snapshot()
			ps.gaugeFromNameAndValue(name+".count", float64(snap.Count()))
			ps.gaugeFromNameAndValue(name+".mean", snap.Mean())
			ps.gaugeFromNameAndValue(name+".p95", snap.Percentile(0.95))
		}
	})
}
