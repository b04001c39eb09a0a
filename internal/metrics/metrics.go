// Package metrics exposes chunk-locker's Prometheus instrumentation: buffer
// pool occupancy, chunker throughput, pipeline stage counters, and periodic
// host resource samples.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge/histogram chunk-locker registers.
type Metrics struct {
	gatherer         prometheus.Gatherer // reg passed to New, if it can be gathered
	chunksProduced   *prometheus.CounterVec
	chunkBytes       *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	stageErrors      *prometheus.CounterVec
	poolOutstanding  prometheus.Gauge
	poolCapacity     prometheus.Gauge
	dedupHits        prometheus.Counter
	storeBytesTotal  *prometheus.CounterVec
	hostCPUPercent   prometheus.Gauge
	hostMemPercent   prometheus.Gauge
	hostDiskPercent  prometheus.Gauge
	hostLoadAverage1 prometheus.Gauge
}

// New registers chunk-locker's metrics against reg and returns the handle
// used to record them. cmd/chunklocker passes its own prometheus.NewRegistry(),
// and tests do the same to avoid collisions between runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		chunksProduced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunklocker_chunks_produced_total",
			Help: "Total number of chunks produced by the chunker, by snapshot.",
		}, []string{"snapshot"}),
		chunkBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunklocker_chunk_bytes_total",
			Help: "Total raw bytes chunked, by snapshot.",
		}, []string{"snapshot"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunklocker_stage_duration_seconds",
			Help:    "Duration of one pipeline stage processing one chunk.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		stageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunklocker_stage_errors_total",
			Help: "Total errors raised by a pipeline stage.",
		}, []string{"stage"}),
		poolOutstanding: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunklocker_pool_outstanding_buffers",
			Help: "Number of buffer pool slots currently checked out.",
		}),
		poolCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunklocker_pool_capacity_buffers",
			Help: "Total number of buffer pool slots.",
		}),
		dedupHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunklocker_dedup_hits_total",
			Help: "Total chunks skipped because their content hash was already in the catalog.",
		}),
		storeBytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunklocker_store_bytes_total",
			Help: "Total bytes written to the object store, by operation (put/get).",
		}, []string{"operation"}),
		hostCPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunklocker_host_cpu_percent",
			Help: "Host CPU utilization percent sampled during a snapshot run.",
		}),
		hostMemPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunklocker_host_memory_percent",
			Help: "Host memory utilization percent sampled during a snapshot run.",
		}),
		hostDiskPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunklocker_host_disk_percent",
			Help: "Disk utilization percent of the catalog/store root, sampled during a snapshot run.",
		}),
		hostLoadAverage1: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunklocker_host_load_average_1m",
			Help: "Host 1-minute load average sampled during a snapshot run.",
		}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

func (m *Metrics) RecordChunk(snapshot string, size int) {
	m.chunksProduced.WithLabelValues(snapshot).Inc()
	m.chunkBytes.WithLabelValues(snapshot).Add(float64(size))
}

func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) RecordStageError(stage string) {
	m.stageErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) SetPoolOccupancy(outstanding, capacity int) {
	m.poolOutstanding.Set(float64(outstanding))
	m.poolCapacity.Set(float64(capacity))
}

func (m *Metrics) RecordDedupHit() {
	m.dedupHits.Inc()
}

func (m *Metrics) RecordStoreBytes(operation string, n int64) {
	m.storeBytesTotal.WithLabelValues(operation).Add(float64(n))
}

func (m *Metrics) SetHostStats(s HostStats) {
	m.hostCPUPercent.Set(s.CPUPercent)
	m.hostMemPercent.Set(s.MemoryPercent)
	m.hostDiskPercent.Set(s.DiskUsagePercent)
	m.hostLoadAverage1.Set(s.LoadAverage1)
}

// Handler returns the HTTP handler serving metrics in the Prometheus
// exposition format, gathered from the registry passed to New (or from the
// default gatherer when that registry cannot be gathered).
func (m *Metrics) Handler() http.Handler {
	if m.gatherer != nil {
		return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
