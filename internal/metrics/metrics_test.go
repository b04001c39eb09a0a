package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := <-ch
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("writing metric: %v", err)
	}
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	return pb.Gauge.GetValue()
}

func TestMetrics_RecordChunkAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordChunk("home", 1024)
	m.RecordChunk("home", 2048)

	got := counterValue(t, m.chunksProduced.WithLabelValues("home"))
	if got != 2 {
		t.Errorf("chunksProduced = %v, want 2", got)
	}
	gotBytes := counterValue(t, m.chunkBytes.WithLabelValues("home"))
	if gotBytes != 3072 {
		t.Errorf("chunkBytes = %v, want 3072", gotBytes)
	}
}

func TestMetrics_SetPoolOccupancy(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetPoolOccupancy(3, 16)

	if got := counterValue(t, m.poolOutstanding); got != 3 {
		t.Errorf("poolOutstanding = %v, want 3", got)
	}
	if got := counterValue(t, m.poolCapacity); got != 16 {
		t.Errorf("poolCapacity = %v, want 16", got)
	}
}

func TestMetrics_SetHostStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetHostStats(HostStats{CPUPercent: 42.5, MemoryPercent: 60, DiskUsagePercent: 10, LoadAverage1: 1.5})

	if got := counterValue(t, m.hostCPUPercent); got != 42.5 {
		t.Errorf("hostCPUPercent = %v, want 42.5", got)
	}
}
