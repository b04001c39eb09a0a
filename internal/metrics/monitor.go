package metrics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats is one sample of host resource utilization.
type HostStats struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskUsagePercent float64
	LoadAverage1     float64
}

// HostMonitor samples host resource utilization on an interval for as long
// as a snapshot run is active, pushing each sample into a Metrics instance.
type HostMonitor struct {
	logger   *slog.Logger
	metrics  *Metrics
	diskPath string
	interval time.Duration

	close chan struct{}
	wg    sync.WaitGroup

	mu    sync.RWMutex
	stats HostStats
}

// NewHostMonitor creates a monitor that samples diskPath's usage (the
// store/catalog root is the natural choice) every interval.
func NewHostMonitor(logger *slog.Logger, m *Metrics, diskPath string, interval time.Duration) *HostMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HostMonitor{
		logger:   logger.With("component", "host_monitor"),
		metrics:  m,
		diskPath: diskPath,
		interval: interval,
		close:    make(chan struct{}),
	}
}

func (hm *HostMonitor) Start() {
	hm.wg.Add(1)
	go hm.run()
}

func (hm *HostMonitor) Stop() {
	close(hm.close)
	hm.wg.Wait()
}

// Stats returns the most recently collected sample.
func (hm *HostMonitor) Stats() HostStats {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.stats
}

func (hm *HostMonitor) run() {
	defer hm.wg.Done()

	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	hm.collect()
	for {
		select {
		case <-hm.close:
			return
		case <-ticker.C:
			hm.collect()
		}
	}
}

func (hm *HostMonitor) collect() {
	var stats HostStats

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	} else {
		hm.logger.Debug("failed to sample cpu", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	} else {
		hm.logger.Debug("failed to sample memory", "error", err)
	}

	path := hm.diskPath
	if path == "" {
		path = "/"
	}
	if d, err := disk.Usage(path); err == nil {
		stats.DiskUsagePercent = d.UsedPercent
	} else {
		hm.logger.Debug("failed to sample disk", "path", path, "error", err)
	}

	if l, err := load.Avg(); err == nil {
		stats.LoadAverage1 = l.Load1
	} else {
		hm.logger.Debug("failed to sample load average", "error", err)
	}

	hm.mu.Lock()
	hm.stats = stats
	hm.mu.Unlock()

	if hm.metrics != nil {
		hm.metrics.SetHostStats(stats)
	}
}
