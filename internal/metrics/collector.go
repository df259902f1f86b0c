package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Collector handles collection of system and sync-core metrics.
type Collector interface {
	CollectSystemMetrics() (*SystemMetrics, error)
	CollectRuntimeMetrics() (*RuntimeMetrics, error)

	// CollectSyncMetrics reports the current queue/engine snapshot via
	// whatever SyncMetricsProvider the caller registered.
	CollectSyncMetrics(ctx context.Context) (*SyncMetrics, error)
	SetSyncMetricsProvider(provider SyncMetricsProvider)

	StartBackgroundCollection(ctx context.Context, manager Manager, interval time.Duration)
	StopBackgroundCollection()

	IsHealthy() bool
}

// SystemMetrics holds system-level metrics.
type SystemMetrics struct {
	CPUUsagePercent     float64 `json:"cpu_usage_percent"`
	MemoryUsagePercent  float64 `json:"memory_usage_percent"`
	MemoryUsedBytes     int64   `json:"memory_used_bytes"`
	MemoryTotalBytes    int64   `json:"memory_total_bytes"`
	DiskUsagePercent    float64 `json:"disk_usage_percent"`
	DiskUsedBytes       int64   `json:"disk_used_bytes"`
	DiskTotalBytes      int64   `json:"disk_total_bytes"`
	OpenFileDescriptors int64   `json:"open_file_descriptors"`
	Timestamp           int64   `json:"timestamp"`
}

// RuntimeMetrics holds Go runtime metrics.
type RuntimeMetrics struct {
	GoVersion     string  `json:"go_version"`
	GoRoutines    int     `json:"goroutines"`
	Threads       int     `json:"threads"`
	GCPauses      int64   `json:"gc_pauses"`
	HeapAlloc     int64   `json:"heap_alloc"`
	HeapSys       int64   `json:"heap_sys"`
	HeapInuse     int64   `json:"heap_inuse"`
	HeapIdle      int64   `json:"heap_idle"`
	HeapReleased  int64   `json:"heap_released"`
	StackInuse    int64   `json:"stack_inuse"`
	StackSys      int64   `json:"stack_sys"`
	NextGC        int64   `json:"next_gc"`
	LastGC        int64   `json:"last_gc"`
	PauseTotalNs  int64   `json:"pause_total_ns"`
	NumGC         int64   `json:"num_gc"`
	NumForcedGC   int64   `json:"num_forced_gc"`
	GCCPUFraction float64 `json:"gc_cpu_fraction"`
	Timestamp     int64   `json:"timestamp"`
}

// SyncMetrics is a point-in-time view of the sync engine and queue,
// mirroring the fields W.getSyncStatus() exposes to application code.
type SyncMetrics struct {
	EngineState    string `json:"engine_state"`
	PendingCount   int64  `json:"pending_count"`
	FailedCount    int64  `json:"failed_count"`
	IsOnline       bool   `json:"is_online"`
	CloudConnected bool   `json:"cloud_connected"`
	LastSyncedAt   int64  `json:"last_synced_at"`
	Timestamp      int64  `json:"timestamp"`
}

// SyncMetricsProvider returns the current sync snapshot; wired to the
// engine's status accessor at startup.
type SyncMetricsProvider func() SyncMetrics

// collector implements the Collector interface
type collector struct {
	running      bool
	stopChan     chan struct{}
	interval     time.Duration
	startTime    time.Time
	dataDir      string
	syncProvider SyncMetricsProvider
}

// NewCollector creates a new metrics collector
func NewCollector(dataDir string) Collector {
	return &collector{
		stopChan:  make(chan struct{}),
		startTime: time.Now(),
		dataDir:   dataDir,
	}
}

// SetSyncMetricsProvider registers the snapshot source for CollectSyncMetrics.
func (c *collector) SetSyncMetricsProvider(provider SyncMetricsProvider) {
	c.syncProvider = provider
}

// CollectSystemMetrics collects system-level metrics
func (c *collector) CollectSystemMetrics() (*SystemMetrics, error) {
	memInfo, _ := mem.VirtualMemory()
	diskInfo, _ := disk.Usage(c.dataDir)

	metrics := &SystemMetrics{
		CPUUsagePercent:    c.getCPUUsage(),
		MemoryUsagePercent: memInfo.UsedPercent,
		MemoryUsedBytes:    int64(memInfo.Used),
		MemoryTotalBytes:   int64(memInfo.Total),
		Timestamp:          time.Now().Unix(),
	}
	if diskInfo != nil {
		metrics.DiskUsagePercent = diskInfo.UsedPercent
		metrics.DiskUsedBytes = int64(diskInfo.Used)
		metrics.DiskTotalBytes = int64(diskInfo.Total)
	}

	return metrics, nil
}

// CollectRuntimeMetrics collects Go runtime metrics
func (c *collector) CollectRuntimeMetrics() (*RuntimeMetrics, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	metrics := &RuntimeMetrics{
		GoVersion:     runtime.Version(),
		GoRoutines:    runtime.NumGoroutine(),
		Threads:       runtime.GOMAXPROCS(0),
		GCPauses:      int64(len(m.PauseNs)),
		HeapAlloc:     int64(m.HeapAlloc),
		HeapSys:       int64(m.HeapSys),
		HeapInuse:     int64(m.HeapInuse),
		HeapIdle:      int64(m.HeapIdle),
		HeapReleased:  int64(m.HeapReleased),
		StackInuse:    int64(m.StackInuse),
		StackSys:      int64(m.StackSys),
		NextGC:        int64(m.NextGC),
		LastGC:        int64(m.LastGC),
		PauseTotalNs:  int64(m.PauseTotalNs),
		NumGC:         int64(m.NumGC),
		NumForcedGC:   int64(m.NumForcedGC),
		GCCPUFraction: m.GCCPUFraction,
		Timestamp:     time.Now().Unix(),
	}

	return metrics, nil
}

// CollectSyncMetrics reports the registered provider's snapshot, or a zero
// value if none was registered yet.
func (c *collector) CollectSyncMetrics(ctx context.Context) (*SyncMetrics, error) {
	if c.syncProvider == nil {
		return &SyncMetrics{Timestamp: time.Now().Unix()}, nil
	}
	snap := c.syncProvider()
	snap.Timestamp = time.Now().Unix()
	return &snap, nil
}

// StartBackgroundCollection starts collecting metrics in the background
func (c *collector) StartBackgroundCollection(ctx context.Context, manager Manager, interval time.Duration) {
	if c.running {
		return
	}

	c.running = true
	c.interval = interval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.running = false
				return
			case <-c.stopChan:
				c.running = false
				return
			case <-ticker.C:
				c.collectAndReport(ctx, manager)
			}
		}
	}()
}

// StopBackgroundCollection stops background collection
func (c *collector) StopBackgroundCollection() {
	if !c.running {
		return
	}

	close(c.stopChan)
	c.running = false
}

// IsHealthy returns the health status of the collector
func (c *collector) IsHealthy() bool {
	return true
}

// collectAndReport collects metrics and reports them to the manager
func (c *collector) collectAndReport(ctx context.Context, manager Manager) {
	if sysMetrics, err := c.CollectSystemMetrics(); err == nil {
		manager.UpdateSystemMetrics(sysMetrics.CPUUsagePercent, sysMetrics.MemoryUsagePercent, sysMetrics.DiskUsagePercent)
	}

	if syncMetrics, err := c.CollectSyncMetrics(ctx); err == nil {
		manager.UpdateQueueMetrics(syncMetrics.PendingCount, syncMetrics.FailedCount)
		manager.UpdateEngineState(syncMetrics.EngineState, syncMetrics.IsOnline, syncMetrics.CloudConnected)
	}
}

func (c *collector) getCPUUsage() float64 {
	percentages, err := cpu.Percent(time.Second, false)
	if err != nil || len(percentages) == 0 {
		return 0.0
	}
	return percentages[0]
}

// Custom Prometheus Collector implementation so the raw system/runtime
// snapshot is also exposed under the metrics namespace as a Collector.

type prometheusCollector struct {
	metricsManager Manager
	systemMetrics  *prometheus.Desc
	runtimeMetrics *prometheus.Desc
}

// NewPrometheusCollector creates a new Prometheus collector
func NewPrometheusCollector(manager Manager) prometheus.Collector {
	return &prometheusCollector{
		metricsManager: manager,
		systemMetrics: prometheus.NewDesc(
			"matchops_syncd_system_info",
			"System information",
			[]string{"metric", "value"},
			nil,
		),
		runtimeMetrics: prometheus.NewDesc(
			"matchops_syncd_runtime_info",
			"Runtime information",
			[]string{"metric", "value"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector
func (pc *prometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.systemMetrics
	ch <- pc.runtimeMetrics
}

// Collect implements prometheus.Collector
func (pc *prometheusCollector) Collect(ch chan<- prometheus.Metric) {
	collector := NewCollector("")

	if sysMetrics, err := collector.CollectSystemMetrics(); err == nil {
		ch <- prometheus.MustNewConstMetric(
			pc.systemMetrics, prometheus.GaugeValue, sysMetrics.CPUUsagePercent,
			"cpu_usage_percent", "current",
		)
		ch <- prometheus.MustNewConstMetric(
			pc.systemMetrics, prometheus.GaugeValue, sysMetrics.MemoryUsagePercent,
			"memory_usage_percent", "current",
		)
	}

	if runtimeMetrics, err := collector.CollectRuntimeMetrics(); err == nil {
		ch <- prometheus.MustNewConstMetric(
			pc.runtimeMetrics, prometheus.GaugeValue, float64(runtimeMetrics.GoRoutines),
			"goroutines", "current",
		)
		ch <- prometheus.MustNewConstMetric(
			pc.runtimeMetrics, prometheus.GaugeValue, float64(runtimeMetrics.HeapAlloc),
			"heap_alloc_bytes", "current",
		)
	}
}
