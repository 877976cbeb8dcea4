// Package monitor aggregates runtime performance metrics: operation
// counters, gauges, and timing distributions, plus process-level memory
// and CPU figures for the stats snapshot.
package monitor

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
	"gonum.org/v1/gonum/stat"
)

// maxTimerSamples bounds the per-operation duration history.
const maxTimerSamples = 512

// TimerStats summarizes the recorded durations of one operation.
type TimerStats struct {
	Count int64   `json:"count"`
	AvgMs float64 `json:"avgMs"`
	MinMs float64 `json:"minMs"`
	MaxMs float64 `json:"maxMs"`
	P50Ms float64 `json:"p50Ms"`
	P95Ms float64 `json:"p95Ms"`
}

// ProcessStats carries process-level resource figures.
type ProcessStats struct {
	MemoryRSSBytes uint64  `json:"memoryRssBytes"`
	CPUPercent     float64 `json:"cpuPercent"`
	NumCPU         int     `json:"numCpu"`
}

// Stats is the full monitor snapshot.
type Stats struct {
	UptimeSeconds float64               `json:"uptimeSeconds"`
	Counters      map[string]int64      `json:"counters"`
	Gauges        map[string]float64    `json:"gauges"`
	Timers        map[string]TimerStats `json:"timers"`
	Process       ProcessStats          `json:"process"`
}

// PerfMonitor collects metrics behind a single mutex. It is shared
// process-wide and constructed once at boot.
type PerfMonitor struct {
	mu       sync.Mutex
	started  time.Time
	counters map[string]int64
	gauges   map[string]float64
	timers   map[string][]float64 // duration samples in milliseconds
	counts   map[string]int64     // total observations per timer
}

// New creates a monitor with its uptime clock started.
func New() *PerfMonitor {
	return &PerfMonitor{
		started:  time.Now(),
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
		timers:   make(map[string][]float64),
		counts:   make(map[string]int64),
	}
}

// Count adds delta to the named counter.
func (m *PerfMonitor) Count(name string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
}

// Gauge sets the named gauge.
func (m *PerfMonitor) Gauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

// Observe records one duration sample for the named operation.
func (m *PerfMonitor) Observe(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	samples := append(m.timers[name], float64(d.Milliseconds()))
	if len(samples) > maxTimerSamples {
		samples = samples[len(samples)-maxTimerSamples:]
	}
	m.timers[name] = samples
	m.counts[name]++
}

// Time runs fn and records its duration under name.
func (m *PerfMonitor) Time(name string, fn func()) {
	start := time.Now()
	fn()
	m.Observe(name, time.Since(start))
}

// Timer returns a stop function recording the elapsed time under name.
//
//	defer mon.Timer("detector_tick")()
func (m *PerfMonitor) Timer(name string) func() {
	start := time.Now()
	return func() { m.Observe(name, time.Since(start)) }
}

// Uptime reports time since construction.
func (m *PerfMonitor) Uptime() time.Duration {
	return time.Since(m.started)
}

// Snapshot assembles the full stats view.
func (m *PerfMonitor) Snapshot() Stats {
	m.mu.Lock()

	counters := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	gauges := make(map[string]float64, len(m.gauges))
	for k, v := range m.gauges {
		gauges[k] = v
	}
	timers := make(map[string]TimerStats, len(m.timers))
	for name, samples := range m.timers {
		timers[name] = summarize(samples, m.counts[name])
	}
	uptime := time.Since(m.started).Seconds()
	m.mu.Unlock()

	return Stats{
		UptimeSeconds: uptime,
		Counters:      counters,
		Gauges:        gauges,
		Timers:        timers,
		Process:       processStats(),
	}
}

func summarize(samples []float64, total int64) TimerStats {
	if len(samples) == 0 {
		return TimerStats{}
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	sum := 0.0
	for _, s := range sorted {
		sum += s
	}

	return TimerStats{
		Count: total,
		AvgMs: sum / float64(len(sorted)),
		MinMs: sorted[0],
		MaxMs: sorted[len(sorted)-1],
		P50Ms: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95Ms: stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
}

func processStats() ProcessStats {
	stats := ProcessStats{}
	if counts, err := cpu.Counts(true); err == nil {
		stats.NumCPU = counts
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return stats
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.MemoryRSSBytes = mem.RSS
	}
	if pct, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = pct
	}
	return stats
}
