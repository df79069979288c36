package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuSecondsMetric = "/sched/cpu:seconds"

// ResourceUsage is a coarse process sample included in introspection.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// resourceTracker derives CPU usage from the delta between two samples.
type resourceTracker struct {
	mu         sync.Mutex
	sample     [1]metrics.Sample
	lastCPU    float64
	lastSample time.Time
	numCPU     float64
}

func newResourceTracker() *resourceTracker {
	tracker := &resourceTracker{numCPU: float64(runtime.NumCPU())}
	tracker.sample[0].Name = cpuSecondsMetric
	return tracker
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.sample[:])
	now := time.Now()

	var usage ResourceUsage
	if value := r.sample[0].Value; value.Kind() == metrics.KindFloat64 {
		cpu := value.Float64()
		if !r.lastSample.IsZero() {
			if wall := now.Sub(r.lastSample).Seconds(); wall > 0 && r.numCPU > 0 {
				usage.CPUPercent = (cpu - r.lastCPU) / wall / r.numCPU * 100
			}
		}
		r.lastCPU = cpu
	}
	r.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc
	usage.Goroutines = runtime.NumGoroutine()
	return usage
}
