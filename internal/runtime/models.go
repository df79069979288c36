package runtime

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/drblury/flowrpc/internal/runtime/procedure"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// ProcedureInfo describes one registered procedure for introspection.
type ProcedureInfo struct {
	Type  procedure.Type `json:"type"`
	Path  string         `json:"path"`
	Stats StatsSnapshot  `json:"stats"`
}

// StatsSnapshot is a point-in-time copy of a procedure's counters.
type StatsSnapshot struct {
	Calls         uint64            `json:"calls"`
	Failures      uint64            `json:"failures"`
	InFlight      uint64            `json:"in_flight"`
	LastCalledAt  time.Time         `json:"last_called_at,omitzero"`
	Latency       LatencyMetrics    `json:"latency"`
	Throughput    ThroughputMetrics `json:"throughput"`
	Errors        ErrorBreakdown    `json:"errors"`
	TotalDuration time.Duration     `json:"total_duration_ns"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS    float64 `json:"current_rps"`
	WindowSeconds float64 `json:"window_seconds"`
	CallsInWindow uint64  `json:"calls_in_window"`
}

// ErrorBreakdown counts failures per error code.
type ErrorBreakdown struct {
	ByCode    map[rpcerror.Code]uint64 `json:"by_code,omitempty"`
	LastError string                   `json:"last_error,omitempty"`
}

func (e *ErrorBreakdown) record(err *rpcerror.Error) {
	if err == nil {
		return
	}
	if e.ByCode == nil {
		e.ByCode = make(map[rpcerror.Code]uint64)
	}
	e.ByCode[err.Code]++
	e.LastError = err.Message
}

// procedureStats accumulates calls of one procedure.
type procedureStats struct {
	mu sync.Mutex

	calls         uint64
	failures      uint64
	inFlight      uint64
	totalDuration time.Duration
	lastCalledAt  time.Time
	errors        ErrorBreakdown

	latency    *latencyWindow
	throughput *throughputWindow
	lastTP     throughputSnapshot
}

func newProcedureStats() *procedureStats {
	return &procedureStats{
		latency:    newLatencyWindow(latencySampleSize),
		throughput: newThroughputWindow(throughputWindowSize),
	}
}

func (p *procedureStats) onStart() {
	p.mu.Lock()
	p.inFlight++
	p.mu.Unlock()
}

func (p *procedureStats) onFinish(duration time.Duration, err *rpcerror.Error) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inFlight > 0 {
		p.inFlight--
	}
	p.calls++
	p.totalDuration += duration
	p.lastCalledAt = now.UTC()
	p.latency.Add(duration)
	p.lastTP = p.throughput.AddAndSnapshot(now)
	if err != nil {
		p.failures++
		p.errors.record(err)
	}
}

func (p *procedureStats) snapshot() StatsSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	latency := p.latency.Snapshot()
	if p.calls > 0 {
		latency.AverageNs = int64(p.totalDuration) / int64(p.calls)
	}

	var byCode map[rpcerror.Code]uint64
	if len(p.errors.ByCode) > 0 {
		byCode = make(map[rpcerror.Code]uint64, len(p.errors.ByCode))
		for code, n := range p.errors.ByCode {
			byCode[code] = n
		}
	}

	return StatsSnapshot{
		Calls:        p.calls,
		Failures:     p.failures,
		InFlight:     p.inFlight,
		LastCalledAt: p.lastCalledAt,
		Latency:      latency,
		Throughput: ThroughputMetrics{
			CurrentRPS:    p.lastTP.CurrentRPS,
			WindowSeconds: p.lastTP.WindowSeconds,
			CallsInWindow: uint64(p.lastTP.Count),
		},
		Errors:        ErrorBreakdown{ByCode: byCode, LastError: p.errors.LastError},
		TotalDuration: p.totalDuration,
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, 0, lw.filled)
	for i := range lw.filled {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples = append(samples, lw.samples[idx])
	}
	slices.Sort(samples)

	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.SampleSize = len(samples)
	metrics.AverageNs = sum / int64(len(samples))
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	return metrics
}

// percentile interpolates linearly between the two nearest ranks of sorted.
func percentile(sorted []int64, quantile float64) int64 {
	switch {
	case len(sorted) == 0:
		return 0
	case quantile <= 0:
		return sorted[0]
	case quantile >= 1:
		return sorted[len(sorted)-1]
	}
	pos := quantile * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + int64(float64(sorted[upper]-sorted[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	tw.samples = slices.Delete(tw.samples, 0, idx)

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return throughputSnapshot{
		Count:         len(tw.samples),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(tw.samples)) / span.Seconds(),
	}
}
