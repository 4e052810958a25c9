package stats

import (
	"sync/atomic"
	"time"
)

// Round holds the counters of one fill/drain round.
type Round struct {
	Pushes     uint64
	PushErrors uint64
	Pops       uint64
	EmptyPops  uint64
	NoResponse uint64

	// Pop latency histogram (microseconds)
	PopLatency *SafeHistogram
}

func NewRound() *Round {
	return &Round{PopLatency: NewSafeHistogram()}
}

func (r *Round) AddPush(failed bool) {
	atomic.AddUint64(&r.Pushes, 1)
	if failed {
		atomic.AddUint64(&r.PushErrors, 1)
	}
}

// AddPop records one pop that produced a response.
func (r *Round) AddPop(latency time.Duration, empty bool) {
	atomic.AddUint64(&r.Pops, 1)
	if empty {
		atomic.AddUint64(&r.EmptyPops, 1)
	}
	r.PopLatency.RecordDuration(latency)
}

func (r *Round) AddNoResponse() {
	atomic.AddUint64(&r.NoResponse, 1)
}

func (r *Round) PushErrorCount() uint64 {
	return atomic.LoadUint64(&r.PushErrors)
}

func (r *Round) PopCount() uint64 {
	return atomic.LoadUint64(&r.Pops)
}

// Latency summarises the pop latency histogram in milliseconds.
type Latency struct {
	P50Ms  float64 `json:"p50_ms"`
	P99Ms  float64 `json:"p99_ms"`
	MaxMs  float64 `json:"max_ms"`
	MeanMs float64 `json:"mean_ms"`
}

func (r *Round) Latency() Latency {
	if r.PopLatency.TotalCount() == 0 {
		return Latency{}
	}
	return Latency{
		P50Ms:  float64(r.PopLatency.ValueAtQuantile(50)) / 1000.0,
		P99Ms:  float64(r.PopLatency.ValueAtQuantile(99)) / 1000.0,
		MaxMs:  float64(r.PopLatency.Max()) / 1000.0,
		MeanMs: r.PopLatency.Mean() / 1000.0,
	}
}
