package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// SafeHistogram is a thread-safe wrapper around hdrhistogram
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	// 1us to 10min, 3 significant figures
	h := hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)
	return &SafeHistogram{hist: h}
}

// RecordDuration records d in microseconds, clamped to the trackable range.
func (h *SafeHistogram) RecordDuration(d time.Duration) error {
	v := d.Microseconds()
	if v < 1 {
		v = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if max := h.hist.HighestTrackableValue(); v > max {
		v = max
	}
	return h.hist.RecordValue(v)
}

func (h *SafeHistogram) ValueAtQuantile(q float64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.ValueAtQuantile(q)
}

func (h *SafeHistogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Mean()
}

func (h *SafeHistogram) Max() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Max()
}

func (h *SafeHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}
