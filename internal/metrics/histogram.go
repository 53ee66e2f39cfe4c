// Package metrics tracks per-deployment latency/cost histories and
// exposes them to Prometheus for scraping.
package metrics

import (
	"sort"
	"sync"
)

// defaultMaxSamples bounds a BoundedHistogram's rolling window,
// matching the original's HISTOGRAM_MAX_SAMPLES.
const defaultMaxSamples = 1000

// BoundedHistogram keeps a rolling window of float samples (typically
// request latencies in milliseconds) with O(1) recording and a running
// sum for cheap mean calculation. Percentiles require a sort of the
// current window, same tradeoff the original makes.
type BoundedHistogram struct {
	mu         sync.Mutex
	samples    []float64
	head       int // index of the oldest sample once the window is full
	maxSamples int
	sum        float64
	totalCount uint64
}

// NewBoundedHistogram builds a histogram retaining at most maxSamples
// recent values.
func NewBoundedHistogram(maxSamples int) *BoundedHistogram {
	if maxSamples <= 0 {
		maxSamples = defaultMaxSamples
	}
	return &BoundedHistogram{maxSamples: maxSamples}
}

// Record adds value to the window, evicting the oldest sample once at
// capacity.
func (h *BoundedHistogram) Record(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalCount++
	h.sum += value

	if len(h.samples) < h.maxSamples {
		h.samples = append(h.samples, value)
		return
	}

	oldest := h.samples[h.head]
	h.sum -= oldest
	h.samples[h.head] = value
	h.head = (h.head + 1) % h.maxSamples
}

// Mean returns the average of the current window, 0 if empty.
func (h *BoundedHistogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) == 0 {
		return 0
	}
	return h.sum / float64(len(h.samples))
}

// Percentile returns the p-th percentile (0-100) of the current
// window using linear interpolation between the two nearest ranks.
func (h *BoundedHistogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.samples)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	if n == 1 {
		return sorted[0]
	}

	pos := (p / 100.0) * float64(n-1)
	lower := int(pos)
	upper := lower
	if frac := pos - float64(lower); frac > 0 {
		upper = lower + 1
	}
	if upper >= n {
		upper = n - 1
	}
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// Count returns the total number of samples ever recorded, including
// ones since evicted from the window.
func (h *BoundedHistogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalCount
}

// WindowSize returns how many samples are currently retained.
func (h *BoundedHistogram) WindowSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples)
}

// Min returns the smallest value in the current window, 0 if empty.
func (h *BoundedHistogram) Min() float64 {
	return h.extreme(func(a, b float64) bool { return a < b })
}

// Max returns the largest value in the current window, 0 if empty.
func (h *BoundedHistogram) Max() float64 {
	return h.extreme(func(a, b float64) bool { return a > b })
}

func (h *BoundedHistogram) extreme(better func(a, b float64) bool) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) == 0 {
		return 0
	}
	best := h.samples[0]
	for _, v := range h.samples[1:] {
		if better(v, best) {
			best = v
		}
	}
	return best
}
