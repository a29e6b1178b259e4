package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// meanDecay is the weight kept by the running mean on every new sample.
const meanDecay = 0.99

// Bin is a point-in-time view of one histogram bucket covering [Lower, Upper).
type Bin struct {
	Lower       float64 `json:"lower"`
	Upper       float64 `json:"upper"`
	Hits        uint64  `json:"hits"`
	SampleCount uint64  `json:"sample_count"`
	Percent     float64 `json:"percent"`
}

// HistogramSnapshot is a consistent copy of a histogram.
type HistogramSnapshot struct {
	Bins    []Bin   `json:"bins"`
	Samples uint64  `json:"samples"`
	Sum     float64 `json:"sum"`
	Min     float64 `json:"min"`
	Mean    float64 `json:"mean"`
	Max     float64 `json:"max"`
}

type bin struct {
	lower float64
	upper float64
	hits  uint64
}

// Histogram is a fixed-range histogram with two unbounded guard bins.
// Every bin shares one sample counter, so adding a value is O(log bins).
type Histogram struct {
	mu      sync.Mutex
	bins    []bin
	samples uint64
	sum     float64
	min     float64
	mean    float64
	max     float64
}

// NewHistogram builds ceil((upper-lower)/width) interior bins plus a guard bin
// below lower and a guard bin at or above upper.
func NewHistogram(lower, upper, width float64) (*Histogram, error) {
	if math.IsNaN(lower) || math.IsNaN(upper) || math.IsInf(lower, 0) || math.IsInf(upper, 0) {
		return nil, fmt.Errorf("histogram bounds must be finite: [%v, %v)", lower, upper)
	}
	if upper <= lower {
		return nil, fmt.Errorf("histogram upper bound %v must exceed lower bound %v", upper, lower)
	}
	if width <= 0 || math.IsNaN(width) {
		return nil, fmt.Errorf("histogram bin width must be positive, got %v", width)
	}

	n := int(math.Ceil((upper - lower) / width))
	bins := make([]bin, 0, n+2)
	bins = append(bins, bin{lower: math.Inf(-1), upper: lower})
	for i := 0; i < n; i++ {
		lo := lower + float64(i)*width
		hi := math.Min(lo+width, upper)
		bins = append(bins, bin{lower: lo, upper: hi})
	}
	bins = append(bins, bin{lower: upper, upper: math.Inf(1)})

	return &Histogram{bins: bins}, nil
}

// Add records one value.
func (h *Histogram) Add(v float64) {
	if math.IsNaN(v) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.samples == 0 {
		h.min, h.mean, h.max = v, v, v
	} else {
		h.min = math.Min(h.min, v)
		h.max = math.Max(h.max, v)
		h.mean = meanDecay*h.mean + (1-meanDecay)*v
	}
	h.samples++
	h.sum += v

	i := sort.Search(len(h.bins), func(i int) bool { return v < h.bins[i].upper })
	if i == len(h.bins) {
		i = len(h.bins) - 1
	}
	h.bins[i].hits++
}

// Reset zeroes hits and running values, keeping the bin boundaries.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.bins {
		h.bins[i].hits = 0
	}
	h.samples = 0
	h.sum = 0
	h.min, h.mean, h.max = 0, 0, 0
}

// Len returns the number of bins, guards included.
func (h *Histogram) Len() int {
	return len(h.bins)
}

// Samples returns the number of values added since the last reset.
func (h *Histogram) Samples() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.samples
}

// Snapshot returns a consistent copy of the histogram.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := HistogramSnapshot{
		Bins:    make([]Bin, len(h.bins)),
		Samples: h.samples,
		Sum:     h.sum,
		Min:     h.min,
		Mean:    h.mean,
		Max:     h.max,
	}
	for i, b := range h.bins {
		out := Bin{Lower: b.lower, Upper: b.upper, Hits: b.hits, SampleCount: h.samples}
		if h.samples > 0 {
			out.Percent = float64(b.hits) / float64(h.samples)
		}
		snap.Bins[i] = out
	}
	return snap
}
