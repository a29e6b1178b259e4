package stats

import (
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/linkrt/pkg/engine"
)

func TestNewHistogram(t *testing.T) {
	tests := []struct {
		name     string
		lower    float64
		upper    float64
		width    float64
		wantBins int
		wantErr  bool
	}{
		{"exact division", 0, 100, 10, 12, false},
		{"partial last bin", 0, 25, 10, 5, false},
		{"single bin", 5, 6, 10, 3, false},
		{"inverted bounds", 10, 0, 1, 0, true},
		{"zero width", 0, 10, 0, 0, true},
		{"infinite bound", 0, math.Inf(1), 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHistogram(tt.lower, tt.upper, tt.width)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewHistogram() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if h.Len() != tt.wantBins {
				t.Errorf("Expected %d bins, got %d", tt.wantBins, h.Len())
			}
		})
	}
}

func TestHistogram_BinPlacement(t *testing.T) {
	h, err := NewHistogram(0, 30, 10)
	if err != nil {
		t.Fatalf("NewHistogram() error = %v", err)
	}

	for _, v := range []float64{-5, 0, 9.99, 10, 25, 30, 1000} {
		h.Add(v)
	}

	snap := h.Snapshot()
	want := []uint64{1, 2, 1, 1, 2}
	for i, b := range snap.Bins {
		if b.Hits != want[i] {
			t.Errorf("bin %d [%v,%v): expected %d hits, got %d", i, b.Lower, b.Upper, want[i], b.Hits)
		}
	}
	if snap.Min != -5 || snap.Max != 1000 {
		t.Errorf("Expected min -5 and max 1000, got %v and %v", snap.Min, snap.Max)
	}
	if !math.IsInf(snap.Bins[0].Lower, -1) || !math.IsInf(snap.Bins[len(snap.Bins)-1].Upper, 1) {
		t.Error("Expected unbounded guard bins at both ends")
	}
}

func TestHistogram_SampleCountInvariant(t *testing.T) {
	h, err := NewHistogram(0, 100, 7)
	if err != nil {
		t.Fatalf("NewHistogram() error = %v", err)
	}

	const n = 500
	for i := 0; i < n; i++ {
		h.Add(float64(i%150) - 20)
	}

	snap := h.Snapshot()
	var finite, all uint64
	var pct float64
	for i, b := range snap.Bins {
		if b.SampleCount != n {
			t.Fatalf("bin %d: expected sample count %d, got %d", i, n, b.SampleCount)
		}
		all += b.Hits
		pct += b.Percent
		if i > 0 && i < len(snap.Bins)-1 {
			finite += b.Hits
		}
	}
	if all != n {
		t.Errorf("Expected hits to sum to %d, got %d", n, all)
	}
	if finite > n {
		t.Errorf("Expected finite hits <= %d, got %d", n, finite)
	}
	if math.Abs(pct-1) > 1e-9 {
		t.Errorf("Expected percentages to sum to 1, got %v", pct)
	}
}

func TestHistogram_DecayingMean(t *testing.T) {
	h, _ := NewHistogram(0, 10, 1)
	h.Add(100)
	h.Add(0)

	got := h.Snapshot().Mean
	if math.Abs(got-99) > 1e-9 {
		t.Errorf("Expected mean 99, got %v", got)
	}
}

func TestStatistics_Counters(t *testing.T) {
	s, err := New(HistogramConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(4)
		go func() { defer wg.Done(); s.AddValid() }()
		go func() { defer wg.Done(); s.AddError() }()
		go func() { defer wg.Done(); s.AddTimeout() }()
		go func() { defer wg.Done(); s.AddDrop() }()
	}
	wg.Wait()

	c := s.Counters()
	if c.Total != 200 || c.Valid != 50 || c.Error != 50 || c.Timeout != 50 || c.Dropped != 50 {
		t.Errorf("Unexpected counters: %+v", c)
	}
	if w := s.TakeWindow(); w != 200 {
		t.Errorf("Expected window 200, got %d", w)
	}
	if w := s.TakeWindow(); w != 0 {
		t.Errorf("Expected window to restart at 0, got %d", w)
	}
	if s.Counters().Total != 200 {
		t.Error("Expected TakeWindow to leave the total untouched")
	}
}

func TestStatistics_Record(t *testing.T) {
	s, _ := New(DefaultHistogramConfig())

	s.Record(engine.StatusSuccess)
	s.Record(engine.StatusTimeout)
	s.Record(engine.StatusDropData)
	s.Record(engine.StatusException)
	s.Record(engine.StatusFailure)

	c := s.Counters()
	if c.Valid != 1 || c.Timeout != 1 || c.Dropped != 1 || c.Error != 2 {
		t.Errorf("Unexpected counters: %+v", c)
	}
}

func TestStatistics_ResetKeepsBoundaries(t *testing.T) {
	s, _ := New(HistogramConfig{Lower: 0, Upper: 50, Width: 5})

	start := s.TimeStart()
	time.Sleep(2 * time.Millisecond)
	if d := s.AddStatisticTime(start); d < 2*time.Millisecond {
		t.Errorf("Expected elapsed >= 2ms, got %v", d)
	}
	s.AddValid()

	before := s.Snapshot()
	if before.Histogram.Samples != 1 {
		t.Fatalf("Expected 1 sample, got %d", before.Histogram.Samples)
	}

	s.ResetCounters()
	after := s.Snapshot()

	if after.Counters != (Counters{}) {
		t.Errorf("Expected zero counters, got %+v", after.Counters)
	}
	if after.Histogram.Samples != 0 {
		t.Errorf("Expected zero samples, got %d", after.Histogram.Samples)
	}
	if len(after.Histogram.Bins) != len(before.Histogram.Bins) {
		t.Fatalf("Expected %d bins after reset, got %d", len(before.Histogram.Bins), len(after.Histogram.Bins))
	}
	for i := range after.Histogram.Bins {
		if after.Histogram.Bins[i].Upper != before.Histogram.Bins[i].Upper {
			t.Errorf("bin %d boundary changed across reset", i)
		}
		if after.Histogram.Bins[i].Hits != 0 {
			t.Errorf("bin %d: expected 0 hits after reset", i)
		}
	}
}

func TestCollector(t *testing.T) {
	a, _ := New(DefaultHistogramConfig())
	b, _ := New(DefaultHistogramConfig())
	a.AddValid()
	a.AddValid()
	a.AddTimeout()
	b.AddDrop()
	a.Histogram().Add(12)

	c := NewCollector("linkrt", func() map[string]Snapshot {
		return map[string]Snapshot{"plc1": a.Snapshot(), "plc2": b.Snapshot()}
	})

	if n := testutil.CollectAndCount(c, "linkrt_stats_operations_total"); n != 8 {
		t.Errorf("Expected 8 outcome series, got %d", n)
	}
	if n := testutil.CollectAndCount(c, "linkrt_stats_latency_milliseconds"); n != 2 {
		t.Errorf("Expected 2 histograms, got %d", n)
	}

	expected := `
# HELP linkrt_stats_window_operations Operations recorded since the last window was taken
# TYPE linkrt_stats_window_operations gauge
linkrt_stats_window_operations{source="plc1"} 3
linkrt_stats_window_operations{source="plc2"} 1
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "linkrt_stats_window_operations"); err != nil {
		t.Errorf("Unexpected metrics: %v", err)
	}
}

func TestCumulativeBuckets(t *testing.T) {
	h, _ := NewHistogram(0, 20, 10)
	h.Add(-1)
	h.Add(5)
	h.Add(15)
	h.Add(50)

	buckets := cumulativeBuckets(h.Snapshot())
	want := map[float64]uint64{0: 1, 10: 2, 20: 3}
	if len(buckets) != len(want) {
		t.Fatalf("Expected %d buckets, got %d", len(want), len(buckets))
	}
	for ub, n := range want {
		if buckets[ub] != n {
			t.Errorf("bucket %v: expected %d, got %d", ub, n, buckets[ub])
		}
	}
}
