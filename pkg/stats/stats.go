// Package stats records operation outcome counters and a latency histogram
// for a single resource or pipeline.
package stats

import (
	"sync"
	"time"

	"github.com/openfroyo/linkrt/pkg/engine"
)

// HistogramConfig defines the latency histogram range in milliseconds.
type HistogramConfig struct {
	Lower float64 `yaml:"lower" json:"lower" validate:"gte=0"`
	Upper float64 `yaml:"upper" json:"upper" validate:"gtfield=Lower"`
	Width float64 `yaml:"width" json:"width" validate:"gt=0"`
}

// DefaultHistogramConfig returns a 0..1000ms histogram with 10ms bins.
func DefaultHistogramConfig() HistogramConfig {
	return HistogramConfig{Lower: 0, Upper: 1000, Width: 10}
}

// Counters holds outcome counts. Window counts events since the last TakeWindow.
type Counters struct {
	Total   uint64 `json:"total"`
	Valid   uint64 `json:"valid"`
	Error   uint64 `json:"error"`
	Timeout uint64 `json:"timeout"`
	Dropped uint64 `json:"dropped"`
	Window  uint64 `json:"window"`
}

// Snapshot is a point-in-time copy of a Statistics.
type Snapshot struct {
	Counters  Counters          `json:"counters"`
	Histogram HistogramSnapshot `json:"histogram"`
	TakenAt   time.Time         `json:"taken_at"`
}

// Statistics is safe for concurrent use.
type Statistics struct {
	mu        sync.Mutex
	counters  Counters
	histogram *Histogram
}

// New creates statistics with a histogram built from cfg. A zero cfg uses
// DefaultHistogramConfig.
func New(cfg HistogramConfig) (*Statistics, error) {
	if cfg == (HistogramConfig{}) {
		cfg = DefaultHistogramConfig()
	}
	h, err := NewHistogram(cfg.Lower, cfg.Upper, cfg.Width)
	if err != nil {
		return nil, err
	}
	return &Statistics{histogram: h}, nil
}

func (s *Statistics) add(bucket *uint64) {
	s.mu.Lock()
	s.counters.Total++
	*bucket++
	s.counters.Window++
	s.mu.Unlock()
}

// AddValid counts a successful operation.
func (s *Statistics) AddValid() { s.add(&s.counters.Valid) }

// AddError counts a failed operation.
func (s *Statistics) AddError() { s.add(&s.counters.Error) }

// AddTimeout counts a timed out operation.
func (s *Statistics) AddTimeout() { s.add(&s.counters.Timeout) }

// AddDrop counts a dropped unit of work.
func (s *Statistics) AddDrop() { s.add(&s.counters.Dropped) }

// Record counts one outcome by its status.
func (s *Statistics) Record(status engine.Status) {
	switch status {
	case engine.StatusSuccess:
		s.AddValid()
	case engine.StatusTimeout:
		s.AddTimeout()
	case engine.StatusDropData:
		s.AddDrop()
	default:
		s.AddError()
	}
}

// TimeStart returns a token for AddStatisticTime.
func (s *Statistics) TimeStart() time.Time {
	return time.Now()
}

// AddStatisticTime records the milliseconds elapsed since start.
func (s *Statistics) AddStatisticTime(start time.Time) time.Duration {
	elapsed := time.Since(start)
	s.histogram.Add(float64(elapsed) / float64(time.Millisecond))
	return elapsed
}

// Histogram returns the latency histogram.
func (s *Statistics) Histogram() *Histogram {
	return s.histogram
}

// Counters returns a copy of the outcome counters.
func (s *Statistics) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// TakeWindow returns the window counter and restarts it.
func (s *Statistics) TakeWindow() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.counters.Window
	s.counters.Window = 0
	return n
}

// Snapshot returns counters and histogram together.
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		Counters:  s.Counters(),
		Histogram: s.histogram.Snapshot(),
		TakenAt:   time.Now(),
	}
}

// ResetCounters zeroes every counter and histogram bin.
func (s *Statistics) ResetCounters() {
	s.mu.Lock()
	s.counters = Counters{}
	s.mu.Unlock()
	s.histogram.Reset()
}
