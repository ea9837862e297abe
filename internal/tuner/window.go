package tuner

import (
	"fmt"
	"sort"
	"sync"

	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
)

// baselineMinSamples is the history size below which Baseline falls back
// to the built-in defaults.
const baselineMinSamples = 10

// DefaultWindowCapacity bounds how many samples the window retains.
const DefaultWindowCapacity = 1000

// Window is a bounded, append-only ring buffer of metric samples. Samples
// must arrive in non-decreasing timestamp order; once capacity is reached
// the oldest sample is evicted on append.
type Window struct {
	mu       sync.Mutex
	samples  []model.MetricSample
	start    int
	count    int
	capacity int
}

// NewWindow creates a window retaining at most capacity samples.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &Window{
		samples:  make([]model.MetricSample, capacity),
		capacity: capacity,
	}
}

// Ingest appends one sample, evicting the oldest when full. Samples older
// than the newest already held are rejected to preserve timestamp order.
func (w *Window) Ingest(sample model.MetricSample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count > 0 {
		last := w.samples[(w.start+w.count-1)%w.capacity]
		if sample.Timestamp.Before(last.Timestamp) {
			return fmt.Errorf("%w: timestamp %s precedes window head %s",
				model.ErrInvalidSample, sample.Timestamp.Format("15:04:05.000"), last.Timestamp.Format("15:04:05.000"))
		}
	}

	if w.count < w.capacity {
		w.samples[(w.start+w.count)%w.capacity] = sample
		w.count++
		return nil
	}
	w.samples[w.start] = sample
	w.start = (w.start + 1) % w.capacity
	return nil
}

// Len returns the number of samples currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Recent returns copies of the last n samples in chronological order,
// fewer if the window is younger than n.
func (w *Window) Recent(n int) []model.MetricSample {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n <= 0 {
		return nil
	}
	if n > w.count {
		n = w.count
	}
	out := make([]model.MetricSample, n)
	first := w.count - n
	for i := 0; i < n; i++ {
		out[i] = w.samples[(w.start+first+i)%w.capacity]
	}
	return out
}

// All returns a chronological copy of the full window.
func (w *Window) All() []model.MetricSample {
	return w.Recent(w.capacity)
}

// Latest returns the newest sample, if any.
func (w *Window) Latest() (model.MetricSample, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		return model.MetricSample{}, false
	}
	return w.samples[(w.start+w.count-1)%w.capacity], true
}

// Restore refills the window from persisted history, oldest first. Samples
// beyond capacity are dropped from the old end.
func (w *Window) Restore(history []model.MetricSample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.start = 0
	w.count = 0
	if len(history) > w.capacity {
		history = history[len(history)-w.capacity:]
	}
	copy(w.samples, history)
	w.count = len(history)
}

// DefaultBaseline returns the built-in expected values used until enough
// history has accumulated.
func DefaultBaseline() model.Baseline {
	return model.Baseline{
		EntropyScore:            0.50,
		DriftVelocity:           0.30,
		StabilityScore:          0.80,
		ResponseTimeMs:          2000,
		DetectionAccuracy:       0.85,
		FalsePositiveRate:       0.15,
		FalseNegativeRate:       0.10,
		SystemLoad:              0.30,
		InterventionSuccessRate: 0.80,
		CoherenceScore:          0.90,
	}
}

// Baseline derives the per-metric expected values as medians over the full
// window. With fewer than baselineMinSamples samples the built-in defaults
// are returned instead.
func (w *Window) Baseline() model.Baseline {
	samples := w.All()
	if len(samples) < baselineMinSamples {
		return DefaultBaseline()
	}

	return model.Baseline{
		EntropyScore:            medianOf(samples, func(s model.MetricSample) float64 { return s.EntropyScore }),
		DriftVelocity:           medianOf(samples, func(s model.MetricSample) float64 { return s.DriftVelocity }),
		StabilityScore:          medianOf(samples, func(s model.MetricSample) float64 { return s.StabilityScore }),
		ResponseTimeMs:          medianOf(samples, func(s model.MetricSample) float64 { return s.ResponseTimeMs }),
		DetectionAccuracy:       medianOf(samples, func(s model.MetricSample) float64 { return s.DetectionAccuracy }),
		FalsePositiveRate:       medianOf(samples, func(s model.MetricSample) float64 { return s.FalsePositiveRate }),
		FalseNegativeRate:       medianOf(samples, func(s model.MetricSample) float64 { return s.FalseNegativeRate }),
		SystemLoad:              medianOf(samples, func(s model.MetricSample) float64 { return s.SystemLoad }),
		InterventionSuccessRate: medianOf(samples, func(s model.MetricSample) float64 { return s.InterventionSuccessRate }),
		CoherenceScore:          medianOf(samples, func(s model.MetricSample) float64 { return s.CoherenceScore }),
	}
}

func medianOf(samples []model.MetricSample, field func(model.MetricSample) float64) float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = field(s)
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}
