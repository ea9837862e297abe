package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidSample is returned when a pushed metric sample carries a
// non-finite or out-of-range field. Invalid samples are dropped, not queued.
var ErrInvalidSample = errors.New("invalid metric sample")

// MetricSample is one observation of system performance produced by the
// external telemetry pipeline. All fields are in [0,1] except
// ResponseTimeMs, which is a non-negative millisecond value. Samples are
// immutable once ingested.
type MetricSample struct {
	Timestamp               time.Time `json:"timestamp"`
	EntropyScore            float64   `json:"entropy_score"`
	DriftVelocity           float64   `json:"drift_velocity"`
	StabilityScore          float64   `json:"stability_score"`
	ResponseTimeMs          float64   `json:"response_time_ms"`
	DetectionAccuracy       float64   `json:"detection_accuracy"`
	FalsePositiveRate       float64   `json:"false_positive_rate"`
	FalseNegativeRate       float64   `json:"false_negative_rate"`
	SystemLoad              float64   `json:"system_load"`
	InterventionSuccessRate float64   `json:"intervention_success_rate"`
	CoherenceScore          float64   `json:"coherence_score"`
}

// Validate checks that every field is finite and within its expected range.
func (s MetricSample) Validate() error {
	unitFields := []struct {
		name  string
		value float64
	}{
		{"entropy_score", s.EntropyScore},
		{"drift_velocity", s.DriftVelocity},
		{"stability_score", s.StabilityScore},
		{"detection_accuracy", s.DetectionAccuracy},
		{"false_positive_rate", s.FalsePositiveRate},
		{"false_negative_rate", s.FalseNegativeRate},
		{"system_load", s.SystemLoad},
		{"intervention_success_rate", s.InterventionSuccessRate},
		{"coherence_score", s.CoherenceScore},
	}
	for _, f := range unitFields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidSample, f.name)
		}
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("%w: %s=%v outside [0,1]", ErrInvalidSample, f.name, f.value)
		}
	}
	if math.IsNaN(s.ResponseTimeMs) || math.IsInf(s.ResponseTimeMs, 0) {
		return fmt.Errorf("%w: response_time_ms is not finite", ErrInvalidSample)
	}
	if s.ResponseTimeMs < 0 {
		return fmt.Errorf("%w: response_time_ms=%v is negative", ErrInvalidSample, s.ResponseTimeMs)
	}
	return nil
}

// Baseline holds the expected value per metric field, derived from window
// medians once enough history exists, otherwise from built-in defaults.
// It is recomputed on demand and never persisted independently.
type Baseline struct {
	EntropyScore            float64 `json:"entropy_score"`
	DriftVelocity           float64 `json:"drift_velocity"`
	StabilityScore          float64 `json:"stability_score"`
	ResponseTimeMs          float64 `json:"response_time_ms"`
	DetectionAccuracy       float64 `json:"detection_accuracy"`
	FalsePositiveRate       float64 `json:"false_positive_rate"`
	FalseNegativeRate       float64 `json:"false_negative_rate"`
	SystemLoad              float64 `json:"system_load"`
	InterventionSuccessRate float64 `json:"intervention_success_rate"`
	CoherenceScore          float64 `json:"coherence_score"`
}
