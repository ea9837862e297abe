package model

import "time"

// MetricType selects which category analyzer evaluates a threshold.
//
// Direction convention, made explicit per type because nothing at the type
// level protects against inverting it:
//
//   - entropy, drift, stability, trust: a LOWER numeric value makes the
//     guardrail MORE sensitive (fires more often); raising the value makes
//     it fire less often.
//   - performance: the threshold is a cap on an observed quantity; a LOWER
//     cap is stricter.
type MetricType string

const (
	MetricTypeEntropy     MetricType = "entropy"
	MetricTypeDrift       MetricType = "drift"
	MetricTypeStability   MetricType = "stability"
	MetricTypeTrust       MetricType = "trust"
	MetricTypePerformance MetricType = "performance"
)

// Valid reports whether mt is one of the known metric types.
func (mt MetricType) Valid() bool {
	switch mt {
	case MetricTypeEntropy, MetricTypeDrift, MetricTypeStability, MetricTypeTrust, MetricTypePerformance:
		return true
	default:
		return false
	}
}

// Threshold is a named, bounded guardrail parameter owned by the tuner.
//
// Invariants: MinValue <= CurrentValue <= MaxValue at all times, and
// DefaultValue lies within the same bounds and is never mutated after
// creation. All mutation goes through the catalog's Apply path.
type Threshold struct {
	Name            string     `json:"name"`
	CurrentValue    float64    `json:"current_value"`
	DefaultValue    float64    `json:"default_value"`
	MinValue        float64    `json:"min_value"`
	MaxValue        float64    `json:"max_value"`
	Description     string     `json:"description"`
	MetricType      MetricType `json:"metric_type"`
	Sensitivity     float64    `json:"sensitivity"`
	StabilityWindow int        `json:"stability_window"`
	LastAdjustedAt  time.Time  `json:"last_adjusted_at"`
	AdjustmentCount int        `json:"adjustment_count"`
}

// ThresholdInfo is the full threshold metadata exposed to dashboards.
type ThresholdInfo = Threshold

// DriftFromDefault returns the relative distance of the current value from
// the default, as a signed fraction of the default.
func (t Threshold) DriftFromDefault() float64 {
	if t.DefaultValue == 0 {
		return 0
	}
	return (t.CurrentValue - t.DefaultValue) / t.DefaultValue
}
