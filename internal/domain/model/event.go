package model

import "time"

// AdjustmentCategory classifies why a threshold was moved.
type AdjustmentCategory string

const (
	CategoryIncreaseSensitivity  AdjustmentCategory = "increase_sensitivity"
	CategoryDecreaseSensitivity  AdjustmentCategory = "decrease_sensitivity"
	CategoryOptimizeBalance      AdjustmentCategory = "optimize_balance"
	CategoryStabilityEnhancement AdjustmentCategory = "stability_enhancement"
	CategoryPerformanceTuning    AdjustmentCategory = "performance_tuning"
	CategoryManual               AdjustmentCategory = "manual"
)

// AdjustmentEvent is the immutable audit record of one threshold mutation.
// Events form an append-only log totally ordered by timestamp; they are
// created exactly once per applied adjustment and never rewritten.
type AdjustmentEvent struct {
	ID            string             `json:"id"`
	Timestamp     time.Time          `json:"timestamp"`
	ThresholdName string             `json:"threshold_name"`
	OldValue      float64            `json:"old_value"`
	NewValue      float64            `json:"new_value"`
	Reason        string             `json:"reason"`
	Category      AdjustmentCategory `json:"category"`
	Confidence    float64            `json:"confidence"`
}
