package tuner

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
)

var (
	// ErrUnknownThreshold is returned when a threshold name is not in the
	// catalog. The catalog is fixed at startup, so hitting this from an
	// internal caller is a precondition violation.
	ErrUnknownThreshold = errors.New("unknown threshold")

	// ErrInvalidValue is returned when an adjustment carries a NaN or Inf
	// value. Out-of-range finite values are clamped, never rejected.
	ErrInvalidValue = errors.New("invalid threshold value")
)

// Names of the built-in threshold catalog. The performance analyzer keys
// its two branches off these.
const (
	ThresholdAnomalyEntropyCeiling  = "anomaly_entropy_ceiling"
	ThresholdEntropySpikeMargin     = "entropy_spike_margin"
	ThresholdDriftVelocityCutoff    = "drift_velocity_cutoff"
	ThresholdDriftVarianceTolerance = "drift_variance_tolerance"
	ThresholdStabilityTolerance     = "stability_tolerance"
	ThresholdMinTrustScore          = "min_trust_score"
	ThresholdMaxResponseTimeMs      = "max_response_time_ms"
	ThresholdMaxFalsePositiveRate   = "max_false_positive_rate"
)

// Catalog owns the threshold set. It is the single mutation point for
// threshold state; every write path funnels through Apply so the bounds
// invariant stays centralized. Persistence happens outside the lock using
// the snapshot copies Apply and All return.
type Catalog struct {
	mu     sync.Mutex
	byName map[string]*model.Threshold
}

// NewCatalog builds a catalog from the given definitions.
func NewCatalog(thresholds []model.Threshold) (*Catalog, error) {
	byName := make(map[string]*model.Threshold, len(thresholds))
	for _, th := range thresholds {
		if th.Name == "" {
			return nil, fmt.Errorf("threshold with empty name")
		}
		if !th.MetricType.Valid() {
			return nil, fmt.Errorf("threshold %s: unknown metric type %q", th.Name, th.MetricType)
		}
		if th.MinValue > th.MaxValue {
			return nil, fmt.Errorf("threshold %s: min %v > max %v", th.Name, th.MinValue, th.MaxValue)
		}
		if th.DefaultValue < th.MinValue || th.DefaultValue > th.MaxValue {
			return nil, fmt.Errorf("threshold %s: default %v outside [%v, %v]", th.Name, th.DefaultValue, th.MinValue, th.MaxValue)
		}
		if _, exists := byName[th.Name]; exists {
			return nil, fmt.Errorf("duplicate threshold %s", th.Name)
		}
		cp := th
		cp.CurrentValue = clamp(cp.CurrentValue, cp.MinValue, cp.MaxValue)
		if cp.StabilityWindow <= 0 {
			cp.StabilityWindow = defaultStabilityWindow
		}
		byName[th.Name] = &cp
	}
	return &Catalog{byName: byName}, nil
}

const defaultStabilityWindow = 20

// DefaultThresholds returns the built-in catalog used when no persisted
// snapshot exists.
func DefaultThresholds() []model.Threshold {
	mk := func(name string, def, min, max, sensitivity float64, mt model.MetricType, desc string) model.Threshold {
		return model.Threshold{
			Name:            name,
			CurrentValue:    def,
			DefaultValue:    def,
			MinValue:        min,
			MaxValue:        max,
			Description:     desc,
			MetricType:      mt,
			Sensitivity:     sensitivity,
			StabilityWindow: defaultStabilityWindow,
		}
	}
	return []model.Threshold{
		mk(ThresholdAnomalyEntropyCeiling, 0.60, 0.30, 0.90, 0.15, model.MetricTypeEntropy,
			"Entropy score above which anomaly detection fires"),
		mk(ThresholdEntropySpikeMargin, 0.75, 0.50, 0.95, 0.10, model.MetricTypeEntropy,
			"Margin over baseline entropy treated as a spike"),
		mk(ThresholdDriftVelocityCutoff, 0.50, 0.20, 0.80, 0.10, model.MetricTypeDrift,
			"Drift velocity above which drift correction is triggered"),
		mk(ThresholdDriftVarianceTolerance, 0.40, 0.15, 0.75, 0.10, model.MetricTypeDrift,
			"Tolerated variance in drift velocity before tightening"),
		mk(ThresholdStabilityTolerance, 0.70, 0.40, 0.95, 0.10, model.MetricTypeStability,
			"Minimum stability score tolerated before interventions"),
		mk(ThresholdMinTrustScore, 0.65, 0.40, 0.95, 0.10, model.MetricTypeTrust,
			"Minimum trust score required to skip guardrail review"),
		mk(ThresholdMaxResponseTimeMs, 2000, 500, 10000, 0.20, model.MetricTypePerformance,
			"Cap on guardrail decision response time in milliseconds"),
		mk(ThresholdMaxFalsePositiveRate, 0.15, 0.05, 0.40, 0.10, model.MetricTypePerformance,
			"Cap on tolerated false positive rate"),
	}
}

// Get returns a copy of the named threshold.
func (c *Catalog) Get(name string) (model.Threshold, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.byName[name]
	if !ok {
		return model.Threshold{}, false
	}
	return *th, true
}

// All returns copies of every threshold, sorted by name for deterministic
// iteration.
func (c *Catalog) All() []model.Threshold {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Threshold, 0, len(c.byName))
	for _, th := range c.byName {
		out = append(out, *th)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Values returns a name -> current value snapshot for the guardrail engine.
func (c *Catalog) Values() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.byName))
	for name, th := range c.byName {
		out[name] = th.CurrentValue
	}
	return out
}

// Apply clamps newValue into the threshold's bounds, mutates the stored
// value, and stamps the adjustment bookkeeping with the event's timestamp.
// Non-finite values are rejected with ErrInvalidValue; out-of-range finite
// values are clamped, not rejected. It returns a copy of the updated
// threshold so callers can persist without holding the lock.
func (c *Catalog) Apply(name string, newValue float64, event model.AdjustmentEvent) (model.Threshold, error) {
	if math.IsNaN(newValue) || math.IsInf(newValue, 0) {
		return model.Threshold{}, fmt.Errorf("%w: %v for %s", ErrInvalidValue, newValue, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	th, ok := c.byName[name]
	if !ok {
		return model.Threshold{}, fmt.Errorf("%w: %s", ErrUnknownThreshold, name)
	}

	th.CurrentValue = clamp(newValue, th.MinValue, th.MaxValue)
	th.LastAdjustedAt = event.Timestamp
	th.AdjustmentCount++
	return *th, nil
}

// Restore replaces runtime state (current value, adjustment bookkeeping)
// from a persisted threshold record. Definition fields (bounds, default,
// metric type) stay as constructed so a corrupt snapshot cannot widen
// bounds.
func (c *Catalog) Restore(rec model.Threshold) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	th, ok := c.byName[rec.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownThreshold, rec.Name)
	}
	th.CurrentValue = clamp(rec.CurrentValue, th.MinValue, th.MaxValue)
	th.LastAdjustedAt = rec.LastAdjustedAt
	th.AdjustmentCount = rec.AdjustmentCount
	return nil
}

func clamp(v, minV, maxV float64) float64 {
	if maxV < minV {
		return minV
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
