package tuner

import (
	"fmt"
	"math"

	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
)

// Recommendation is an analyzer's proposed threshold change. A nil
// recommendation means the analyzer sees no reason to move.
type Recommendation struct {
	NewValue   float64
	Reason     string
	Confidence float64
	Category   model.AdjustmentCategory
}

// analyzerInputs carries everything one analyzer invocation may consult:
// the threshold under evaluation, its own stabilityWindow of most-recent
// samples, the current baseline, and the latest sample.
type analyzerInputs struct {
	threshold model.Threshold
	window    []model.MetricSample
	baseline  model.Baseline
	latest    model.MetricSample
}

type analyzerFunc func(h Heuristics, in analyzerInputs) *Recommendation

// newAnalyzerTable resolves metric-type dispatch once at construction
// instead of per-call string comparison.
func newAnalyzerTable() map[model.MetricType]analyzerFunc {
	return map[model.MetricType]analyzerFunc{
		model.MetricTypeEntropy:     analyzeEntropy,
		model.MetricTypeDrift:       analyzeDrift,
		model.MetricTypeStability:   analyzeStability,
		model.MetricTypeTrust:       analyzeTrust,
		model.MetricTypePerformance: analyzePerformance,
	}
}

// analyzeEntropy checks false-positive excess, false-negative excess, and
// a rising entropy trend, in that priority order; at most one
// recommendation per call.
func analyzeEntropy(h Heuristics, in analyzerInputs) *Recommendation {
	th := in.threshold

	fpMean := meanOf(in.window, func(s model.MetricSample) float64 { return s.FalsePositiveRate })
	if in.baseline.FalsePositiveRate > 0 && fpMean > h.BaselineExcessRatio*in.baseline.FalsePositiveRate {
		ratio := fpMean / in.baseline.FalsePositiveRate
		return &Recommendation{
			NewValue:   th.CurrentValue + th.Sensitivity,
			Reason:     fmt.Sprintf("false positive rate %.3f exceeds %.1fx baseline %.3f", fpMean, h.BaselineExcessRatio, in.baseline.FalsePositiveRate),
			Confidence: math.Min(0.9, ratio),
			Category:   model.CategoryDecreaseSensitivity,
		}
	}

	fnMean := meanOf(in.window, func(s model.MetricSample) float64 { return s.FalseNegativeRate })
	if in.baseline.FalseNegativeRate > 0 && fnMean > h.BaselineExcessRatio*in.baseline.FalseNegativeRate {
		ratio := fnMean / in.baseline.FalseNegativeRate
		return &Recommendation{
			NewValue:   th.CurrentValue - th.Sensitivity,
			Reason:     fmt.Sprintf("false negative rate %.3f exceeds %.1fx baseline %.3f", fnMean, h.BaselineExcessRatio, in.baseline.FalseNegativeRate),
			Confidence: math.Min(0.9, ratio),
			Category:   model.CategoryIncreaseSensitivity,
		}
	}

	if trend := trendOf(in.window, func(s model.MetricSample) float64 { return s.EntropyScore }); trend > h.EntropyTrendTrigger {
		return &Recommendation{
			NewValue:   th.CurrentValue - th.Sensitivity/2,
			Reason:     fmt.Sprintf("entropy rising by %.3f over window, tightening pre-emptively", trend),
			Confidence: math.Min(0.8, math.Abs(trend)*5),
			Category:   model.CategoryOptimizeBalance,
		}
	}
	return nil
}

// analyzeDrift lowers the cutoff when drift sits well below it while
// interventions keep failing, or when drift velocity turns noisy.
func analyzeDrift(h Heuristics, in analyzerInputs) *Recommendation {
	th := in.threshold

	driftMean := meanOf(in.window, func(s model.MetricSample) float64 { return s.DriftVelocity })
	successMean := meanOf(in.window, func(s model.MetricSample) float64 { return s.InterventionSuccessRate })
	if driftMean < h.DriftLowRatio*th.CurrentValue && successMean < h.InterventionLowBar {
		return &Recommendation{
			NewValue:   th.CurrentValue - th.Sensitivity,
			Reason:     fmt.Sprintf("drift %.3f well below cutoff with intervention success at %.2f", driftMean, successMean),
			Confidence: 0.7,
			Category:   model.CategoryIncreaseSensitivity,
		}
	}

	if v := varianceOf(in.window, func(s model.MetricSample) float64 { return s.DriftVelocity }); v > h.DriftVarianceTrigger {
		return &Recommendation{
			NewValue:   th.CurrentValue - th.Sensitivity/2,
			Reason:     fmt.Sprintf("drift velocity variance %.3f above tolerance", v),
			Confidence: math.Min(0.8, v*5),
			Category:   model.CategoryStabilityEnhancement,
		}
	}
	return nil
}

// analyzeStability tightens the tolerance when the system is calm despite
// high load, and loosens it when stability is declining.
func analyzeStability(h Heuristics, in analyzerInputs) *Recommendation {
	th := in.threshold

	stabilityMean := meanOf(in.window, func(s model.MetricSample) float64 { return s.StabilityScore })
	loadMean := meanOf(in.window, func(s model.MetricSample) float64 { return s.SystemLoad })
	if stabilityMean > h.StabilityHighBar && loadMean > h.LoadHighBar {
		return &Recommendation{
			NewValue:   th.CurrentValue - th.Sensitivity,
			Reason:     fmt.Sprintf("stable (%.2f) under high load (%.2f), can afford tighter tolerance", stabilityMean, loadMean),
			Confidence: 0.6,
			Category:   model.CategoryOptimizeBalance,
		}
	}

	if trend := trendOf(in.window, func(s model.MetricSample) float64 { return s.StabilityScore }); trend < -h.StabilityTrendTrigger {
		return &Recommendation{
			NewValue:   th.CurrentValue + th.Sensitivity,
			Reason:     fmt.Sprintf("stability declining by %.3f over window, being more conservative", -trend),
			Confidence: math.Min(0.8, math.Abs(trend)*5),
			Category:   model.CategoryStabilityEnhancement,
		}
	}
	return nil
}

// analyzeTrust loosens the trust floor when the guardrail is provably too
// restrictive and raises it when misses accumulate.
func analyzeTrust(h Heuristics, in analyzerInputs) *Recommendation {
	th := in.threshold

	fpMean := meanOf(in.window, func(s model.MetricSample) float64 { return s.FalsePositiveRate })
	successMean := meanOf(in.window, func(s model.MetricSample) float64 { return s.InterventionSuccessRate })
	if fpMean > h.TrustFalsePositiveBar && successMean > h.TrustInterventionBar {
		return &Recommendation{
			NewValue:   th.CurrentValue - th.Sensitivity,
			Reason:     fmt.Sprintf("false positives %.2f with interventions succeeding at %.2f, trust floor too restrictive", fpMean, successMean),
			Confidence: 0.7,
			Category:   model.CategoryDecreaseSensitivity,
		}
	}

	fnMean := meanOf(in.window, func(s model.MetricSample) float64 { return s.FalseNegativeRate })
	if fnMean > h.TrustFalseNegativeBar {
		return &Recommendation{
			NewValue:   th.CurrentValue + th.Sensitivity,
			Reason:     fmt.Sprintf("false negatives %.2f above bar, trust floor too permissive", fnMean),
			Confidence: 0.8,
			Category:   model.CategoryIncreaseSensitivity,
		}
	}
	return nil
}

// analyzePerformance handles the two performance caps by name: the
// response-time cap and the false-positive cap.
func analyzePerformance(h Heuristics, in analyzerInputs) *Recommendation {
	th := in.threshold

	switch th.Name {
	case ThresholdMaxResponseTimeMs:
		observed := meanOf(in.window, func(s model.MetricSample) float64 { return s.ResponseTimeMs })
		if observed < h.ResponseTightenRatio*th.CurrentValue {
			return &Recommendation{
				NewValue:   h.ResponseTightenFactor * observed,
				Reason:     fmt.Sprintf("observed response time %.0fms well under cap %.0fms, tightening", observed, th.CurrentValue),
				Confidence: 0.7,
				Category:   model.CategoryPerformanceTuning,
			}
		}
		if observed > h.ResponseRelaxRatio*th.CurrentValue {
			return &Recommendation{
				NewValue:   h.ResponseRelaxFactor * th.CurrentValue,
				Reason:     fmt.Sprintf("observed response time %.0fms near cap %.0fms, relaxing", observed, th.CurrentValue),
				Confidence: 0.6,
				Category:   model.CategoryPerformanceTuning,
			}
		}
	case ThresholdMaxFalsePositiveRate:
		observed := meanOf(in.window, func(s model.MetricSample) float64 { return s.FalsePositiveRate })
		if observed > h.FalsePositiveCapRatio*th.CurrentValue {
			return &Recommendation{
				NewValue:   h.FalsePositiveCapFactor * observed,
				Reason:     fmt.Sprintf("observed false positive rate %.3f crowding cap %.3f", observed, th.CurrentValue),
				Confidence: 0.8,
				Category:   model.CategoryPerformanceTuning,
			}
		}
	}
	return nil
}
