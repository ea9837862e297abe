package tuner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
)

func thresholdByName(t *testing.T, name string) model.Threshold {
	t.Helper()
	for _, th := range DefaultThresholds() {
		if th.Name == name {
			return th
		}
	}
	t.Fatalf("no threshold %s", name)
	return model.Threshold{}
}

// flatWindow returns n identical samples; individual tests mutate the
// fields that drive the branch under test.
func flatWindow(n int, mutate func(*model.MetricSample)) []model.MetricSample {
	out := make([]model.MetricSample, n)
	for i := range out {
		s := model.MetricSample{
			EntropyScore:            0.5,
			DriftVelocity:           0.3,
			StabilityScore:          0.8,
			ResponseTimeMs:          1500,
			DetectionAccuracy:       0.9,
			FalsePositiveRate:       0.1,
			FalseNegativeRate:       0.05,
			SystemLoad:              0.4,
			InterventionSuccessRate: 0.8,
			CoherenceScore:          0.9,
		}
		if mutate != nil {
			mutate(&s)
		}
		out[i] = s
	}
	return out
}

func inputsFor(th model.Threshold, window []model.MetricSample) analyzerInputs {
	return analyzerInputs{
		threshold: th,
		window:    window,
		baseline:  DefaultBaseline(),
		latest:    window[len(window)-1],
	}
}

func TestAnalyzeEntropy(t *testing.T) {
	h := DefaultHeuristics()
	th := thresholdByName(t, ThresholdAnomalyEntropyCeiling)

	t.Run("false positive excess raises the ceiling", func(t *testing.T) {
		win := flatWindow(20, func(s *model.MetricSample) { s.FalsePositiveRate = 0.25 })
		rec := analyzeEntropy(h, inputsFor(th, win))
		require.NotNil(t, rec)
		// Absolute step: 0.60 + 0.15.
		assert.InDelta(t, 0.75, rec.NewValue, 1e-9)
		assert.Equal(t, model.CategoryDecreaseSensitivity, rec.Category)
		// Ratio 0.25/0.15 caps at 0.9.
		assert.InDelta(t, 0.9, rec.Confidence, 1e-9)
	})

	t.Run("false negative excess lowers the ceiling", func(t *testing.T) {
		win := flatWindow(20, func(s *model.MetricSample) { s.FalseNegativeRate = 0.2 })
		rec := analyzeEntropy(h, inputsFor(th, win))
		require.NotNil(t, rec)
		assert.InDelta(t, 0.45, rec.NewValue, 1e-9)
		assert.Equal(t, model.CategoryIncreaseSensitivity, rec.Category)
	})

	t.Run("false positives win over false negatives", func(t *testing.T) {
		win := flatWindow(20, func(s *model.MetricSample) {
			s.FalsePositiveRate = 0.25
			s.FalseNegativeRate = 0.2
		})
		rec := analyzeEntropy(h, inputsFor(th, win))
		require.NotNil(t, rec)
		assert.Equal(t, model.CategoryDecreaseSensitivity, rec.Category)
	})

	t.Run("rising entropy tightens pre-emptively at half step", func(t *testing.T) {
		win := flatWindow(20, nil)
		for i := range win {
			win[i].EntropyScore = 0.4 + 0.3*float64(i)/float64(len(win)-1)
		}
		rec := analyzeEntropy(h, inputsFor(th, win))
		require.NotNil(t, rec)
		assert.InDelta(t, 0.60-0.15/2, rec.NewValue, 1e-9)
		assert.Equal(t, model.CategoryOptimizeBalance, rec.Category)
		// |trend| 0.3 * 5 caps at 0.8.
		assert.InDelta(t, 0.8, rec.Confidence, 1e-9)
	})

	t.Run("calm window yields nothing", func(t *testing.T) {
		assert.Nil(t, analyzeEntropy(h, inputsFor(th, flatWindow(20, nil))))
	})
}

func TestAnalyzeDrift(t *testing.T) {
	h := DefaultHeuristics()
	th := thresholdByName(t, ThresholdDriftVelocityCutoff)

	t.Run("low drift with failing interventions lowers the cutoff", func(t *testing.T) {
		win := flatWindow(20, func(s *model.MetricSample) {
			s.DriftVelocity = 0.2 // below 0.7 x 0.50
			s.InterventionSuccessRate = 0.5
		})
		rec := analyzeDrift(h, inputsFor(th, win))
		require.NotNil(t, rec)
		assert.InDelta(t, 0.40, rec.NewValue, 1e-9)
		assert.Equal(t, model.CategoryIncreaseSensitivity, rec.Category)
		assert.InDelta(t, 0.7, rec.Confidence, 1e-9)
	})

	t.Run("noisy drift velocity tightens at half step", func(t *testing.T) {
		win := flatWindow(20, nil)
		for i := range win {
			win[i].DriftVelocity = float64(i % 2) // variance 0.25 > 0.1
		}
		rec := analyzeDrift(h, inputsFor(th, win))
		require.NotNil(t, rec)
		assert.InDelta(t, 0.45, rec.NewValue, 1e-9)
		assert.Equal(t, model.CategoryStabilityEnhancement, rec.Category)
		assert.InDelta(t, 0.8, rec.Confidence, 1e-9)
	})

	t.Run("nominal drift yields nothing", func(t *testing.T) {
		assert.Nil(t, analyzeDrift(h, inputsFor(th, flatWindow(20, nil))))
	})
}

func TestAnalyzeStability(t *testing.T) {
	h := DefaultHeuristics()
	th := thresholdByName(t, ThresholdStabilityTolerance)

	t.Run("calm under high load tightens", func(t *testing.T) {
		win := flatWindow(20, func(s *model.MetricSample) {
			s.StabilityScore = 0.95
			s.SystemLoad = 0.8
		})
		rec := analyzeStability(h, inputsFor(th, win))
		require.NotNil(t, rec)
		assert.InDelta(t, 0.60, rec.NewValue, 1e-9)
		assert.Equal(t, model.CategoryOptimizeBalance, rec.Category)
		assert.InDelta(t, 0.6, rec.Confidence, 1e-9)
	})

	t.Run("declining stability loosens", func(t *testing.T) {
		win := flatWindow(20, nil)
		for i := range win {
			win[i].StabilityScore = 0.9 - 0.3*float64(i)/float64(len(win)-1)
		}
		rec := analyzeStability(h, inputsFor(th, win))
		require.NotNil(t, rec)
		assert.InDelta(t, 0.80, rec.NewValue, 1e-9)
		assert.Equal(t, model.CategoryStabilityEnhancement, rec.Category)
	})

	t.Run("nominal window yields nothing", func(t *testing.T) {
		assert.Nil(t, analyzeStability(h, inputsFor(th, flatWindow(20, nil))))
	})
}

func TestAnalyzeTrust(t *testing.T) {
	h := DefaultHeuristics()
	th := thresholdByName(t, ThresholdMinTrustScore)

	t.Run("over-restrictive floor relaxes", func(t *testing.T) {
		win := flatWindow(20, func(s *model.MetricSample) {
			s.FalsePositiveRate = 0.25
			s.InterventionSuccessRate = 0.9
		})
		rec := analyzeTrust(h, inputsFor(th, win))
		require.NotNil(t, rec)
		assert.InDelta(t, 0.55, rec.NewValue, 1e-9)
		assert.Equal(t, model.CategoryDecreaseSensitivity, rec.Category)
	})

	t.Run("accumulating misses raise the floor", func(t *testing.T) {
		win := flatWindow(20, func(s *model.MetricSample) { s.FalseNegativeRate = 0.2 })
		rec := analyzeTrust(h, inputsFor(th, win))
		require.NotNil(t, rec)
		assert.InDelta(t, 0.75, rec.NewValue, 1e-9)
		assert.Equal(t, model.CategoryIncreaseSensitivity, rec.Category)
		assert.InDelta(t, 0.8, rec.Confidence, 1e-9)
	})

	t.Run("nominal window yields nothing", func(t *testing.T) {
		assert.Nil(t, analyzeTrust(h, inputsFor(th, flatWindow(20, nil))))
	})
}

func TestAnalyzePerformance(t *testing.T) {
	h := DefaultHeuristics()

	t.Run("response cap tightens toward observed", func(t *testing.T) {
		th := thresholdByName(t, ThresholdMaxResponseTimeMs)
		win := flatWindow(20, func(s *model.MetricSample) { s.ResponseTimeMs = 1000 })
		rec := analyzePerformance(h, inputsFor(th, win))
		require.NotNil(t, rec)
		// 1000 < 0.6 x 2000, so new cap is 1.2 x observed.
		assert.InDelta(t, 1200, rec.NewValue, 1e-9)
		assert.Equal(t, model.CategoryPerformanceTuning, rec.Category)
		assert.InDelta(t, 0.7, rec.Confidence, 1e-9)
	})

	t.Run("response cap relaxes when crowded", func(t *testing.T) {
		th := thresholdByName(t, ThresholdMaxResponseTimeMs)
		win := flatWindow(20, func(s *model.MetricSample) { s.ResponseTimeMs = 1900 })
		rec := analyzePerformance(h, inputsFor(th, win))
		require.NotNil(t, rec)
		assert.InDelta(t, 2200, rec.NewValue, 1e-9)
		assert.InDelta(t, 0.6, rec.Confidence, 1e-9)
	})

	t.Run("false positive cap follows the observed rate", func(t *testing.T) {
		th := thresholdByName(t, ThresholdMaxFalsePositiveRate)
		win := flatWindow(20, func(s *model.MetricSample) { s.FalsePositiveRate = 0.14 })
		rec := analyzePerformance(h, inputsFor(th, win))
		require.NotNil(t, rec)
		// 0.14 > 0.8 x 0.15, new cap is 1.1 x observed.
		assert.InDelta(t, 0.154, rec.NewValue, 1e-9)
		assert.InDelta(t, 0.8, rec.Confidence, 1e-9)
	})

	t.Run("nominal readings yield nothing", func(t *testing.T) {
		th := thresholdByName(t, ThresholdMaxResponseTimeMs)
		assert.Nil(t, analyzePerformance(h, inputsFor(th, flatWindow(20, nil))))
	})
}

func TestAnalyzerTableCoversAllMetricTypes(t *testing.T) {
	table := newAnalyzerTable()
	for _, th := range DefaultThresholds() {
		assert.Contains(t, table, th.MetricType, "threshold %s has no analyzer", th.Name)
	}
}
