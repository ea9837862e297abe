package tuner

import (
	"math"
	"time"

	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
	"github.com/emperorhan/guardrail-tuner/internal/metrics"
)

const (
	reportTrendSamples = 20
	reportTrendEpsilon = 0.01
	reportEventLookback = 24 * time.Hour
)

// TrendDirection is the movement of one metric between the two most recent
// sample blocks.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDegrading TrendDirection = "degrading"
	TrendStable    TrendDirection = "stable"
)

// ThresholdDrift describes how far one threshold has moved from its default.
type ThresholdDrift struct {
	Name            string  `json:"name"`
	CurrentValue    float64 `json:"current_value"`
	DefaultValue    float64 `json:"default_value"`
	Drift           float64 `json:"drift"`
	AdjustmentCount int     `json:"adjustment_count"`
}

// CategoryUsage aggregates adjustment events of one category.
type CategoryUsage struct {
	Count          int     `json:"count"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// Report is a point-in-time summary of tuning activity.
type Report struct {
	GeneratedAt      time.Time                                    `json:"generated_at"`
	SampleCount      int                                          `json:"sample_count"`
	StabilityScore   float64                                      `json:"stability_score"`
	Thresholds       []ThresholdDrift                             `json:"thresholds"`
	RecentEvents     []model.AdjustmentEvent                      `json:"recent_events"`
	MetricTrends     map[string]TrendDirection                    `json:"metric_trends"`
	CategoryUsage    map[model.AdjustmentCategory]*CategoryUsage  `json:"category_usage"`
}

// trendField pairs a sample accessor with its improvement direction.
type trendField struct {
	name          string
	field         func(model.MetricSample) float64
	lowerIsBetter bool
}

var trendFields = []trendField{
	{"entropy_score", func(s model.MetricSample) float64 { return s.EntropyScore }, true},
	{"drift_velocity", func(s model.MetricSample) float64 { return s.DriftVelocity }, true},
	{"stability_score", func(s model.MetricSample) float64 { return s.StabilityScore }, false},
	{"response_time_ms", func(s model.MetricSample) float64 { return s.ResponseTimeMs }, true},
	{"detection_accuracy", func(s model.MetricSample) float64 { return s.DetectionAccuracy }, false},
	{"false_positive_rate", func(s model.MetricSample) float64 { return s.FalsePositiveRate }, true},
	{"false_negative_rate", func(s model.MetricSample) float64 { return s.FalseNegativeRate }, true},
	{"system_load", func(s model.MetricSample) float64 { return s.SystemLoad }, true},
	{"intervention_success_rate", func(s model.MetricSample) float64 { return s.InterventionSuccessRate }, false},
	{"coherence_score", func(s model.MetricSample) float64 { return s.CoherenceScore }, false},
}

// buildReport assembles the tuning summary from the current catalog, window
// and recent events. Trend comparison needs two full blocks of samples;
// until then every metric reads stable.
func buildReport(cat *Catalog, win *Window, events []model.AdjustmentEvent, stability float64, now time.Time) Report {
	rep := Report{
		GeneratedAt:    now,
		SampleCount:    win.Len(),
		StabilityScore: stability,
		RecentEvents:   events,
		MetricTrends:   make(map[string]TrendDirection, len(trendFields)),
		CategoryUsage:  make(map[model.AdjustmentCategory]*CategoryUsage),
	}

	for _, th := range cat.All() {
		rep.Thresholds = append(rep.Thresholds, ThresholdDrift{
			Name:            th.Name,
			CurrentValue:    th.CurrentValue,
			DefaultValue:    th.DefaultValue,
			Drift:           th.DriftFromDefault(),
			AdjustmentCount: th.AdjustmentCount,
		})
	}

	recent := win.Recent(2 * reportTrendSamples)
	for _, tf := range trendFields {
		rep.MetricTrends[tf.name] = trendDirectionOf(recent, tf)
	}

	for _, ev := range events {
		usage := rep.CategoryUsage[ev.Category]
		if usage == nil {
			usage = &CategoryUsage{}
			rep.CategoryUsage[ev.Category] = usage
		}
		usage.MeanConfidence = (usage.MeanConfidence*float64(usage.Count) + ev.Confidence) / float64(usage.Count+1)
		usage.Count++
	}

	metrics.ReportsBuilt.Inc()
	return rep
}

func trendDirectionOf(recent []model.MetricSample, tf trendField) TrendDirection {
	if len(recent) < 2*reportTrendSamples {
		return TrendStable
	}
	prev := meanOf(recent[:reportTrendSamples], tf.field)
	cur := meanOf(recent[reportTrendSamples:], tf.field)
	delta := cur - prev
	if math.Abs(delta) < reportTrendEpsilon {
		return TrendStable
	}
	if (delta < 0) == tf.lowerIsBetter {
		return TrendImproving
	}
	return TrendDegrading
}
