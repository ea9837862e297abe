package tuner

import "github.com/emperorhan/guardrail-tuner/internal/domain/model"

const (
	// stabilityAssessSamples is how many trailing samples the assessor
	// considers; with fewer the score is a neutral 0.5.
	stabilityAssessSamples = 10

	neutralStabilityScore = 0.5
)

// assessStability aggregates how calm recent metrics have been into a [0,1]
// score. The variances of entropy, drift velocity and the reported
// stability score over the last ten samples are summed; a perfectly calm
// system scores 1.
func assessStability(recent []model.MetricSample) float64 {
	if len(recent) < stabilityAssessSamples {
		return neutralStabilityScore
	}
	if len(recent) > stabilityAssessSamples {
		recent = recent[len(recent)-stabilityAssessSamples:]
	}

	sum := varianceOf(recent, func(s model.MetricSample) float64 { return s.EntropyScore }) +
		varianceOf(recent, func(s model.MetricSample) float64 { return s.DriftVelocity }) +
		varianceOf(recent, func(s model.MetricSample) float64 { return s.StabilityScore })

	penalty := sum / 3
	if penalty > 1 {
		penalty = 1
	}
	return 1 - penalty
}

func meanOf(samples []model.MetricSample, field func(model.MetricSample) float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += field(s)
	}
	return sum / float64(len(samples))
}

// varianceOf computes the population variance of a sample field.
func varianceOf(samples []model.MetricSample, field func(model.MetricSample) float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	mean := meanOf(samples, field)
	var sum float64
	for _, s := range samples {
		d := field(s) - mean
		sum += d * d
	}
	return sum / float64(len(samples))
}

// trendOf is the last-minus-first delta of a field over the window.
func trendOf(samples []model.MetricSample, field func(model.MetricSample) float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	return field(samples[len(samples)-1]) - field(samples[0])
}
