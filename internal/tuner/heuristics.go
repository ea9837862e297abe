package tuner

import "time"

// Heuristics collects every tunable constant of the adjustment algorithm.
// Defaults match the documented operating point; deployments override them
// through the heuristics file so tests can drive each analyzer branch
// deterministically instead of relying on inline magic numbers.
type Heuristics struct {
	// StabilityRequirement gates the whole adjustment cycle: below this
	// stability score no threshold is analyzed or adjusted.
	StabilityRequirement float64 `yaml:"stability_requirement"`

	// ConfidenceFloor is the minimum analyzer confidence for an automatic
	// adjustment to be applied.
	ConfidenceFloor float64 `yaml:"confidence_floor"`

	// CooldownSec is the minimum time in seconds between two automatic
	// adjustments of the same threshold. Manual overrides are exempt.
	CooldownSec int `yaml:"cooldown_sec"`

	// BaselineExcessRatio is the multiple of a baseline rate that counts
	// as excess (entropy analyzer, false positives / false negatives).
	BaselineExcessRatio float64 `yaml:"baseline_excess_ratio"`

	// EntropyTrendTrigger is the entropy rise over a window that triggers
	// a pre-emptive sensitivity increase.
	EntropyTrendTrigger float64 `yaml:"entropy_trend_trigger"`

	// DriftLowRatio marks mean drift velocity as low relative to the
	// threshold's own value.
	DriftLowRatio float64 `yaml:"drift_low_ratio"`

	// DriftVarianceTrigger is the drift-velocity variance above which the
	// drift threshold tightens.
	DriftVarianceTrigger float64 `yaml:"drift_variance_trigger"`

	// InterventionLowBar is the intervention success rate below which the
	// system is considered to be missing corrections.
	InterventionLowBar float64 `yaml:"intervention_low_bar"`

	// StabilityHighBar and LoadHighBar together signal headroom for a
	// tighter stability tolerance.
	StabilityHighBar float64 `yaml:"stability_high_bar"`
	LoadHighBar      float64 `yaml:"load_high_bar"`

	// StabilityTrendTrigger is the stability decline that forces a more
	// conservative tolerance.
	StabilityTrendTrigger float64 `yaml:"stability_trend_trigger"`

	// TrustFalsePositiveBar, TrustInterventionBar and TrustFalseNegativeBar
	// drive the trust analyzer's too-restrictive / too-permissive branches.
	TrustFalsePositiveBar float64 `yaml:"trust_false_positive_bar"`
	TrustInterventionBar  float64 `yaml:"trust_intervention_bar"`
	TrustFalseNegativeBar float64 `yaml:"trust_false_negative_bar"`

	// Response-time cap tuning: tighten to TightenFactor x observed when
	// observed mean falls below TightenRatio x cap; relax to RelaxFactor x
	// cap when observed mean exceeds RelaxRatio x cap.
	ResponseTightenRatio  float64 `yaml:"response_tighten_ratio"`
	ResponseTightenFactor float64 `yaml:"response_tighten_factor"`
	ResponseRelaxRatio    float64 `yaml:"response_relax_ratio"`
	ResponseRelaxFactor   float64 `yaml:"response_relax_factor"`

	// False-positive cap tuning: raise the cap to CapFactor x observed
	// when observed mean exceeds CapRatio x cap.
	FalsePositiveCapRatio  float64 `yaml:"false_positive_cap_ratio"`
	FalsePositiveCapFactor float64 `yaml:"false_positive_cap_factor"`
}

// Cooldown returns the adjustment cooldown as a duration.
func (h Heuristics) Cooldown() time.Duration {
	return time.Duration(h.CooldownSec) * time.Second
}

// DefaultHeuristics returns the documented default operating point.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		StabilityRequirement:   0.8,
		ConfidenceFloor:        0.7,
		CooldownSec:            300,
		BaselineExcessRatio:    1.2,
		EntropyTrendTrigger:    0.1,
		DriftLowRatio:          0.7,
		DriftVarianceTrigger:   0.1,
		InterventionLowBar:     0.7,
		StabilityHighBar:       0.9,
		LoadHighBar:            0.7,
		StabilityTrendTrigger:  0.1,
		TrustFalsePositiveBar:  0.2,
		TrustInterventionBar:   0.8,
		TrustFalseNegativeBar:  0.15,
		ResponseTightenRatio:   0.6,
		ResponseTightenFactor:  1.2,
		ResponseRelaxRatio:     0.9,
		ResponseRelaxFactor:    1.1,
		FalsePositiveCapRatio:  0.8,
		FalsePositiveCapFactor: 1.1,
	}
}
