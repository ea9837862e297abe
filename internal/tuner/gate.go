package tuner

import (
	"fmt"
	"time"

	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
)

// skipReason labels why a recommendation was not applied.
type skipReason string

const (
	skipCooldown   skipReason = "cooldown"
	skipConfidence skipReason = "low_confidence"
	skipNoop       skipReason = "no_change"
)

// gate decides whether an automatic recommendation may be applied to a
// threshold right now. Manual overrides bypass it entirely.
type gate struct {
	cooldown        time.Duration
	confidenceFloor float64
	now             func() time.Time
}

func newGate(h Heuristics, now func() time.Time) *gate {
	if now == nil {
		now = time.Now
	}
	return &gate{
		cooldown:        h.Cooldown(),
		confidenceFloor: h.ConfidenceFloor,
		now:             now,
	}
}

// check returns a non-empty skip reason when the recommendation must not be
// applied. Cooldown is evaluated first so a confident recommendation during
// cooldown still reads as a cooldown skip in metrics.
func (g *gate) check(th model.Threshold, rec *Recommendation) (skipReason, string) {
	if !th.LastAdjustedAt.IsZero() {
		if elapsed := g.now().Sub(th.LastAdjustedAt); elapsed < g.cooldown {
			return skipCooldown, fmt.Sprintf("last adjusted %s ago, cooldown %s", elapsed.Round(time.Second), g.cooldown)
		}
	}
	if rec.Confidence < g.confidenceFloor {
		return skipConfidence, fmt.Sprintf("confidence %.2f below floor %.2f", rec.Confidence, g.confidenceFloor)
	}
	return "", ""
}
