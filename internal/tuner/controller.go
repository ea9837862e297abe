package tuner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emperorhan/guardrail-tuner/internal/alert"
	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
	"github.com/emperorhan/guardrail-tuner/internal/ingest"
	"github.com/emperorhan/guardrail-tuner/internal/metrics"
	"github.com/emperorhan/guardrail-tuner/internal/store"
)

// ErrValueOutOfBounds is returned by SetThreshold when the requested value
// falls outside the threshold's bounds. Manual overrides are rejected, not
// clamped, so operators learn the real limits.
var ErrValueOutOfBounds = errors.New("value out of threshold bounds")

const (
	// unstableStreakAlertAfter is how many consecutive gated cycles fire an
	// instability alert.
	unstableStreakAlertAfter = 5

	// recentEventsCap bounds the in-memory audit ring used when no event
	// log backend is reachable.
	recentEventsCap = 512
)

// Config holds the controller's operating parameters.
type Config struct {
	// UpdateInterval is the backoff base after a failed cycle.
	UpdateInterval time.Duration

	// SampleTimeout bounds how long one sample's cycle may take, including
	// persistence and publishing.
	SampleTimeout time.Duration

	// WindowCapacity bounds the metric history ring.
	WindowCapacity int

	// HistoryPersistEvery is the sample cadence for persisting the window.
	HistoryPersistEvery int

	// ReportEvery is the sample cadence for logging a tuning summary.
	ReportEvery int

	Heuristics Heuristics
}

// DefaultConfig returns the standard operating parameters.
func DefaultConfig() Config {
	return Config{
		UpdateInterval:      30 * time.Second,
		SampleTimeout:       10 * time.Second,
		WindowCapacity:      DefaultWindowCapacity,
		HistoryPersistEvery: 10,
		ReportEvery:         50,
		Heuristics:          DefaultHeuristics(),
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = d.UpdateInterval
	}
	if c.SampleTimeout <= 0 {
		c.SampleTimeout = d.SampleTimeout
	}
	if c.WindowCapacity <= 0 {
		c.WindowCapacity = d.WindowCapacity
	}
	if c.HistoryPersistEvery <= 0 {
		c.HistoryPersistEvery = d.HistoryPersistEvery
	}
	if c.ReportEvery <= 0 {
		c.ReportEvery = d.ReportEvery
	}
	return c
}

// Deps wires the controller to its collaborators. Publisher and Alerter are
// optional; the stores are required.
type Deps struct {
	Catalog   *Catalog
	Queue     *ingest.Queue
	Snapshots store.SnapshotStore
	Events    store.EventLog
	History   store.HistoryStore
	Publisher store.ThresholdPublisher
	Alerter   alert.Alerter
	Logger    *slog.Logger
	Now       func() time.Time
}

// Controller runs the feedback loop: it drains the sample queue, scores
// recent stability, consults the per-metric analyzers, and applies gated
// threshold adjustments.
type Controller struct {
	cfg       Config
	catalog   *Catalog
	queue     *ingest.Queue
	snapshots store.SnapshotStore
	events    store.EventLog
	history   store.HistoryStore
	publisher store.ThresholdPublisher
	alerter   alert.Alerter
	logger    *slog.Logger
	now       func() time.Time

	window    *Window
	gate      *gate
	analyzers map[model.MetricType]analyzerFunc

	mu             sync.Mutex
	recentEvents   []model.AdjustmentEvent
	lastStability  float64
	unstableStreak int
	sampleCount    int
}

// New builds a controller. It returns an error when a required dependency
// is missing so wiring mistakes surface at startup, not mid-loop.
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Catalog == nil {
		return nil, fmt.Errorf("controller: catalog is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("controller: sample queue is required")
	}
	if deps.Snapshots == nil || deps.Events == nil || deps.History == nil {
		return nil, fmt.Errorf("controller: snapshot, event and history stores are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Alerter == nil {
		deps.Alerter = &alert.NoopAlerter{}
	}

	cfg = cfg.normalized()
	return &Controller{
		cfg:           cfg,
		catalog:       deps.Catalog,
		queue:         deps.Queue,
		snapshots:     deps.Snapshots,
		events:        deps.Events,
		history:       deps.History,
		publisher:     deps.Publisher,
		alerter:       deps.Alerter,
		logger:        deps.Logger.With("component", "tuner"),
		now:           deps.Now,
		window:        NewWindow(cfg.WindowCapacity),
		gate:          newGate(cfg.Heuristics, deps.Now),
		analyzers:     newAnalyzerTable(),
		lastStability: neutralStabilityScore,
	}, nil
}

// Restore warm-starts the controller from persisted state. Missing state is
// not an error; the controller starts from defaults.
func (c *Controller) Restore(ctx context.Context) error {
	snap, err := c.snapshots.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		for _, rec := range snap.Thresholds {
			if err := c.catalog.Restore(rec); err != nil {
				c.logger.Warn("skipping unknown persisted threshold", "threshold", rec.Name)
			}
		}
		c.logger.Info("thresholds restored", "count", len(snap.Thresholds), "saved_at", snap.SavedAt)
	}

	history, err := c.history.LoadHistory(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) > 0 {
		c.window.Restore(history)
		c.logger.Info("metric history restored", "samples", len(history))
	}

	// Seed the in-memory audit ring so a log backend outage right after a
	// restart still serves recent history. Best effort.
	events, err := c.events.RecentEvents(ctx, c.now().Add(-reportEventLookback))
	if err != nil {
		c.logger.Warn("audit log tail unavailable at restore", "error", err)
	} else if len(events) > 0 {
		if len(events) > recentEventsCap {
			events = events[len(events)-recentEventsCap:]
		}
		c.mu.Lock()
		c.recentEvents = append([]model.AdjustmentEvent(nil), events...)
		c.mu.Unlock()
		c.logger.Info("audit log tail restored", "events", len(events))
	}

	for name, value := range c.catalog.Values() {
		metrics.ThresholdValue.WithLabelValues(name).Set(value)
	}
	return nil
}

// Run drains the sample queue until the context is canceled. A failed cycle
// is logged and retried after a backoff; the loop never dies on a bad
// sample or a flaky store.
func (c *Controller) Run(ctx context.Context) error {
	h := c.heuristics()
	c.logger.Info("controller started",
		"update_interval", c.cfg.UpdateInterval,
		"window_capacity", c.cfg.WindowCapacity,
		"stability_requirement", h.StabilityRequirement,
		"cooldown", h.Cooldown(),
	)

	for {
		sample, err := c.queue.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("controller stopped")
				return ctx.Err()
			}
			return err
		}

		metrics.TicksTotal.Inc()
		cycleCtx, cancel := context.WithTimeout(ctx, c.cfg.SampleTimeout)
		err = c.processSample(cycleCtx, sample)
		cancel()
		if err != nil {
			metrics.TickErrors.Inc()
			decision := ingest.Classify(err)
			c.logger.Error("cycle failed",
				"error", err,
				"class", decision.Class,
				"reason", decision.Reason,
			)
			if decision.IsTransient() {
				select {
				case <-time.After(2 * c.cfg.UpdateInterval):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// PushMetricSample validates and enqueues a sample from the guardrail
// engine. A zero timestamp is stamped with the current time.
func (c *Controller) PushMetricSample(sample model.MetricSample) error {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = c.now()
	}
	if err := sample.Validate(); err != nil {
		metrics.SamplesRejected.WithLabelValues("invalid").Inc()
		return err
	}
	return c.queue.Offer(sample)
}

// GetThresholds returns a copy of every threshold, sorted by name.
func (c *Controller) GetThresholds() []model.Threshold {
	return c.catalog.All()
}

// GetThresholdInfo returns one threshold's full definition and state.
func (c *Controller) GetThresholdInfo(name string) (model.ThresholdInfo, error) {
	th, ok := c.catalog.Get(name)
	if !ok {
		return model.ThresholdInfo{}, fmt.Errorf("%w: %s", ErrUnknownThreshold, name)
	}
	return th, nil
}

// GetThresholdValues returns the name -> current value map the guardrail
// engine consumes.
func (c *Controller) GetThresholdValues() map[string]float64 {
	return c.catalog.Values()
}

// RecentAdjustments returns adjustment events since the given time, newest
// from the event log, falling back to the in-memory ring when the log
// backend fails.
func (c *Controller) RecentAdjustments(ctx context.Context, since time.Time) ([]model.AdjustmentEvent, error) {
	events, err := c.events.RecentEvents(ctx, since)
	if err == nil {
		return events, nil
	}
	c.logger.Warn("event log read failed, serving in-memory events", "error", err)

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.AdjustmentEvent, 0, len(c.recentEvents))
	for _, ev := range c.recentEvents {
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// SetThreshold applies a manual override. The value must sit inside the
// threshold's bounds; overrides bypass cooldown and confidence gating and
// are audited with the manual category at full confidence.
func (c *Controller) SetThreshold(ctx context.Context, name string, value float64, reason string) (model.Threshold, error) {
	th, ok := c.catalog.Get(name)
	if !ok {
		return model.Threshold{}, fmt.Errorf("%w: %s", ErrUnknownThreshold, name)
	}
	if value < th.MinValue || value > th.MaxValue {
		return model.Threshold{}, fmt.Errorf("%w: %v outside [%v, %v] for %s",
			ErrValueOutOfBounds, value, th.MinValue, th.MaxValue, name)
	}
	if reason == "" {
		reason = "manual override"
	}

	event := model.AdjustmentEvent{
		ID:            uuid.NewString(),
		Timestamp:     c.now(),
		ThresholdName: name,
		OldValue:      th.CurrentValue,
		NewValue:      value,
		Reason:        reason,
		Category:      model.CategoryManual,
		Confidence:    1.0,
	}

	updated, err := c.catalog.Apply(name, value, event)
	if err != nil {
		return model.Threshold{}, err
	}

	c.recordAdjustment(ctx, updated, event)
	metrics.AdjustmentsApplied.WithLabelValues(name, string(model.CategoryManual)).Inc()
	c.logger.Info("manual override applied",
		"threshold", name,
		"old_value", event.OldValue,
		"new_value", event.NewValue,
		"reason", reason,
	)

	if err := c.alerter.Send(ctx, alert.Alert{
		Type:      alert.AlertTypeManualOverride,
		Threshold: name,
		Title:     "threshold manually overridden",
		Message:   reason,
		Fields: map[string]string{
			"old_value": fmt.Sprintf("%v", event.OldValue),
			"new_value": fmt.Sprintf("%v", event.NewValue),
		},
	}); err != nil {
		c.logger.Warn("override alert failed", "error", err)
	}
	return updated, nil
}

// SetHeuristics swaps the tuning heuristics at runtime. The caller is
// responsible for validating them first.
func (c *Controller) SetHeuristics(h Heuristics) {
	c.mu.Lock()
	c.cfg.Heuristics = h
	c.gate = newGate(h, c.now)
	c.mu.Unlock()
	c.logger.Info("heuristics updated",
		"stability_requirement", h.StabilityRequirement,
		"confidence_floor", h.ConfidenceFloor,
		"cooldown", h.Cooldown(),
	)
}

func (c *Controller) heuristics() Heuristics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Heuristics
}

// BuildReport assembles the current tuning summary.
func (c *Controller) BuildReport(ctx context.Context) Report {
	now := c.now()
	events, err := c.events.RecentEvents(ctx, now.Add(-reportEventLookback))
	if err != nil {
		c.logger.Warn("event log read failed, report uses in-memory events", "error", err)
		c.mu.Lock()
		events = append([]model.AdjustmentEvent(nil), c.recentEvents...)
		c.mu.Unlock()
	}

	c.mu.Lock()
	stability := c.lastStability
	c.mu.Unlock()
	return buildReport(c.catalog, c.window, events, stability, now)
}

// processSample runs one control cycle: ingest, stability gate, analyze,
// adjust.
func (c *Controller) processSample(ctx context.Context, sample model.MetricSample) error {
	if err := c.window.Ingest(sample); err != nil {
		metrics.SamplesRejected.WithLabelValues("out_of_order").Inc()
		c.logger.Warn("sample rejected", "error", err)
		return nil
	}
	metrics.SamplesIngested.Inc()

	c.mu.Lock()
	c.sampleCount++
	count := c.sampleCount
	c.mu.Unlock()

	if count%c.cfg.HistoryPersistEvery == 0 {
		if err := c.history.SaveHistory(ctx, c.window.All()); err != nil {
			metrics.PersistenceErrors.WithLabelValues("history").Inc()
			c.logger.Warn("history persist failed", "error", err)
		}
	}

	stability := assessStability(c.window.Recent(stabilityAssessSamples))
	metrics.StabilityScore.Set(stability)

	c.mu.Lock()
	c.lastStability = stability
	c.mu.Unlock()

	h := c.heuristics()
	if stability < h.StabilityRequirement {
		// Neutral scores from a short window gate the cycle but do not
		// count as measured instability.
		c.noteUnstableCycle(ctx, stability, c.window.Len() >= stabilityAssessSamples)
		return nil
	}
	c.noteStableCycle(ctx)

	baseline := c.window.Baseline()
	latest, _ := c.window.Latest()

	for _, th := range c.catalog.All() {
		recent := c.window.Recent(th.StabilityWindow)
		if len(recent) < th.StabilityWindow/2 {
			continue
		}
		analyze, ok := c.analyzers[th.MetricType]
		if !ok {
			continue
		}
		rec := analyze(h, analyzerInputs{
			threshold: th,
			window:    recent,
			baseline:  baseline,
			latest:    latest,
		})
		if rec == nil {
			continue
		}
		c.maybeAdjust(ctx, th, rec)
	}

	if count%c.cfg.ReportEvery == 0 {
		rep := c.BuildReport(ctx)
		c.logger.Info("tuning summary",
			"samples", rep.SampleCount,
			"stability", rep.StabilityScore,
			"recent_adjustments", len(rep.RecentEvents),
		)
	}
	return nil
}

// maybeAdjust applies a gated recommendation to one threshold.
func (c *Controller) maybeAdjust(ctx context.Context, th model.Threshold, rec *Recommendation) {
	c.mu.Lock()
	g := c.gate
	c.mu.Unlock()
	if reason, detail := g.check(th, rec); reason != "" {
		metrics.AdjustmentsSkipped.WithLabelValues(th.Name, string(reason)).Inc()
		c.logger.Debug("adjustment skipped",
			"threshold", th.Name,
			"skip", reason,
			"detail", detail,
		)
		return
	}

	clamped := clamp(rec.NewValue, th.MinValue, th.MaxValue)
	if clamped == th.CurrentValue {
		metrics.AdjustmentsSkipped.WithLabelValues(th.Name, string(skipNoop)).Inc()
		return
	}

	event := model.AdjustmentEvent{
		ID:            uuid.NewString(),
		Timestamp:     c.now(),
		ThresholdName: th.Name,
		OldValue:      th.CurrentValue,
		NewValue:      clamped,
		Reason:        rec.Reason,
		Category:      rec.Category,
		Confidence:    rec.Confidence,
	}

	updated, err := c.catalog.Apply(th.Name, clamped, event)
	if err != nil {
		c.logger.Error("apply failed", "threshold", th.Name, "error", err)
		return
	}

	c.recordAdjustment(ctx, updated, event)
	metrics.AdjustmentsApplied.WithLabelValues(th.Name, string(rec.Category)).Inc()
	c.logger.Info("threshold adjusted",
		"threshold", th.Name,
		"old_value", event.OldValue,
		"new_value", event.NewValue,
		"category", event.Category,
		"confidence", event.Confidence,
		"reason", event.Reason,
	)
}

// recordAdjustment persists and publishes one applied adjustment. Failures
// are surfaced through metrics and alerts but never roll back the in-memory
// state; the next successful save catches up.
func (c *Controller) recordAdjustment(ctx context.Context, updated model.Threshold, event model.AdjustmentEvent) {
	metrics.ThresholdValue.WithLabelValues(updated.Name).Set(updated.CurrentValue)

	c.mu.Lock()
	c.recentEvents = append(c.recentEvents, event)
	if len(c.recentEvents) > recentEventsCap {
		c.recentEvents = c.recentEvents[len(c.recentEvents)-recentEventsCap:]
	}
	c.mu.Unlock()

	if err := c.saveSnapshot(ctx); err != nil {
		metrics.PersistenceErrors.WithLabelValues("snapshot").Inc()
		c.logger.Error("snapshot persist failed", "error", err)
		c.alertPersistenceFailure(ctx, updated.Name, err)
	}
	if err := c.events.AppendEvent(ctx, event); err != nil {
		metrics.PersistenceErrors.WithLabelValues("event").Inc()
		c.logger.Error("event append failed", "event_id", event.ID, "error", err)
	}
	if c.publisher != nil {
		if err := c.publisher.PublishThresholds(ctx, c.catalog.Values()); err != nil {
			metrics.PersistenceErrors.WithLabelValues("publish").Inc()
			c.logger.Warn("threshold publish failed", "error", err)
		}
	}
}

func (c *Controller) saveSnapshot(ctx context.Context) error {
	all := c.catalog.All()
	snap := &store.ThresholdSnapshot{
		Version:    store.SnapshotVersion,
		SavedAt:    c.now(),
		Thresholds: make(map[string]model.Threshold, len(all)),
	}
	for _, th := range all {
		snap.Thresholds[th.Name] = th
	}
	return c.snapshots.SaveSnapshot(ctx, snap)
}

func (c *Controller) alertPersistenceFailure(ctx context.Context, threshold string, cause error) {
	if err := c.alerter.Send(ctx, alert.Alert{
		Type:      alert.AlertTypePersistenceFailure,
		Threshold: threshold,
		Title:     "threshold snapshot persist failed",
		Message:   cause.Error(),
	}); err != nil {
		c.logger.Warn("persistence alert failed", "error", err)
	}
}

func (c *Controller) noteUnstableCycle(ctx context.Context, stability float64, measured bool) {
	metrics.CyclesGatedByStability.Inc()
	if !measured {
		return
	}

	c.mu.Lock()
	c.unstableStreak++
	streak := c.unstableStreak
	requirement := c.cfg.Heuristics.StabilityRequirement
	c.mu.Unlock()

	c.logger.Debug("cycle gated by stability", "stability", stability, "streak", streak)
	if streak == unstableStreakAlertAfter {
		if err := c.alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeInstability,
			Title:   "sustained instability, tuning paused",
			Message: fmt.Sprintf("stability %.3f below requirement %.2f for %d consecutive cycles", stability, requirement, streak),
		}); err != nil {
			c.logger.Warn("instability alert failed", "error", err)
		}
	}
}

func (c *Controller) noteStableCycle(ctx context.Context) {
	c.mu.Lock()
	streak := c.unstableStreak
	c.unstableStreak = 0
	c.mu.Unlock()

	if streak >= unstableStreakAlertAfter {
		if err := c.alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeRecovery,
			Title:   "stability recovered, tuning resumed",
			Message: fmt.Sprintf("stability back above requirement after %d gated cycles", streak),
		}); err != nil {
			c.logger.Warn("recovery alert failed", "error", err)
		}
	}
}
