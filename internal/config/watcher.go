package config

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/emperorhan/guardrail-tuner/internal/metrics"
	"github.com/emperorhan/guardrail-tuner/internal/tuner"
)

const watcherDefaultInterval = 30 * time.Second

// HeuristicsApplier receives validated heuristics reloads. The controller
// implements it.
type HeuristicsApplier interface {
	SetHeuristics(tuner.Heuristics)
}

// HeuristicsWatcher polls the heuristics file and applies changes to the
// running controller without requiring a restart. A file that fails to
// parse or validate is rejected; the last good heuristics stay in effect.
type HeuristicsWatcher struct {
	path     string
	applier  HeuristicsApplier
	logger   *slog.Logger
	interval time.Duration

	lastModTime time.Time
}

func NewHeuristicsWatcher(path string, applier HeuristicsApplier, logger *slog.Logger, interval time.Duration) *HeuristicsWatcher {
	if interval <= 0 {
		interval = watcherDefaultInterval
	}
	return &HeuristicsWatcher{
		path:     path,
		applier:  applier,
		logger:   logger.With("component", "heuristics_watcher"),
		interval: interval,
	}
}

// Run starts the watcher loop. It blocks until the context is cancelled.
// The initial file state is treated as already applied; only subsequent
// modifications trigger a reload.
func (w *HeuristicsWatcher) Run(ctx context.Context) error {
	w.logger.Info("heuristics watcher started", "path", w.path, "poll_interval", w.interval)

	if info, err := os.Stat(w.path); err == nil {
		w.lastModTime = info.ModTime()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("heuristics watcher stopping")
			return ctx.Err()
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *HeuristicsWatcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("heuristics file stat failed", "error", err)
		metrics.HeuristicsReloads.WithLabelValues("error").Inc()
		return
	}
	if !info.ModTime().After(w.lastModTime) {
		return
	}
	w.lastModTime = info.ModTime()

	h := tuner.DefaultHeuristics()
	if err := loadHeuristicsFile(w.path, &h); err != nil {
		w.logger.Warn("heuristics reload rejected", "error", err)
		metrics.HeuristicsReloads.WithLabelValues("error").Inc()
		return
	}
	if err := validateHeuristics(h); err != nil {
		w.logger.Warn("heuristics reload rejected", "error", err)
		metrics.HeuristicsReloads.WithLabelValues("invalid").Inc()
		return
	}

	w.applier.SetHeuristics(h)
	metrics.HeuristicsReloads.WithLabelValues("applied").Inc()
	w.logger.Info("heuristics reloaded",
		"stability_requirement", h.StabilityRequirement,
		"confidence_floor", h.ConfidenceFloor,
		"cooldown", h.Cooldown(),
	)
}
