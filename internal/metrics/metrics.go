package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tuner control-loop counters and gauges.

var (
	// Control loop
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tuner",
		Subsystem: "loop",
		Name:      "ticks_total",
		Help:      "Total control loop ticks",
	})

	TickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tuner",
		Subsystem: "loop",
		Name:      "tick_errors_total",
		Help:      "Total control loop tick errors (retried after backoff)",
	})

	CyclesGatedByStability = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tuner",
		Subsystem: "loop",
		Name:      "cycles_gated_by_stability_total",
		Help:      "Total adjustment cycles skipped because the stability score was below requirement",
	})

	StabilityScore = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tuner",
		Subsystem: "loop",
		Name:      "stability_score",
		Help:      "Latest computed stability score",
	})

	// Samples
	SamplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tuner",
		Subsystem: "ingest",
		Name:      "samples_ingested_total",
		Help:      "Total metric samples ingested into the window",
	})

	SamplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuner",
		Subsystem: "ingest",
		Name:      "samples_rejected_total",
		Help:      "Total metric samples rejected before ingestion",
	}, []string{"reason"})

	SampleQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tuner",
		Subsystem: "ingest",
		Name:      "sample_queue_depth",
		Help:      "Current depth of the pending sample queue",
	})

	// Adjustments
	AdjustmentsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuner",
		Subsystem: "adjust",
		Name:      "applied_total",
		Help:      "Total threshold adjustments applied",
	}, []string{"threshold", "category"})

	AdjustmentsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuner",
		Subsystem: "adjust",
		Name:      "skipped_total",
		Help:      "Total recommendations skipped by the gate",
	}, []string{"threshold", "reason"})

	ThresholdValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tuner",
		Subsystem: "catalog",
		Name:      "threshold_value",
		Help:      "Current value per threshold",
	}, []string{"threshold"})

	// Persistence
	PersistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuner",
		Subsystem: "store",
		Name:      "persistence_errors_total",
		Help:      "Total persistence failures (retried next cycle, in-memory state stays authoritative)",
	}, []string{"op"})

	// Config
	HeuristicsReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuner",
		Subsystem: "config",
		Name:      "heuristics_reloads_total",
		Help:      "Total heuristics file reload attempts by outcome",
	}, []string{"status"})

	// Publishing
	PublishesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tuner",
		Subsystem: "publish",
		Name:      "suppressed_total",
		Help:      "Total threshold publishes suppressed by the open circuit breaker",
	})

	// Reporting
	ReportsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tuner",
		Subsystem: "report",
		Name:      "built_total",
		Help:      "Total tuning reports built",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuner",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuner",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})
)
