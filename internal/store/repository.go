package store

import (
	"context"
	"time"

	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
)

//go:generate mockgen -source=repository.go -destination=mocks/store_mocks.go -package=mocks

// SnapshotVersion is bumped when the snapshot layout changes.
const SnapshotVersion = 1

// ThresholdSnapshot is the versioned persisted form of the threshold
// catalog, written on every mutation.
type ThresholdSnapshot struct {
	Version    int                        `json:"version"`
	SavedAt    time.Time                  `json:"saved_at"`
	Thresholds map[string]model.Threshold `json:"thresholds"`
}

// SnapshotStore persists the threshold catalog. LoadSnapshot returns
// (nil, nil) when no snapshot exists yet.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) (*ThresholdSnapshot, error)
	SaveSnapshot(ctx context.Context, snap *ThresholdSnapshot) error
}

// EventLog is the append-only adjustment audit log. Events are never
// rewritten, only appended.
type EventLog interface {
	AppendEvent(ctx context.Context, event model.AdjustmentEvent) error
	RecentEvents(ctx context.Context, since time.Time) ([]model.AdjustmentEvent, error)
}

// HistoryStore persists a bounded copy of the metrics window so baselines
// survive restarts. It is not a long-term metric store.
type HistoryStore interface {
	LoadHistory(ctx context.Context) ([]model.MetricSample, error)
	SaveHistory(ctx context.Context, samples []model.MetricSample) error
}

// ThresholdPublisher pushes current threshold values to an external
// location the guardrail engine reads from.
type ThresholdPublisher interface {
	PublishThresholds(ctx context.Context, values map[string]float64) error
}
