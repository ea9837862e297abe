//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
	"github.com/emperorhan/guardrail-tuner/internal/store/postgres"
)

func eventAt(ts time.Time, name string, oldV, newV float64) model.AdjustmentEvent {
	return model.AdjustmentEvent{
		ID:            uuid.NewString(),
		Timestamp:     ts,
		ThresholdName: name,
		OldValue:      oldV,
		NewValue:      newV,
		Reason:        "false positive rate 0.25 exceeds baseline 0.10",
		Category:      model.CategoryIncreaseSensitivity,
		Confidence:    0.9,
	}
}

func TestEventRepo_AppendAndRecent(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewEventRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.EnsureSchema(ctx))
	// EnsureSchema is idempotent.
	require.NoError(t, repo.EnsureSchema(ctx))

	base := time.Now().UTC().Truncate(time.Microsecond)
	old := eventAt(base.Add(-48*time.Hour), "anomaly_entropy_ceiling", 0.60, 0.75)
	recent1 := eventAt(base.Add(-time.Hour), "anomaly_entropy_ceiling", 0.75, 0.90)
	recent2 := eventAt(base.Add(-30*time.Minute), "max_response_time_ms", 2000, 1200)

	for _, ev := range []model.AdjustmentEvent{old, recent1, recent2} {
		require.NoError(t, repo.AppendEvent(ctx, ev))
	}

	events, err := repo.RecentEvents(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Ordered oldest first; the 48h-old event is filtered out.
	assert.Equal(t, recent1.ID, events[0].ID)
	assert.Equal(t, recent2.ID, events[1].ID)

	got := events[0]
	assert.Equal(t, "anomaly_entropy_ceiling", got.ThresholdName)
	assert.Equal(t, 0.75, got.OldValue)
	assert.Equal(t, 0.90, got.NewValue)
	assert.Equal(t, recent1.Reason, got.Reason)
	assert.Equal(t, model.CategoryIncreaseSensitivity, got.Category)
	assert.Equal(t, 0.9, got.Confidence)
	assert.WithinDuration(t, recent1.Timestamp, got.Timestamp, time.Millisecond)
}

func TestEventRepo_AppendIsIdempotent(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewEventRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.EnsureSchema(ctx))

	ts := time.Now().UTC().Truncate(time.Microsecond)
	ev := eventAt(ts, "min_trust_score", 0.65, 0.75)

	require.NoError(t, repo.AppendEvent(ctx, ev))

	// Re-appending the same event (same ID) must not duplicate it or
	// overwrite the stored row.
	dup := ev
	dup.NewValue = 0.55
	require.NoError(t, repo.AppendEvent(ctx, dup))

	events, err := repo.RecentEvents(ctx, ts.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 0.75, events[0].NewValue)
}

func TestEventRepo_RecentEventsEmpty(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewEventRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.EnsureSchema(ctx))

	events, err := repo.RecentEvents(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}
