package ingest

import (
	"context"
	"errors"

	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
	"github.com/emperorhan/guardrail-tuner/internal/metrics"
)

// ErrQueueFull is returned when a sample cannot be buffered. Producers are
// expected to drop the sample rather than block the guardrail path.
var ErrQueueFull = errors.New("sample queue full")

// DefaultQueueCapacity bounds the pending-sample buffer.
const DefaultQueueCapacity = 256

// Queue decouples metric producers from the control loop. Offer never
// blocks; Next blocks until a sample or context cancellation.
type Queue struct {
	ch chan model.MetricSample
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan model.MetricSample, capacity)}
}

// Offer buffers a sample without blocking.
func (q *Queue) Offer(sample model.MetricSample) error {
	select {
	case q.ch <- sample:
		metrics.SampleQueueDepth.Set(float64(len(q.ch)))
		return nil
	default:
		metrics.SamplesRejected.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
}

// Next waits for the next buffered sample.
func (q *Queue) Next(ctx context.Context) (model.MetricSample, error) {
	select {
	case sample := <-q.ch:
		metrics.SampleQueueDepth.Set(float64(len(q.ch)))
		return sample, nil
	case <-ctx.Done():
		return model.MetricSample{}, ctx.Err()
	}
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	return len(q.ch)
}
