package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/emperorhan/guardrail-tuner/internal/metrics"
	"github.com/emperorhan/guardrail-tuner/internal/store"
)

// thresholdsKey is the hash the guardrail engine reads its effective
// thresholds from.
const thresholdsKey = "guardrail:thresholds"

// Publisher pushes current threshold values into a Redis hash so guardrail
// engine instances pick up adjustments without polling the tuner. A circuit
// breaker suppresses publishes while Redis is unreachable.
type Publisher struct {
	client  *redis.Client
	breaker *publishBreaker
	logger  *slog.Logger
}

var _ store.ThresholdPublisher = (*Publisher)(nil)

func NewPublisher(url string, logger *slog.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "threshold_publisher")

	p := &Publisher{client: client, logger: log}
	p.breaker = newPublishBreaker(func(from, to breakerState) {
		log.Warn("publish circuit state changed", "from", from.String(), "to", to.String())
	})
	return p, nil
}

func (p *Publisher) PublishThresholds(ctx context.Context, values map[string]float64) error {
	if len(values) == 0 {
		return nil
	}
	if err := p.breaker.allow(); err != nil {
		metrics.PublishesSuppressed.Inc()
		return err
	}

	fields := make(map[string]any, len(values))
	for name, value := range values {
		fields[name] = value
	}
	if err := p.client.HSet(ctx, thresholdsKey, fields).Err(); err != nil {
		p.breaker.recordFailure()
		return fmt.Errorf("publish thresholds: %w", err)
	}
	p.breaker.recordSuccess()
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
