package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/types"
)

const FieldOutcome = "outcome"

// Publisher reports outcomes on a results stream (durable) and a pub/sub
// channel (live listeners).
type Publisher struct {
	rdb      *redis.Client
	requests string
	results  string
	channel  string
}

func NewPublisher(rdb *redis.Client, cfg *config.Config) *Publisher {
	return &Publisher{
		rdb:      rdb,
		requests: cfg.Redis.RequestStream,
		results:  cfg.Redis.ResultStream,
		channel:  cfg.Redis.ResultChannel,
	}
}

func (p *Publisher) PublishOutcome(ctx context.Context, o types.Outcome) error {
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("redisfeed: encode outcome: %w", err)
	}
	if err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.results,
		Values: map[string]interface{}{FieldOutcome: string(b)},
	}).Err(); err != nil {
		return fmt.Errorf("redisfeed: xadd outcome: %w", err)
	}
	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// SubmitRequest enqueues req on the request stream and returns the entry id.
func (p *Publisher) SubmitRequest(ctx context.Context, req types.Request) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("redisfeed: encode request: %w", err)
	}
	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.requests,
		Values: map[string]interface{}{FieldRequest: string(b)},
	}).Result()
}
