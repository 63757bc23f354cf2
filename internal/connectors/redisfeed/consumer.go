package redisfeed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/you/flash-arb/internal/config"
	imetrics "github.com/you/flash-arb/internal/metrics"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

// FieldRequest is the stream entry field carrying a JSON-encoded types.Request.
const FieldRequest = "request"

// NewClient builds a Redis client from the redis config section.
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
}

// Consumer reads execution requests from a stream through a consumer group.
type Consumer struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
	log      *zap.Logger
}

func NewConsumer(rdb *redis.Client, cfg *config.Config, log *zap.Logger) *Consumer {
	return &Consumer{
		rdb:      rdb,
		stream:   cfg.Redis.RequestStream,
		group:    cfg.Redis.Group,
		consumer: cfg.Redis.Consumer,
		block:    time.Second,
		log:      log.Named("redisfeed"),
	}
}

// EnsureGroup создаёт consumer group (и сам stream), если их ещё нет.
// BUSYGROUP означает, что группа уже есть.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Consume отдаёт заявки в handle по одной и делает XACK после handle.
// Нечитаемые записи логируются и тоже подтверждаются. Выход по ctx.Done().
func (c *Consumer) Consume(ctx context.Context, handle func(context.Context, types.Request)) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    16,
			Block:    c.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("xreadgroup failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				imetrics.RequestsConsumed.Inc()
				// в handle уходят только валидные записи
				if req, ok := c.decode(m); ok {
					handle(ctx, req)
				}
				if err := c.rdb.XAck(ctx, c.stream, c.group, m.ID).Err(); err != nil {
					c.log.Warn("xack failed", zap.String("id", m.ID), zap.Error(err))
				}
			}
		}
	}
}

func (c *Consumer) decode(m redis.XMessage) (types.Request, bool) {
	raw, ok := m.Values[FieldRequest].(string)
	if !ok {
		c.log.Warn("stream entry without request field", zap.String("id", m.ID))
		return types.Request{}, false
	}
	var req types.Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		c.log.Warn("undecodable request", zap.String("id", m.ID), zap.Error(err))
		return types.Request{}, false
	}
	if req.ID == "" {
		req.ID = m.ID
	}
	return req, true
}
