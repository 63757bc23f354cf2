package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/connectors/redisfeed"
	"github.com/you/flash-arb/internal/dash"
	"github.com/you/flash-arb/internal/execution"
	"github.com/you/flash-arb/internal/metrics"
	"github.com/you/flash-arb/internal/risk"
	"github.com/you/flash-arb/internal/sim"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const KindRisk = "risk"

// Bot runs execution requests against a sim world and reports outcomes.
type Bot struct {
	cfg   *config.Config
	log   *zap.Logger
	world *sim.World
	risk  *risk.Engine
}

func New(cfg *config.Config, world *sim.World, rk *risk.Engine, log *zap.Logger) *Bot {
	return &Bot{cfg: cfg, log: log, world: world, risk: rk}
}

// Handle screens and executes one request as the world's owner.
func (b *Bot) Handle(ctx context.Context, req types.Request) types.Outcome {
	o := types.Outcome{RequestID: req.ID}
	asset, amount, p, err := req.Parse()
	if err == nil && b.risk != nil {
		if err = b.risk.Check(asset, amount, p); err != nil {
			o.ErrorKind = KindRisk
			o.Error = err.Error()
			b.log.Warn("request rejected", zap.String("id", req.ID), zap.Error(err))
			return o
		}
	}
	res, err := b.world.Executor.ExecuteRequest(ctx, b.world.Owner, req)
	if err != nil {
		o.ErrorKind = execution.Kind(err)
		o.Error = err.Error()
		return o
	}
	o.OK = true
	o.Result = &res
	return o
}

// Simulate runs reqs in order and returns their outcomes.
func (b *Bot) Simulate(ctx context.Context, reqs []types.Request) []types.Outcome {
	out := make([]types.Outcome, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, b.Handle(ctx, r))
	}
	t := b.world.Ledger.Totals()
	b.log.Info("simulation done",
		zap.Int("requests", len(reqs)),
		zap.Uint64("total_arbitrages", t.TotalArbitrages),
		zap.String("total_profits", t.TotalProfits.String()),
	)
	return out
}

// Serve consumes requests from Redis, publishes outcomes and serves metrics
// and the dashboard until ctx is done or one of them fails.
func (b *Bot) Serve(ctx context.Context, consumer *redisfeed.Consumer, pub *redisfeed.Publisher) error {
	d := dash.New(b.world.Ledger, b.world.Decimals, b.log)
	b.world.Executor.OnRecorded(d.Publish)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Consume(ctx, func(ctx context.Context, req types.Request) {
			o := b.Handle(ctx, req)
			if err := pub.PublishOutcome(ctx, o); err != nil {
				b.log.Warn("publish outcome", zap.String("id", req.ID), zap.Error(err))
			}
		})
	})
	g.Go(func() error {
		return metrics.Serve(ctx, b.cfg.Metrics.ListenAddr, nil, b.log)
	})
	g.Go(func() error {
		return d.Serve(ctx, b.cfg.Dash.ListenAddr)
	})
	g.Go(func() error {
		d.PushTotals(ctx, b.cfg.DashPush())
		return nil
	})
	b.log.Info("serving",
		zap.String("request_stream", b.cfg.Redis.RequestStream),
		zap.Stringers("approved_routers", addrs(b.world.Controls.ApprovedRouters())),
	)
	return g.Wait()
}

// LoadRequests reads a YAML file holding either one request or a list.
func LoadRequests(path string) ([]types.Request, error) {
	if path == "" {
		return nil, errors.New("no request file")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []types.Request
	if err := yaml.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var one types.Request
	if err := yaml.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return []types.Request{one}, nil
}

func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	return cfg.Build()
}

func addrs(in []common.Address) []fmt.Stringer {
	out := make([]fmt.Stringer, len(in))
	for i, a := range in {
		out[i] = a
	}
	return out
}
