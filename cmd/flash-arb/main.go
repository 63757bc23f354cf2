package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/bot"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/connectors/redisfeed"
	"github.com/you/flash-arb/internal/onchain"
	"github.com/you/flash-arb/internal/risk"
	"github.com/you/flash-arb/internal/sim"
	"github.com/you/flash-arb/internal/store/postgres"
	"github.com/you/flash-arb/internal/types"
	"github.com/you/flash-arb/internal/units"
	"go.uber.org/zap"
)

type flags struct {
	config   string
	mode     string
	requests string
	dryRun   bool

	pause    bool
	unpause  bool
	approve  string
	revoke   string
	withdraw string
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.config, "config", "./config.yaml", "путь к конфигу")
	flag.StringVar(&f.mode, "mode", "", "режим: simulate, submit, serve или admin (перекрывает конфиг)")
	flag.StringVar(&f.requests, "requests", "", "файл с заявками (перекрывает конфиг)")
	flag.BoolVar(&f.dryRun, "dry-run", false, "собрать и подписать, но не отправлять")
	flag.BoolVar(&f.pause, "pause", false, "поставить исполнителя на паузу")
	flag.BoolVar(&f.unpause, "unpause", false, "снять паузу")
	flag.StringVar(&f.approve, "approve", "", "роутеры через запятую, которым выдать доступ")
	flag.StringVar(&f.revoke, "revoke", "", "роутеры через запятую, у которых отозвать доступ")
	flag.StringVar(&f.withdraw, "withdraw", "", "token[:amount] через запятую; amount в минимальных единицах, token может быть native")
	flag.Parse()
	return f
}

// adminOps turns the admin flags into one batch.
func (f flags) adminOps() (types.AdminOps, error) {
	ops := types.AdminOps{Pause: f.pause, Unpause: f.unpause}
	var err error
	if ops.Approve, err = types.ParseAddresses("approve", f.approve); err != nil {
		return types.AdminOps{}, err
	}
	if ops.Revoke, err = types.ParseAddresses("revoke", f.revoke); err != nil {
		return types.AdminOps{}, err
	}
	for _, part := range strings.Split(f.withdraw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		w, err := types.ParseWithdrawal(part)
		if err != nil {
			return types.AdminOps{}, err
		}
		ops.Withdraw = append(ops.Withdraw, w)
	}
	return ops, ops.Validate()
}

func main() {
	f := parseFlags()

	boot, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load(f.config)
	if err != nil {
		boot.Fatal("ошибка загрузки конфига", zap.String("path", f.config), zap.Error(err))
	}
	if f.mode != "" {
		cfg.Mode = f.mode
	}
	if f.requests != "" {
		cfg.RequestFile = f.requests
	}
	cfg.DryRun = cfg.DryRun || f.dryRun
	ops, err := f.adminOps()
	if err != nil {
		boot.Fatal("неверные admin-флаги", zap.Error(err))
	}

	logger, err := bot.NewLogger(cfg.LogLevel)
	if err != nil {
		boot.Fatal("инициализация логгера", zap.String("level", cfg.LogLevel), zap.Error(err))
	}
	_ = boot.Sync()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Warn("получен сигнал, выходим…")
		cancel()
	}()

	logger.Info("flash-arb запущен",
		zap.String("mode", cfg.Mode),
		zap.Bool("dry_run", cfg.DryRun),
	)

	switch cfg.Mode {
	case config.ModeSimulate:
		err = simulate(ctx, cfg, ops, logger)
	case config.ModeSubmit:
		err = submit(ctx, cfg, logger)
	case config.ModeServe:
		err = serve(ctx, cfg, logger)
	case config.ModeAdmin:
		err = runAdmin(ctx, cfg, ops, logger)
	default:
		logger.Fatal("неизвестный режим", zap.String("mode", cfg.Mode))
	}
	if err != nil {
		logger.Fatal("ошибка выполнения", zap.String("mode", cfg.Mode), zap.Error(err))
	}
}

// simulate runs the request file against the sim world, then any admin ops.
func simulate(ctx context.Context, cfg *config.Config, ops types.AdminOps, log *zap.Logger) error {
	reqs, err := bot.LoadRequests(cfg.RequestFile)
	if err != nil {
		return err
	}
	b, err := newBot(ctx, cfg, sim.Stores{}, log)
	if err != nil {
		return err
	}
	for _, o := range b.Simulate(ctx, reqs) {
		if o.OK {
			log.Info("executed",
				zap.String("id", o.RequestID),
				zap.String("profit", o.Result.ProfitRealized.String()),
			)
			continue
		}
		log.Warn("failed",
			zap.String("id", o.RequestID),
			zap.String("kind", o.ErrorKind),
			zap.String("error", o.Error),
		)
	}
	if ops.Empty() {
		return nil
	}
	return b.Admin(ctx, ops)
}

func submit(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	reqs, err := bot.LoadRequests(cfg.RequestFile)
	if err != nil {
		return err
	}
	s, err := onchain.Dial(ctx, cfg, log)
	if err != nil {
		return err
	}
	tokens, decimals := configTokens(cfg)
	s.SetDecimals(decimals)

	for _, r := range reqs {
		sub, err := s.Submit(ctx, r)
		if err != nil {
			log.Error("submit failed", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		log.Info("submitted",
			zap.String("id", r.ID),
			zap.String("method", sub.Method),
			zap.String("tx", sub.TxHash.Hex()),
			zap.Bool("dry_run", sub.DryRun),
		)
	}

	t, err := s.Totals(ctx)
	if err != nil {
		log.Warn("read totals", zap.Error(err))
	} else {
		log.Info("contract totals",
			zap.Uint64("total_arbitrages", t.TotalArbitrages),
			zap.String("total_profits", t.TotalProfits.String()),
		)
	}
	if _, err := s.LogBalances(ctx, tokens); err != nil {
		log.Warn("read balances", zap.Error(err))
	}
	return nil
}

// runAdmin sends the owner calls to the deployed contract.
func runAdmin(ctx context.Context, cfg *config.Config, ops types.AdminOps, log *zap.Logger) error {
	s, err := onchain.Dial(ctx, cfg, log)
	if err != nil {
		return err
	}
	subs, err := s.Apply(ctx, ops)
	for _, sub := range subs {
		log.Info("admin call",
			zap.String("method", sub.Method),
			zap.String("tx", sub.TxHash.Hex()),
			zap.Bool("dry_run", sub.DryRun),
		)
	}
	return err
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var stores sim.Stores
	if cfg.Postgres.DSN != "" {
		pg, err := postgres.New(ctx, cfg.Postgres.DSN, 4)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.RunMigrations(ctx); err != nil {
			return err
		}
		stores.Ledger = postgres.NewLedgerStore(pg.Pool())
		stores.Admin = postgres.NewApprovalStore(pg.Pool())
		log.Info("postgres ledger attached")
	}
	b, err := newBot(ctx, cfg, stores, log)
	if err != nil {
		return err
	}

	rdb := redisfeed.NewClient(cfg)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	return b.Serve(ctx, redisfeed.NewConsumer(rdb, cfg, log), redisfeed.NewPublisher(rdb, cfg))
}

func newBot(ctx context.Context, cfg *config.Config, stores sim.Stores, log *zap.Logger) (*bot.Bot, error) {
	w, err := sim.Build(ctx, cfg, stores, log)
	if err != nil {
		return nil, err
	}
	rk, err := risk.NewEngine(cfg, w.Symbols, w.Decimals)
	if err != nil {
		return nil, err
	}
	return bot.New(cfg, w, rk, log), nil
}

// configTokens lists the declared tokens for balance reporting.
func configTokens(cfg *config.Config) ([]common.Address, units.Decimals) {
	tokens := make([]common.Address, 0, len(cfg.Sim.Tokens))
	d := make(units.Decimals, len(cfg.Sim.Tokens))
	for _, t := range cfg.Sim.Tokens {
		if !common.IsHexAddress(t.Address) {
			continue
		}
		a := common.HexToAddress(t.Address)
		tokens = append(tokens, a)
		d[a] = t.Decimals
	}
	return tokens, d
}
