package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

var ErrNegativeProfit = errors.New("ledger: negative profit")

// Totals are the process-wide accounting counters. Both only grow.
type Totals struct {
	TotalProfits    *big.Int `json:"total_profits"`
	TotalArbitrages uint64   `json:"total_arbitrages"`
}

// Store persists execution results and the counters derived from them.
type Store interface {
	LoadTotals(ctx context.Context) (Totals, error)
	Append(ctx context.Context, res types.ExecutionResult) error
	Recent(ctx context.Context, limit int) ([]types.ExecutionResult, error)
}

type Ledger struct {
	mu     sync.RWMutex
	store  Store
	totals Totals
	log    *zap.Logger
}

func New(ctx context.Context, store Store, log *zap.Logger) (*Ledger, error) {
	t, err := store.LoadTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load totals: %w", err)
	}
	if t.TotalProfits == nil {
		t.TotalProfits = new(big.Int)
	}
	return &Ledger{store: store, totals: t, log: log.Named("ledger")}, nil
}

// Record persists res and then bumps the counters. Nothing changes when the
// store rejects the write.
func (l *Ledger) Record(ctx context.Context, res types.ExecutionResult) error {
	if res.ProfitRealized == nil || res.ProfitRealized.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeProfit, res.ProfitRealized)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Append(ctx, res); err != nil {
		return fmt.Errorf("ledger: append %s: %w", res.ID, err)
	}
	l.totals.TotalProfits = new(big.Int).Add(l.totals.TotalProfits, res.ProfitRealized)
	l.totals.TotalArbitrages++
	l.log.Debug("execution recorded",
		zap.String("id", res.ID),
		zap.String("profit", res.ProfitRealized.String()),
		zap.Uint64("total_arbitrages", l.totals.TotalArbitrages),
	)
	return nil
}

func (l *Ledger) Totals() Totals {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Totals{
		TotalProfits:    new(big.Int).Set(l.totals.TotalProfits),
		TotalArbitrages: l.totals.TotalArbitrages,
	}
}

func (l *Ledger) Recent(ctx context.Context, limit int) ([]types.ExecutionResult, error) {
	return l.store.Recent(ctx, limit)
}
