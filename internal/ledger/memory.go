package ledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/you/flash-arb/internal/types"
)

// MemoryStore keeps results for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	results []types.ExecutionResult
	totals  Totals
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{totals: Totals{TotalProfits: new(big.Int)}}
}

func (m *MemoryStore) LoadTotals(context.Context) (Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Totals{TotalProfits: new(big.Int).Set(m.totals.TotalProfits), TotalArbitrages: m.totals.TotalArbitrages}, nil
}

func (m *MemoryStore) Append(_ context.Context, res types.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	m.totals.TotalProfits = new(big.Int).Add(m.totals.TotalProfits, res.ProfitRealized)
	m.totals.TotalArbitrages++
	return nil
}

// Recent returns up to limit results, newest first.
func (m *MemoryStore) Recent(_ context.Context, limit int) ([]types.ExecutionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.results) {
		limit = len(m.results)
	}
	out := make([]types.ExecutionResult, 0, limit)
	for i := len(m.results) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.results[i])
	}
	return out, nil
}
