package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/you/flash-arb/internal/ledger"
	"github.com/you/flash-arb/internal/strategy"
	"github.com/you/flash-arb/internal/types"
)

// LedgerStore implements ledger.Store. Amounts are NUMERIC(78,0) and cross
// the wire as decimal text.
type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

func (s *LedgerStore) LoadTotals(ctx context.Context) (ledger.Totals, error) {
	var sum string
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT total_profits::text, total_arbitrages FROM ledger_totals WHERE id = 1",
	).Scan(&sum, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Totals{TotalProfits: new(big.Int)}, nil
	}
	if err != nil {
		return ledger.Totals{}, fmt.Errorf("postgres: load totals: %w", err)
	}
	total, err := parseNumeric(sum)
	if err != nil {
		return ledger.Totals{}, err
	}
	return ledger.Totals{TotalProfits: total, TotalArbitrages: uint64(count)}, nil
}

// Append inserts the execution row and bumps the counters row in one
// transaction.
func (s *LedgerStore) Append(ctx context.Context, res types.ExecutionResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO executions (id, request_id, asset, amount, fee, profit, strategy_tag, payload_digest, executed_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9)`,
		res.ID, res.RequestID, res.AssetBorrowed.Hex(),
		numeric(res.AmountBorrowed), numeric(res.Fee), numeric(res.ProfitRealized),
		int16(res.StrategyTag), res.PayloadDigest.Hex(), res.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_totals (id, total_profits, total_arbitrages)
		VALUES (1, $1::numeric, 1)
		ON CONFLICT (id) DO UPDATE SET
			total_profits = ledger_totals.total_profits + EXCLUDED.total_profits,
			total_arbitrages = ledger_totals.total_arbitrages + 1`,
		numeric(res.ProfitRealized),
	)
	if err != nil {
		return fmt.Errorf("postgres: bump totals: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *LedgerStore) Recent(ctx context.Context, limit int) ([]types.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, request_id, asset, amount::text, fee::text, profit::text, strategy_tag, payload_digest, executed_at
		FROM executions ORDER BY executed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []types.ExecutionResult
	for rows.Next() {
		var (
			r                   types.ExecutionResult
			asset, digest       string
			amount, fee, profit string
			tag                 int16
		)
		if err := rows.Scan(&r.ID, &r.RequestID, &asset, &amount, &fee, &profit, &tag, &digest, &r.At); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		r.AssetBorrowed = common.HexToAddress(asset)
		r.PayloadDigest = common.HexToHash(digest)
		r.StrategyTag = strategy.Tag(tag)
		if r.AmountBorrowed, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		if r.Fee, err = parseNumeric(fee); err != nil {
			return nil, err
		}
		if r.ProfitRealized, err = parseNumeric(profit); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: bad numeric %q", s)
	}
	return v, nil
}
