package risk

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/strategy"
	"github.com/you/flash-arb/internal/units"
)

var (
	ErrRejected     = errors.New("risk: request rejected")
	ErrLoanTooLarge = fmt.Errorf("%w: loan above limit", ErrRejected)
	ErrFloorTooLow  = fmt.Errorf("%w: min profit below floor", ErrRejected)
)

// Engine screens requests before any loan is taken. Limits are per borrowed
// asset; assets without a limit pass.
type Engine struct {
	maxLoan   map[common.Address]*big.Int
	minProfit map[common.Address]*big.Int
}

// NewEngine reads the risk section. Keys are token symbols from symbols or
// hex addresses; values are whole-token amounts.
func NewEngine(cfg *config.Config, symbols map[string]common.Address, d units.Decimals) (*Engine, error) {
	e := &Engine{}
	var err error
	if e.maxLoan, err = limits(cfg.Risk.MaxLoan, symbols, d); err != nil {
		return nil, fmt.Errorf("risk.max_loan: %w", err)
	}
	if e.minProfit, err = limits(cfg.Risk.MinProfit, symbols, d); err != nil {
		return nil, fmt.Errorf("risk.min_profit: %w", err)
	}
	return e, nil
}

func (e *Engine) Check(asset common.Address, amount *big.Int, p strategy.Payload) error {
	if limit, ok := e.maxLoan[asset]; ok && amount.Cmp(limit) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrLoanTooLarge, amount, limit)
	}
	if floor, ok := e.minProfit[asset]; ok && p.MinProfitFloor().Cmp(floor) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrFloorTooLow, p.MinProfitFloor(), floor)
	}
	return nil
}

func limits(raw map[string]string, symbols map[string]common.Address, d units.Decimals) (map[common.Address]*big.Int, error) {
	out := make(map[common.Address]*big.Int, len(raw))
	for k, v := range raw {
		tok, ok := symbols[strings.ToUpper(k)]
		if !ok {
			if !common.IsHexAddress(k) {
				return nil, fmt.Errorf("unknown token %q", k)
			}
			tok = common.HexToAddress(k)
		}
		amt, err := d.Parse(tok, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[tok] = amt
	}
	return out, nil
}
