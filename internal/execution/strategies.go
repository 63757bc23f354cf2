package execution

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/strategy"
)

// feeTierArb buys TokenB at the cheap tier with the whole loan and sells all
// of it back at the expensive tier. Only the sell leg carries a floor.
func (e *Executor) feeTierArb(amount, floor *big.Int, p strategy.FeeTierArb) error {
	bought, err := e.singleSwap(p.TokenA, p.TokenB, p.BuyFee, amount, nil)
	if err != nil {
		return legError("buy", err)
	}
	if _, err := e.singleSwap(p.TokenB, p.TokenA, p.SellFee, bought, floor); err != nil {
		return legError("sell", err)
	}
	return nil
}

// crossProtocolArb buys TokenOut on one venue family and sells it back on the
// other. V3ToV2 picks the concentrated-liquidity venue for the buy.
func (e *Executor) crossProtocolArb(amount, floor *big.Int, p strategy.CrossProtocolArb) error {
	venue := e.v2.Get(p.V2Router)
	if venue == nil {
		return fmt.Errorf("%w: %s", ErrUnknownRouter, p.V2Router.Hex())
	}

	if p.V3ToV2 {
		bought, err := e.singleSwap(p.TokenIn, p.TokenOut, p.V3Fee, amount, nil)
		if err != nil {
			return legError("buy", err)
		}
		if _, err := e.pathSwap(venue.Path, bought, floor, p.TokenOut, p.TokenIn); err != nil {
			return legError("sell", err)
		}
		return nil
	}

	bought, err := e.pathSwap(venue.Path, amount, nil, p.TokenIn, p.TokenOut)
	if err != nil {
		return legError("buy", err)
	}
	if _, err := e.singleSwap(p.TokenOut, p.TokenIn, p.V3Fee, bought, floor); err != nil {
		return legError("sell", err)
	}
	return nil
}

func (e *Executor) singleSwap(in, out common.Address, fee uint32, amountIn, minOut *big.Int) (*big.Int, error) {
	if minOut == nil {
		minOut = new(big.Int)
	}
	return e.v3.ExactInputSingle(e.addr, core.ExactInputSingleParams{
		TokenIn:           in,
		TokenOut:          out,
		Fee:               fee,
		Recipient:         e.addr,
		Deadline:          e.deadline(),
		AmountIn:          amountIn,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: new(big.Int),
	})
}

func (e *Executor) pathSwap(router core.PathSwapper, amountIn, minOut *big.Int, path ...common.Address) (*big.Int, error) {
	if minOut == nil {
		minOut = new(big.Int)
	}
	amounts, err := router.SwapExactTokensForTokens(e.addr, amountIn, minOut, path, e.addr, e.deadline())
	if err != nil {
		return nil, err
	}
	if len(amounts) == 0 {
		return nil, fmt.Errorf("%w: router returned no amounts", core.ErrInvalidPath)
	}
	return amounts[len(amounts)-1], nil
}

// deadline is advisory: swaps run in the same block they are built in.
func (e *Executor) deadline() *big.Int {
	return big.NewInt(e.st.Now().Unix())
}

func legError(leg string, err error) error {
	if errors.Is(err, core.ErrTooLittleReceived) {
		return fmt.Errorf("%w: %s leg: %w", ErrProfitShortfall, leg, err)
	}
	return fmt.Errorf("%s leg: %w", leg, err)
}
