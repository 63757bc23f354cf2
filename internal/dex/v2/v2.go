package v2

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/chain"
	"github.com/you/flash-arb/internal/dex/core"
)

const bpsDenominator = 10_000

type Pair struct {
	Token0  common.Address
	Token1  common.Address
	Address common.Address
}

// V2 is a constant-product router. Pair reserves are the pair account's
// balances in the state.
type V2 struct {
	st     *chain.State
	router common.Address
	feeBps uint32

	mu    sync.RWMutex
	pairs map[[2]common.Address]*Pair
}

func New(st *chain.State, router common.Address, feeBps uint32) *V2 {
	if feeBps == 0 {
		feeBps = 30
	}
	return &V2{
		st:     st,
		router: router,
		feeBps: feeBps,
		pairs:  make(map[[2]common.Address]*Pair, 8),
	}
}

func (v *V2) Address() common.Address { return v.router }

func (v *V2) CreatePair(tokenA, tokenB, pairAddr common.Address) (*Pair, error) {
	if tokenA == tokenB {
		return nil, fmt.Errorf("v2: identical tokens %s", tokenA.Hex())
	}
	k := sortKey(tokenA, tokenB)
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.pairs[k]; ok {
		return nil, fmt.Errorf("v2: pair %s/%s already exists", k[0].Hex(), k[1].Hex())
	}
	p := &Pair{Token0: k[0], Token1: k[1], Address: pairAddr}
	v.pairs[k] = p
	return p, nil
}

func (v *V2) Pair(tokenA, tokenB common.Address) (*Pair, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.pairs[sortKey(tokenA, tokenB)]
	return p, ok
}

// GetAmountOut is the router's constant-product formula with the fee taken on input.
func (v *V2) GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("v2: %w", core.ErrZeroInput)
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, fmt.Errorf("v2: %w", core.ErrInsufficientLiquidity)
	}
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(bpsDenominator-v.feeBps)))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(bpsDenominator))
	den.Add(den, inWithFee)
	return num.Quo(num, den), nil
}

// GetAmountsOut walks the path and returns the amount after every hop,
// starting with amountIn.
func (v *V2) GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("v2: %w: %d tokens", core.ErrInvalidPath, len(path))
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		p, ok := v.Pair(path[i], path[i+1])
		if !ok {
			return nil, fmt.Errorf("v2: %w: %s/%s", core.ErrNoPool, path[i].Hex(), path[i+1].Hex())
		}
		out, err := v.GetAmountOut(amounts[i], v.st.BalanceOf(path[i], p.Address), v.st.BalanceOf(path[i+1], p.Address))
		if err != nil {
			return nil, err
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

func (v *V2) SwapExactTokensForTokens(payer common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]*big.Int, error) {
	if deadline != nil && deadline.Cmp(big.NewInt(v.st.Now().Unix())) < 0 {
		return nil, fmt.Errorf("v2: %w", core.ErrExpired)
	}
	amounts, err := v.GetAmountsOut(amountIn, path)
	if err != nil {
		return nil, err
	}
	last := amounts[len(amounts)-1]
	if amountOutMin != nil && last.Cmp(amountOutMin) < 0 {
		return nil, fmt.Errorf("v2: %w: out %s < min %s", core.ErrTooLittleReceived, last, amountOutMin)
	}

	first, _ := v.Pair(path[0], path[1])
	if err := v.st.Transfer(path[0], payer, first.Address, amountIn); err != nil {
		return nil, fmt.Errorf("v2: pay %s: %w", path[0].Hex(), err)
	}
	for i := 0; i < len(path)-1; i++ {
		from, _ := v.Pair(path[i], path[i+1])
		dest := to
		if i < len(path)-2 {
			next, _ := v.Pair(path[i+1], path[i+2])
			dest = next.Address
		}
		if err := v.st.Transfer(path[i+1], from.Address, dest, amounts[i+1]); err != nil {
			return nil, fmt.Errorf("v2: hop %d: %w", i, err)
		}
	}
	return amounts, nil
}

func sortKey(a, b common.Address) [2]common.Address {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	return [2]common.Address{a, b}
}
