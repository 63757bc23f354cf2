package univ3

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/chain"
	"github.com/you/flash-arb/internal/dex/core"
)

// fee tiers are in hundredths of a bip: 500 = 0.05%
const feeDenominator = 1_000_000

var ErrBadFeeTier = errors.New("univ3: unsupported fee tier")

// FeeTiers are the tiers a pool may be created with.
var FeeTiers = []uint32{100, 500, 3000, 10000}

type PoolKey struct {
	Token0 common.Address
	Token1 common.Address
	Fee    uint32
}

// NewPoolKey orders the pair the way the factory does.
func NewPoolKey(tokenA, tokenB common.Address, fee uint32) PoolKey {
	if tokenA.Cmp(tokenB) > 0 {
		tokenA, tokenB = tokenB, tokenA
	}
	return PoolKey{Token0: tokenA, Token1: tokenB, Fee: fee}
}

// Pool reserves are the pool account's balances in the state. Concentration
// scales them into virtual reserves: liquidity packed into a narrow range
// quotes as if the pool were that many times deeper, until the real reserve
// of the output token runs out.
type Pool struct {
	Key           PoolKey
	Address       common.Address
	Concentration int64
}

// Router is a single-pool exact-input router over simulated fee-tier pools.
type Router struct {
	st   *chain.State
	addr common.Address

	mu    sync.RWMutex
	pools map[PoolKey]*Pool
}

func NewRouter(st *chain.State, addr common.Address) *Router {
	return &Router{st: st, addr: addr, pools: make(map[PoolKey]*Pool, 8)}
}

func (r *Router) Address() common.Address { return r.addr }

func (r *Router) CreatePool(tokenA, tokenB common.Address, fee uint32, poolAddr common.Address, concentration int64) (*Pool, error) {
	if !validTier(fee) {
		return nil, fmt.Errorf("%w: %d", ErrBadFeeTier, fee)
	}
	if tokenA == tokenB {
		return nil, fmt.Errorf("univ3: identical tokens %s", tokenA.Hex())
	}
	if concentration < 1 {
		concentration = 1
	}
	key := NewPoolKey(tokenA, tokenB, fee)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[key]; ok {
		return nil, fmt.Errorf("univ3: pool %s/%s fee %d already exists", key.Token0.Hex(), key.Token1.Hex(), fee)
	}
	p := &Pool{Key: key, Address: poolAddr, Concentration: concentration}
	r.pools[key] = p
	return p, nil
}

func (r *Router) Pool(tokenA, tokenB common.Address, fee uint32) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[NewPoolKey(tokenA, tokenB, fee)]
	return p, ok
}

// Quote returns the output of swapping amountIn of tokenIn at the given tier
// against current reserves, without moving funds.
func (r *Router) Quote(tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (*big.Int, error) {
	p, ok := r.Pool(tokenIn, tokenOut, fee)
	if !ok {
		return nil, fmt.Errorf("univ3: %w: %s/%s fee %d", core.ErrNoPool, tokenIn.Hex(), tokenOut.Hex(), fee)
	}
	return r.amountOut(p, tokenIn, tokenOut, amountIn)
}

func (r *Router) ExactInputSingle(payer common.Address, p core.ExactInputSingleParams) (*big.Int, error) {
	if p.Deadline != nil && p.Deadline.Cmp(big.NewInt(r.st.Now().Unix())) < 0 {
		return nil, fmt.Errorf("univ3: %w", core.ErrExpired)
	}
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("univ3: %w", core.ErrZeroInput)
	}
	out, err := r.Quote(p.TokenIn, p.TokenOut, p.Fee, p.AmountIn)
	if err != nil {
		return nil, err
	}
	if p.AmountOutMinimum != nil && out.Cmp(p.AmountOutMinimum) < 0 {
		return nil, fmt.Errorf("univ3: %w: out %s < min %s", core.ErrTooLittleReceived, out, p.AmountOutMinimum)
	}
	pool, _ := r.Pool(p.TokenIn, p.TokenOut, p.Fee)
	if err := r.st.Transfer(p.TokenIn, payer, pool.Address, p.AmountIn); err != nil {
		return nil, fmt.Errorf("univ3: pay %s: %w", p.TokenIn.Hex(), err)
	}
	if err := r.st.Transfer(p.TokenOut, pool.Address, p.Recipient, out); err != nil {
		return nil, fmt.Errorf("univ3: send %s: %w", p.TokenOut.Hex(), err)
	}
	return out, nil
}

func (r *Router) amountOut(p *Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("univ3: %w", core.ErrZeroInput)
	}
	reserveIn := r.st.BalanceOf(tokenIn, p.Address)
	reserveOut := r.st.BalanceOf(tokenOut, p.Address)
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, fmt.Errorf("univ3: %w: pool %s is empty", core.ErrInsufficientLiquidity, p.Address.Hex())
	}
	k := big.NewInt(p.Concentration)
	virtIn := new(big.Int).Mul(reserveIn, k)
	virtOut := new(big.Int).Mul(reserveOut, k)

	inAfterFee := new(big.Int).Mul(amountIn, big.NewInt(int64(feeDenominator-p.Key.Fee)))
	inAfterFee.Quo(inAfterFee, big.NewInt(feeDenominator))

	num := new(big.Int).Mul(virtOut, inAfterFee)
	den := new(big.Int).Add(virtIn, inAfterFee)
	out := num.Quo(num, den)
	if out.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("univ3: %w: out %s exceeds reserve %s", core.ErrInsufficientLiquidity, out, reserveOut)
	}
	return out, nil
}

func validTier(fee uint32) bool {
	for _, t := range FeeTiers {
		if t == fee {
			return true
		}
	}
	return false
}
