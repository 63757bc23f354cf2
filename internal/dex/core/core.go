package core

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type VenueID string

const (
	VenueUniswapV3 VenueID = "uniswap_v3"
	VenueSushiV2   VenueID = "sushi_v2"
	VenueCamelotV2 VenueID = "camelot_v2"
	VenueUniswapV2 VenueID = "uniswap_v2"
)

// Venue-side revert reasons. A swap that fails returns one of these (wrapped),
// and the caller is expected to abort the whole execution.
var (
	ErrTooLittleReceived     = errors.New("too little received")
	ErrExpired               = errors.New("transaction too old")
	ErrNoPool                = errors.New("pool does not exist")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidPath           = errors.New("invalid path")
	ErrZeroInput             = errors.New("zero input amount")
)

// ExactInputSingleParams mirrors ISwapRouter.ExactInputSingleParams.
type ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               uint32
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// SingleSwapper is a single-pool exact-input venue (concentrated liquidity).
// payer is the account whose balance funds amountIn.
type SingleSwapper interface {
	ExactInputSingle(payer common.Address, p ExactInputSingleParams) (amountOut *big.Int, err error)
}

// PathSwapper is a path-based exact-input venue (classic AMM). The last
// element of the returned amounts is the final output.
type PathSwapper interface {
	SwapExactTokensForTokens(payer common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) (amounts []*big.Int, err error)
}

type Venue struct {
	ID     VenueID
	Router common.Address
	Path   PathSwapper
}
