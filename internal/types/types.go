package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/strategy"
)

type StrategyName string

const (
	StrategyFeeTier       StrategyName = "fee_tier"
	StrategyCrossProtocol StrategyName = "cross_protocol"
)

var ErrBadRequest = errors.New("bad execution request")

// Request is the wire form of a pre-computed opportunity submitted for
// execution. Amounts are decimal strings in the token's base units.
type Request struct {
	ID        string       `json:"id" yaml:"id"`
	Strategy  StrategyName `json:"strategy" yaml:"strategy"`
	Asset     string       `json:"asset" yaml:"asset"`
	Amount    string       `json:"amount" yaml:"amount"`
	TokenOut  string       `json:"token_out" yaml:"token_out"`
	BuyFee    uint32       `json:"buy_fee,omitempty" yaml:"buy_fee"`
	SellFee   uint32       `json:"sell_fee,omitempty" yaml:"sell_fee"`
	V3Fee     uint32       `json:"v3_fee,omitempty" yaml:"v3_fee"`
	V2Router  string       `json:"v2_router,omitempty" yaml:"v2_router"`
	V3ToV2    bool         `json:"v3_to_v2,omitempty" yaml:"v3_to_v2"`
	MinProfit string       `json:"min_profit" yaml:"min_profit"`
}

// Parse validates the request and builds the strategy payload. The borrowed
// asset is always the first leg's input token.
func (r Request) Parse() (common.Address, *big.Int, strategy.Payload, error) {
	asset, err := parseAddress("asset", r.Asset)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	out, err := parseAddress("token_out", r.TokenOut)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	amount, err := parseAmount("amount", r.Amount)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	minProfit := new(big.Int)
	if strings.TrimSpace(r.MinProfit) != "" {
		if minProfit, err = parseAmount("min_profit", r.MinProfit); err != nil {
			return common.Address{}, nil, nil, err
		}
	}

	switch StrategyName(strings.ToLower(string(r.Strategy))) {
	case StrategyFeeTier:
		return asset, amount, strategy.FeeTierArb{
			TokenA:    asset,
			TokenB:    out,
			BuyFee:    r.BuyFee,
			SellFee:   r.SellFee,
			MinProfit: minProfit,
		}, nil
	case StrategyCrossProtocol:
		router, err := parseAddress("v2_router", r.V2Router)
		if err != nil {
			return common.Address{}, nil, nil, err
		}
		return asset, amount, strategy.CrossProtocolArb{
			TokenIn:   asset,
			TokenOut:  out,
			V3Fee:     r.V3Fee,
			V2Router:  router,
			V3ToV2:    r.V3ToV2,
			MinProfit: minProfit,
		}, nil
	default:
		return common.Address{}, nil, nil, fmt.Errorf("%w: unknown strategy %q", ErrBadRequest, r.Strategy)
	}
}

// ExecutionResult is recorded once per successful execution and never changed.
type ExecutionResult struct {
	ID             string         `json:"id"`
	RequestID      string         `json:"request_id,omitempty"`
	AssetBorrowed  common.Address `json:"asset"`
	AmountBorrowed *big.Int       `json:"amount"`
	Fee            *big.Int       `json:"fee"`
	ProfitRealized *big.Int       `json:"profit"`
	StrategyTag    strategy.Tag   `json:"strategy_tag"`
	PayloadDigest  common.Hash    `json:"payload_digest"`
	At             time.Time      `json:"at"`
}

// Outcome is what the executor reports back for a request, successful or not.
type Outcome struct {
	RequestID string           `json:"request_id"`
	OK        bool             `json:"ok"`
	ErrorKind string           `json:"error_kind,omitempty"`
	Error     string           `json:"error,omitempty"`
	Result    *ExecutionResult `json:"result,omitempty"`
}

func parseAddress(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", ErrBadRequest, field, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s %q is not a non-negative integer", ErrBadRequest, field, s)
	}
	return v, nil
}
