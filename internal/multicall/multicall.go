package multicall

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const multicallABI = `[{"constant":false,"inputs":[{"components":[{"name":"target","type":"address"},{"name":"callData","type":"bytes"}],"name":"calls","type":"tuple[]"}],"name":"aggregate","outputs":[{"name":"blockNumber","type":"uint256"},{"name":"returnData","type":"bytes[]"}],"payable":false,"stateMutability":"nonpayable","type":"function"}]`

const erc20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"}]`

var (
	aggregateABI = mustABI(multicallABI)
	tokenABI     = mustABI(erc20ABI)
)

type IClient interface {
	Aggregate(ctx context.Context, calls []Call) ([]Result, error)
	BalancesOf(ctx context.Context, holder common.Address, tokens []common.Address) (map[common.Address]*big.Int, error)
}

// Client batches eth_calls through a Multicall contract.
type Client struct {
	c    ethereum.ContractCaller
	addr common.Address
}

func New(c ethereum.ContractCaller, multicallAddr common.Address) *Client {
	return &Client{c: c, addr: multicallAddr}
}

type Call struct {
	Target   common.Address
	CallData []byte
}

type Result struct {
	Success bool
	Data    []byte
}

func (c *Client) Aggregate(ctx context.Context, calls []Call) ([]Result, error) {
	payload, err := aggregateABI.Pack("aggregate", calls)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate: %w", err)
	}

	res, err := c.c.CallContract(ctx, ethereum.CallMsg{To: &c.addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call aggregate: %w", err)
	}

	type AggregateResult struct {
		BlockNumber *big.Int
		ReturnData  [][]byte
	}
	var aggRes AggregateResult
	if err := aggregateABI.UnpackIntoInterface(&aggRes, "aggregate", res); err != nil {
		return nil, fmt.Errorf("unpack aggregate: %w", err)
	}
	if len(aggRes.ReturnData) != len(calls) {
		return nil, fmt.Errorf("aggregate: %d results for %d calls", len(aggRes.ReturnData), len(calls))
	}

	out := make([]Result, len(calls))
	for i, r := range aggRes.ReturnData {
		out[i] = Result{Success: len(r) > 0, Data: r}
	}
	return out, nil
}

// BalancesOf reads holder's ERC-20 balance of every token in one round trip.
// Tokens whose call returned nothing are left out.
func (c *Client) BalancesOf(ctx context.Context, holder common.Address, tokens []common.Address) (map[common.Address]*big.Int, error) {
	data, err := tokenABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	calls := make([]Call, len(tokens))
	for i, t := range tokens {
		calls[i] = Call{Target: t, CallData: data}
	}
	results, err := c.Aggregate(ctx, calls)
	if err != nil {
		return nil, err
	}

	out := make(map[common.Address]*big.Int, len(tokens))
	for i, r := range results {
		if !r.Success {
			continue
		}
		vals, err := tokenABI.Unpack("balanceOf", r.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack balanceOf %s: %w", tokens[i].Hex(), err)
		}
		out[tokens[i]] = vals[0].(*big.Int)
	}
	return out, nil
}

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("bad abi: %v", err))
	}
	return parsed
}
