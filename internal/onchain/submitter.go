package onchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/ledger"
	"github.com/you/flash-arb/internal/multicall"
	"github.com/you/flash-arb/internal/strategy"
	"github.com/you/flash-arb/internal/types"
	"github.com/you/flash-arb/internal/units"
	"go.uber.org/zap"
)

var (
	ErrNoContract = errors.New("onchain: chain.contract not configured")
	ErrWrongChain = errors.New("onchain: rpc serves a different chain")
)

// Backend is the slice of an RPC client the submitter needs. *ethclient.Client
// satisfies it.
type Backend interface {
	ethereum.ContractCaller
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

// Submission is what was sent, or in dry-run mode what would have been.
type Submission struct {
	Method   string         `json:"method"`
	Calldata []byte         `json:"calldata"`
	TxHash   common.Hash    `json:"tx_hash"`
	To       common.Address `json:"to"`
	DryRun   bool           `json:"dry_run"`
}

// Submitter drives the deployed executor contract: it initiates loans and
// carries the owner's admin calls.
type Submitter struct {
	be       Backend
	contract common.Address
	pk       *ecdsa.PrivateKey
	chainID  *big.Int
	sender   common.Address
	gasLimit uint64
	tipCap   *big.Int
	dryRun   bool
	mc       multicall.IClient
	decimals units.Decimals
	log      *zap.Logger
}

// Dial connects to cfg.Chain.RPCHTTP and builds a submitter on top.
func Dial(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Submitter, error) {
	ec, err := ethclient.DialContext(ctx, cfg.Chain.RPCHTTP)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return New(ctx, cfg, ec, log)
}

// New checks that be serves cfg.Chain.ChainID; every transaction is signed
// for that chain.
func New(ctx context.Context, cfg *config.Config, be Backend, log *zap.Logger) (*Submitter, error) {
	if !common.IsHexAddress(cfg.Chain.Contract) {
		return nil, ErrNoContract
	}
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.WalletPK, "0x"))
	if err != nil {
		return nil, fmt.Errorf("bad private key: %w", err)
	}
	chainID, err := be.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	if want := big.NewInt(cfg.Chain.ChainID); chainID.Cmp(want) != 0 {
		return nil, fmt.Errorf("%w: want %s, rpc reports %s", ErrWrongChain, want, chainID)
	}
	s := &Submitter{
		be:       be,
		contract: common.HexToAddress(cfg.Chain.Contract),
		pk:       pk,
		chainID:  chainID,
		sender:   crypto.PubkeyToAddress(pk.PublicKey),
		gasLimit: cfg.Chain.GasLimit,
		dryRun:   cfg.DryRun,
		decimals: units.Decimals{},
		log:      log.Named("onchain"),
	}
	if cfg.Chain.MaxPriorityFeeGwei > 0 {
		gwei := new(big.Float).Mul(big.NewFloat(cfg.Chain.MaxPriorityFeeGwei), big.NewFloat(1e9))
		s.tipCap, _ = gwei.Int(nil)
	}
	if common.IsHexAddress(cfg.Chain.Multicall) {
		s.mc = multicall.New(be, common.HexToAddress(cfg.Chain.Multicall))
	}
	return s, nil
}

func (s *Submitter) SetDecimals(d units.Decimals) { s.decimals = d }

func (s *Submitter) Sender() common.Address { return s.sender }

// PackRequest builds the initiator calldata for req.
func (s *Submitter) PackRequest(req types.Request) (string, []byte, error) {
	asset, amount, p, err := req.Parse()
	if err != nil {
		return "", nil, err
	}
	switch v := p.(type) {
	case strategy.FeeTierArb:
		data, err := contractABI.Pack("executeFeeTierArbitrage",
			asset, amount, v.TokenB, uint24(v.BuyFee), uint24(v.SellFee), v.MinProfit)
		return "executeFeeTierArbitrage", data, err
	case strategy.CrossProtocolArb:
		data, err := contractABI.Pack("executeCrossProtocolArbitrage",
			asset, amount, v.TokenOut, uint24(v.V3Fee), v.V2Router, v.V3ToV2, v.MinProfit)
		return "executeCrossProtocolArbitrage", data, err
	default:
		return "", nil, fmt.Errorf("%w: %T", strategy.ErrUnknownStrategy, p)
	}
}

func (s *Submitter) Submit(ctx context.Context, req types.Request) (Submission, error) {
	method, data, err := s.PackRequest(req)
	if err != nil {
		return Submission{}, err
	}
	return s.send(ctx, method, data)
}

func (s *Submitter) Pause(ctx context.Context) (Submission, error) {
	return s.call(ctx, "pause")
}

func (s *Submitter) Unpause(ctx context.Context) (Submission, error) {
	return s.call(ctx, "unpause")
}

func (s *Submitter) SetRouterApproval(ctx context.Context, router common.Address, approved bool) (Submission, error) {
	return s.call(ctx, "setRouterApproval", router, approved)
}

// Withdraw pulls token from the contract to the owner; a zero amount means
// the whole balance.
func (s *Submitter) Withdraw(ctx context.Context, token common.Address, amount *big.Int) (Submission, error) {
	if amount == nil {
		amount = new(big.Int)
	}
	return s.call(ctx, "withdraw", token, amount)
}

func (s *Submitter) WithdrawNative(ctx context.Context, amount *big.Int) (Submission, error) {
	if amount == nil {
		amount = new(big.Int)
	}
	return s.call(ctx, "withdrawETH", amount)
}

// Apply sends ops as owner calls and returns what was sent so far, stopping
// at the first failure.
func (s *Submitter) Apply(ctx context.Context, ops types.AdminOps) ([]Submission, error) {
	if ops.Empty() {
		return nil, types.ErrNoOps
	}
	if err := ops.Validate(); err != nil {
		return nil, err
	}
	var out []Submission
	step := func(sub Submission, err error) error {
		if err != nil {
			return err
		}
		out = append(out, sub)
		return nil
	}
	if ops.Unpause {
		if err := step(s.Unpause(ctx)); err != nil {
			return out, err
		}
	}
	for _, r := range ops.Approve {
		if err := step(s.SetRouterApproval(ctx, r, true)); err != nil {
			return out, err
		}
	}
	for _, r := range ops.Revoke {
		if err := step(s.SetRouterApproval(ctx, r, false)); err != nil {
			return out, err
		}
	}
	for _, w := range ops.Withdraw {
		var err error
		if w.Token == (common.Address{}) {
			err = step(s.WithdrawNative(ctx, w.Amount))
		} else {
			err = step(s.Withdraw(ctx, w.Token, w.Amount))
		}
		if err != nil {
			return out, err
		}
	}
	if ops.Pause {
		if err := step(s.Pause(ctx)); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Totals reads the contract's accounting counters.
func (s *Submitter) Totals(ctx context.Context) (ledger.Totals, error) {
	profits, err := s.viewUint(ctx, "totalProfits")
	if err != nil {
		return ledger.Totals{}, err
	}
	count, err := s.viewUint(ctx, "totalArbitrages")
	if err != nil {
		return ledger.Totals{}, err
	}
	return ledger.Totals{TotalProfits: profits, TotalArbitrages: count.Uint64()}, nil
}

// LogBalances logs the contract's balance of each token and returns them.
func (s *Submitter) LogBalances(ctx context.Context, tokens []common.Address) (map[common.Address]*big.Int, error) {
	if s.mc == nil {
		return nil, errors.New("onchain: chain.multicall not configured")
	}
	bals, err := s.mc.BalancesOf(ctx, s.contract, tokens)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		s.log.Info("contract balance",
			zap.String("token", t.Hex()),
			zap.String("balance", s.decimals.Format(t, bals[t])),
		)
	}
	return bals, nil
}

func (s *Submitter) call(ctx context.Context, method string, args ...interface{}) (Submission, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return Submission{}, fmt.Errorf("pack %s: %w", method, err)
	}
	return s.send(ctx, method, data)
}

func (s *Submitter) send(ctx context.Context, method string, data []byte) (Submission, error) {
	sub := Submission{Method: method, Calldata: data, To: s.contract, DryRun: s.dryRun}
	if s.dryRun {
		s.log.Warn("dry run, transaction not sent", zap.String("method", method), zap.Int("calldata_len", len(data)))
		return sub, nil
	}
	tx, err := s.signTx(ctx, data)
	if err != nil {
		return Submission{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := s.be.SendTransaction(ctx, tx); err != nil {
		return Submission{}, fmt.Errorf("send transaction: %w", err)
	}
	sub.TxHash = tx.Hash()
	s.log.Info("transaction sent",
		zap.String("method", method),
		zap.String("tx", sub.TxHash.Hex()),
		zap.Uint64("nonce", tx.Nonce()),
	)
	return sub, nil
}

func (s *Submitter) signTx(ctx context.Context, input []byte) (*gethtypes.Transaction, error) {
	nonce, err := s.be.PendingNonceAt(ctx, s.sender)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	gasTipCap := s.tipCap
	if gasTipCap == nil {
		if gasTipCap, err = s.be.SuggestGasTipCap(ctx); err != nil {
			return nil, fmt.Errorf("suggest gas tip cap: %w", err)
		}
	}
	header, err := s.be.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get header: %w", err)
	}
	if header.BaseFee == nil {
		return nil, errors.New("get header: no base fee")
	}
	gasFeeCap := new(big.Int).Add(new(big.Int).Mul(header.BaseFee, big.NewInt(2)), gasTipCap)

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       s.gasLimit,
		To:        &s.contract,
		Value:     big.NewInt(0),
		Data:      input,
	})
	return gethtypes.SignTx(tx, gethtypes.NewLondonSigner(s.chainID), s.pk)
}

func (s *Submitter) viewUint(ctx context.Context, method string) (*big.Int, error) {
	data, err := contractABI.Pack(method)
	if err != nil {
		return nil, err
	}
	out, err := s.be.CallContract(ctx, ethereum.CallMsg{From: s.sender, To: &s.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals[0].(*big.Int), nil
}

// uint24 packs a fee tier the way go-ethereum expects non-native widths.
func uint24(v uint32) *big.Int { return new(big.Int).SetUint64(uint64(v)) }
