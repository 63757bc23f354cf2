package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/you/flash-arb/internal/chain"
	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/lending"
	imetrics "github.com/you/flash-arb/internal/metrics"
	"github.com/you/flash-arb/internal/strategy"
	"github.com/you/flash-arb/internal/types"
	"github.com/you/flash-arb/internal/units"
	"go.uber.org/zap"
)

// Phase is the position of the in-flight execution in its state machine.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseLoanRequested
	PhaseCallbackReceived
	PhaseAuthenticated
	PhaseStrategyDispatched
	PhaseSwapsExecuted
	PhaseRepaid
	PhaseRecorded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoanRequested:
		return "loan_requested"
	case PhaseCallbackReceived:
		return "callback_received"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseStrategyDispatched:
		return "strategy_dispatched"
	case PhaseSwapsExecuted:
		return "swaps_executed"
	case PhaseRepaid:
		return "repaid"
	case PhaseRecorded:
		return "recorded"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

type Facility interface {
	Address() common.Address
	FlashLoan(receiver lending.Receiver, assets []common.Address, amounts []*big.Int, payload []byte) error
}

// Controls is the read side of the administration context.
type Controls interface {
	Owner() common.Address
	Paused() bool
	RouterApproved(router common.Address) bool
}

type Recorder interface {
	Record(ctx context.Context, res types.ExecutionResult) error
}

// Executor is the flash-loan receiver. One call to Execute is one
// all-or-nothing unit of work: borrow, swap, repay, record.
type Executor struct {
	addr     common.Address
	st       *chain.State
	facility Facility
	v3       core.SingleSwapper
	v2       *core.Registry
	ctrl     Controls
	ledger   Recorder
	decimals units.Decimals
	log      *zap.Logger

	phase  atomic.Int32
	staged *types.ExecutionResult
	onDone []func(types.ExecutionResult)
}

func NewExecutor(
	addr common.Address,
	st *chain.State,
	facility Facility,
	v3 core.SingleSwapper,
	v2 *core.Registry,
	ctrl Controls,
	ledger Recorder,
	log *zap.Logger,
) *Executor {
	return &Executor{
		addr:     addr,
		st:       st,
		facility: facility,
		v3:       v3,
		v2:       v2,
		ctrl:     ctrl,
		ledger:   ledger,
		decimals: units.Decimals{},
		log:      log.Named("execution"),
	}
}

// SetDecimals sets the token precisions used when logging amounts.
func (e *Executor) SetDecimals(d units.Decimals) { e.decimals = d }

// OnRecorded registers fn to be called with every recorded result. Must be
// called before the executor is used.
func (e *Executor) OnRecorded(fn func(types.ExecutionResult)) { e.onDone = append(e.onDone, fn) }

func (e *Executor) Address() common.Address { return e.addr }

func (e *Executor) Phase() Phase { return Phase(e.phase.Load()) }

func (e *Executor) ExecuteFeeTierArb(ctx context.Context, caller, asset common.Address, amount *big.Int, p strategy.FeeTierArb) (types.ExecutionResult, error) {
	return e.Execute(ctx, caller, asset, amount, p)
}

func (e *Executor) ExecuteCrossProtocolArb(ctx context.Context, caller, asset common.Address, amount *big.Int, p strategy.CrossProtocolArb) (types.ExecutionResult, error) {
	return e.Execute(ctx, caller, asset, amount, p)
}

// ExecuteRequest parses a wire request and executes it on behalf of caller.
func (e *Executor) ExecuteRequest(ctx context.Context, caller common.Address, req types.Request) (types.ExecutionResult, error) {
	asset, amount, p, err := req.Parse()
	if err != nil {
		return types.ExecutionResult{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	res, err := e.Execute(ctx, caller, asset, amount, p)
	res.RequestID = req.ID
	return res, err
}

// Execute is the loan initiator. On error no balance and no ledger counter
// has changed.
func (e *Executor) Execute(ctx context.Context, caller, asset common.Address, amount *big.Int, p strategy.Payload) (types.ExecutionResult, error) {
	start := time.Now()
	res, err := e.execute(ctx, caller, asset, amount, p)
	imetrics.ExecutionLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		kind := Kind(err)
		imetrics.ExecutionFailures.WithLabelValues(kind).Inc()
		e.log.Warn("execution reverted",
			zap.String("asset", asset.Hex()),
			zap.String("amount", e.decimals.Format(asset, amount)),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return types.ExecutionResult{}, err
	}

	profit, _ := new(big.Float).SetInt(res.ProfitRealized).Float64()
	imetrics.Executions.WithLabelValues(res.StrategyTag.String()).Inc()
	imetrics.ProfitTotal.WithLabelValues(asset.Hex()).Add(profit)
	e.log.Info("execution recorded",
		zap.String("id", res.ID),
		zap.String("strategy", res.StrategyTag.String()),
		zap.String("asset", asset.Hex()),
		zap.String("amount", e.decimals.Format(asset, res.AmountBorrowed)),
		zap.String("fee", e.decimals.Format(asset, res.Fee)),
		zap.String("profit", e.decimals.Format(asset, res.ProfitRealized)),
	)
	for _, fn := range e.onDone {
		fn(res)
	}
	return res, nil
}

func (e *Executor) execute(ctx context.Context, caller, asset common.Address, amount *big.Int, p strategy.Payload) (types.ExecutionResult, error) {
	if !e.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseLoanRequested)) {
		return types.ExecutionResult{}, ErrReentrant
	}
	defer e.phase.Store(int32(PhaseIdle))
	defer func() { e.staged = nil }()

	if err := e.checkRequest(caller, asset, amount, p); err != nil {
		return types.ExecutionResult{}, err
	}
	data, err := strategy.Encode(p)
	if err != nil {
		return types.ExecutionResult{}, fmt.Errorf("%w: %v", ErrDecoding, err)
	}

	snap := e.st.Snapshot()
	if err := e.facility.FlashLoan(e, []common.Address{asset}, []*big.Int{new(big.Int).Set(amount)}, data); err != nil {
		e.st.RevertToSnapshot(snap)
		return types.ExecutionResult{}, err
	}
	if e.staged == nil {
		e.st.RevertToSnapshot(snap)
		return types.ExecutionResult{}, errors.New("lending facility returned without calling back")
	}

	res := *e.staged
	res.ID = uuid.New().String()
	res.PayloadDigest = strategy.Digest(data)
	res.At = e.st.Now().UTC()
	if err := e.ledger.Record(ctx, res); err != nil {
		e.st.RevertToSnapshot(snap)
		return types.ExecutionResult{}, err
	}
	e.st.DiscardSnapshot(snap)
	e.setPhase(PhaseRecorded)
	return res, nil
}

func (e *Executor) checkRequest(caller, asset common.Address, amount *big.Int, p strategy.Payload) error {
	if caller != e.ctrl.Owner() {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	if e.ctrl.Paused() {
		return ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	switch v := p.(type) {
	case strategy.FeeTierArb:
		if v.TokenA != asset {
			return fmt.Errorf("%w: borrowed %s, first leg spends %s", ErrAssetMismatch, asset.Hex(), v.TokenA.Hex())
		}
	case strategy.CrossProtocolArb:
		if v.TokenIn != asset {
			return fmt.Errorf("%w: borrowed %s, first leg spends %s", ErrAssetMismatch, asset.Hex(), v.TokenIn.Hex())
		}
		// approval cannot change while the unit runs, so checking here covers the callback
		if !e.ctrl.RouterApproved(v.V2Router) {
			return fmt.Errorf("%w: %s", ErrRouterNotApproved, v.V2Router.Hex())
		}
		if e.v2.Get(v.V2Router) == nil {
			return fmt.Errorf("%w: %s", ErrUnknownRouter, v.V2Router.Hex())
		}
	case nil:
		return fmt.Errorf("%w: nil payload", ErrDecoding)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownStrategy, p)
	}
	return nil
}

// OnLoanReceived is the lending facility's callback.
func (e *Executor) OnLoanReceived(caller common.Address, assets []common.Address, amounts, fees []*big.Int, payload []byte) error {
	if caller != e.facility.Address() {
		return fmt.Errorf("%w: %s", ErrUntrustedCallback, caller.Hex())
	}
	if !e.phase.CompareAndSwap(int32(PhaseLoanRequested), int32(PhaseCallbackReceived)) {
		return ErrNoPendingLoan
	}
	if len(assets) != 1 || len(amounts) != 1 || len(fees) != 1 {
		return fmt.Errorf("%w: %d assets, %d amounts, %d fees", ErrLoanShape, len(assets), len(amounts), len(fees))
	}
	e.setPhase(PhaseAuthenticated)

	asset, amount, fee := assets[0], amounts[0], fees[0]
	held := new(big.Int).Sub(e.st.BalanceOf(asset, e.addr), amount)

	p, err := strategy.Decode(payload)
	if err != nil {
		return err
	}
	e.setPhase(PhaseStrategyDispatched)

	floor := new(big.Int).Add(amount, fee)
	floor.Add(floor, p.MinProfitFloor())

	switch v := p.(type) {
	case strategy.FeeTierArb:
		err = e.feeTierArb(amount, floor, v)
	case strategy.CrossProtocolArb:
		err = e.crossProtocolArb(amount, floor, v)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownStrategy, p)
	}
	if err != nil {
		return err
	}
	e.setPhase(PhaseSwapsExecuted)

	profit, err := e.repay(caller, asset, amount, fee, held)
	if err != nil {
		return err
	}
	e.setPhase(PhaseRepaid)

	e.staged = &types.ExecutionResult{
		AssetBorrowed:  asset,
		AmountBorrowed: new(big.Int).Set(amount),
		Fee:            new(big.Int).Set(fee),
		ProfitRealized: profit,
		StrategyTag:    p.Tag(),
	}
	return nil
}

// repay returns amount+fee to the facility and reports what is left over
// compared to what the executor held before the loan arrived.
func (e *Executor) repay(facility, asset common.Address, amount, fee, held *big.Int) (*big.Int, error) {
	owed := new(big.Int).Add(amount, fee)
	if err := e.st.Transfer(asset, e.addr, facility, owed); err != nil {
		return nil, fmt.Errorf("%w: repay %s: %v", ErrProfitShortfall, owed, err)
	}
	profit := new(big.Int).Sub(e.st.BalanceOf(asset, e.addr), held)
	if profit.Sign() < 0 {
		return nil, fmt.Errorf("%w: residual %s below pre-loan balance", ErrProfitShortfall, profit)
	}
	return profit, nil
}

// Withdraw sends amount of token (all of it when amount is nil or zero) to
// the owner.
func (e *Executor) Withdraw(caller, token common.Address, amount *big.Int) (*big.Int, error) {
	owner := e.ctrl.Owner()
	if caller != owner {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	if e.Phase() != PhaseIdle {
		return nil, ErrReentrant
	}
	if amount == nil || amount.Sign() == 0 {
		amount = e.st.BalanceOf(token, e.addr)
	}
	if err := e.st.Transfer(token, e.addr, owner, amount); err != nil {
		return nil, fmt.Errorf("withdraw %s: %w", token.Hex(), err)
	}
	e.log.Info("withdrawn",
		zap.String("token", token.Hex()),
		zap.String("amount", e.decimals.Format(token, amount)),
	)
	return amount, nil
}

func (e *Executor) WithdrawNative(caller common.Address, amount *big.Int) (*big.Int, error) {
	return e.Withdraw(caller, chain.Native, amount)
}

func (e *Executor) setPhase(p Phase) { e.phase.Store(int32(p)) }
