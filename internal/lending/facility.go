package lending

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/chain"
	"go.uber.org/zap"
)

var (
	ErrBadLoanRequest     = errors.New("lending: malformed loan request")
	ErrInsufficientLiquid = errors.New("lending: not enough liquidity")
	ErrRepaymentShort     = errors.New("lending: loan not repaid")
)

// Receiver is called back once the borrowed funds have been transferred.
// caller is the identity invoking the callback; an honest facility passes its
// own address.
type Receiver interface {
	Address() common.Address
	OnLoanReceived(caller common.Address, assets []common.Address, amounts, fees []*big.Int, payload []byte) error
}

// Facility lends its own balances for the duration of a single callback.
type Facility struct {
	st         *chain.State
	addr       common.Address
	premiumBps int64
	log        *zap.Logger
}

func NewFacility(st *chain.State, addr common.Address, premiumBps int64, log *zap.Logger) *Facility {
	return &Facility{st: st, addr: addr, premiumBps: premiumBps, log: log.Named("lending")}
}

func (f *Facility) Address() common.Address { return f.addr }

// Premium is the fee charged on a loan of amount, rounded down.
func (f *Facility) Premium(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(f.premiumBps))
	return fee.Quo(fee, big.NewInt(10_000))
}

// FlashLoan transfers the requested amounts to the receiver, invokes its
// callback and then requires every asset to come back with its fee. It leaves
// reverting the state to the caller that opened the unit of work.
func (f *Facility) FlashLoan(receiver Receiver, assets []common.Address, amounts []*big.Int, payload []byte) error {
	if len(assets) == 0 || len(assets) != len(amounts) {
		return fmt.Errorf("%w: %d assets, %d amounts", ErrBadLoanRequest, len(assets), len(amounts))
	}
	before := make([]*big.Int, len(assets))
	fees := make([]*big.Int, len(assets))
	for i, asset := range assets {
		if amounts[i] == nil || amounts[i].Sign() <= 0 {
			return fmt.Errorf("%w: zero amount for %s", ErrBadLoanRequest, asset.Hex())
		}
		before[i] = f.st.BalanceOf(asset, f.addr)
		if before[i].Cmp(amounts[i]) < 0 {
			return fmt.Errorf("%w: %s has %s, asked %s", ErrInsufficientLiquid, asset.Hex(), before[i], amounts[i])
		}
		fees[i] = f.Premium(amounts[i])
	}
	for i, asset := range assets {
		if err := f.st.Transfer(asset, f.addr, receiver.Address(), amounts[i]); err != nil {
			return fmt.Errorf("lending: disburse %s: %w", asset.Hex(), err)
		}
	}

	if err := receiver.OnLoanReceived(f.addr, assets, amounts, fees, payload); err != nil {
		return err
	}

	for i, asset := range assets {
		want := new(big.Int).Add(before[i], fees[i])
		have := f.st.BalanceOf(asset, f.addr)
		if have.Cmp(want) < 0 {
			return fmt.Errorf("%w: %s short by %s", ErrRepaymentShort, asset.Hex(), new(big.Int).Sub(want, have))
		}
		f.log.Debug("flash loan repaid",
			zap.String("asset", asset.Hex()),
			zap.String("amount", amounts[i].String()),
			zap.String("fee", fees[i].String()),
		)
	}
	return nil
}
