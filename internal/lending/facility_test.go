package lending

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-arb/internal/chain"
	"go.uber.org/zap"
)

var (
	pool  = common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD")
	asset = common.HexToAddress("0x82af49447d8a07e3bd95bd0d56f35241523fbab1")
	arb   = common.HexToAddress("0x0000000000000000000000000000000000a4b001")
)

// MockReceiver repays amount+fee+delta (delta may be negative) and records the call.
type MockReceiver struct {
	st     *chain.State
	delta  int64
	err    error
	caller common.Address
	fees   []*big.Int
}

func (m *MockReceiver) Address() common.Address { return arb }

func (m *MockReceiver) OnLoanReceived(caller common.Address, assets []common.Address, amounts, fees []*big.Int, _ []byte) error {
	m.caller = caller
	m.fees = fees
	if m.err != nil {
		return m.err
	}
	owed := new(big.Int).Add(amounts[0], fees[0])
	owed.Add(owed, big.NewInt(m.delta))
	return m.st.Transfer(assets[0], arb, caller, owed)
}

func newFacility(t *testing.T) (*Facility, *chain.State) {
	t.Helper()
	st := chain.NewState()
	require.NoError(t, st.Mint(asset, pool, big.NewInt(1_000_000)))
	require.NoError(t, st.Mint(asset, arb, big.NewInt(100)))
	return NewFacility(st, pool, 9, zap.NewNop()), st
}

func TestPremium(t *testing.T) {
	f, _ := newFacility(t)
	assert.Equal(t, big.NewInt(9), f.Premium(big.NewInt(10_000)))
	assert.Equal(t, big.NewInt(0), f.Premium(big.NewInt(1_000)))
}

func TestFlashLoan_Repaid(t *testing.T) {
	f, st := newFacility(t)
	r := &MockReceiver{st: st}

	err := f.FlashLoan(r, []common.Address{asset}, []*big.Int{big.NewInt(100_000)}, nil)
	require.NoError(t, err)
	assert.Equal(t, pool, r.caller)
	assert.Equal(t, big.NewInt(90), r.fees[0])
	assert.Equal(t, big.NewInt(1_000_090), st.BalanceOf(asset, pool))
	assert.Equal(t, big.NewInt(10), st.BalanceOf(asset, arb))
}

func TestFlashLoan_ShortByOneUnit(t *testing.T) {
	f, st := newFacility(t)
	r := &MockReceiver{st: st, delta: -1}

	err := f.FlashLoan(r, []common.Address{asset}, []*big.Int{big.NewInt(100_000)}, nil)
	assert.ErrorIs(t, err, ErrRepaymentShort)
}

func TestFlashLoan_ReceiverErrorPropagates(t *testing.T) {
	f, st := newFacility(t)
	boom := errors.New("boom")
	err := f.FlashLoan(&MockReceiver{st: st, err: boom}, []common.Address{asset}, []*big.Int{big.NewInt(10)}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestFlashLoan_BadRequests(t *testing.T) {
	f, st := newFacility(t)
	r := &MockReceiver{st: st}

	assert.ErrorIs(t, f.FlashLoan(r, nil, nil, nil), ErrBadLoanRequest)
	assert.ErrorIs(t, f.FlashLoan(r, []common.Address{asset}, []*big.Int{big.NewInt(0)}, nil), ErrBadLoanRequest)
	assert.ErrorIs(t, f.FlashLoan(r, []common.Address{asset}, []*big.Int{big.NewInt(2_000_000)}, nil), ErrInsufficientLiquid)
	assert.Equal(t, big.NewInt(1_000_000), st.BalanceOf(asset, pool))
}
