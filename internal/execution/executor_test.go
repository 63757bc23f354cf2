package execution

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-arb/internal/admin"
	"github.com/you/flash-arb/internal/chain"
	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/dex/univ3"
	v2 "github.com/you/flash-arb/internal/dex/v2"
	"github.com/you/flash-arb/internal/ledger"
	"github.com/you/flash-arb/internal/lending"
	"github.com/you/flash-arb/internal/strategy"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

var (
	weth     = common.HexToAddress("0x82af49447d8a07e3bd95bd0d56f35241523fbab1")
	usdc     = common.HexToAddress("0xaf88d065e77c8cc2239327c5edb3a432268e5831")
	owner    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	stranger = common.HexToAddress("0x000000000000000000000000000000000000bad0")
	arbAddr  = common.HexToAddress("0x0000000000000000000000000000000000a4b001")
	aavePool = common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD")
	v3Router = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
	sushi    = common.HexToAddress("0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506")
	camelot  = common.HexToAddress("0xc873fEcbd354f5A56E00E710B90EF4201db2448d")
	reserve  = common.HexToAddress("0x000000000000000000000000000000000000feed")
)

// MockSwapper fills every single-pool swap at a scripted output per fee tier,
// paying out of a reserve account.
type MockSwapper struct {
	st   *chain.State
	out  map[uint32]*big.Int
	hook func()
}

func (m *MockSwapper) ExactInputSingle(payer common.Address, p core.ExactInputSingleParams) (*big.Int, error) {
	if m.hook != nil {
		m.hook()
	}
	out := m.out[p.Fee]
	if p.AmountOutMinimum != nil && out.Cmp(p.AmountOutMinimum) < 0 {
		return nil, core.ErrTooLittleReceived
	}
	if err := m.st.Transfer(p.TokenIn, payer, reserve, p.AmountIn); err != nil {
		return nil, err
	}
	if err := m.st.Transfer(p.TokenOut, reserve, p.Recipient, out); err != nil {
		return nil, err
	}
	return new(big.Int).Set(out), nil
}

// MockFacility forwards to a real facility but substitutes the payload.
type MockFacility struct {
	*lending.Facility
	payload []byte
}

func (m *MockFacility) FlashLoan(r lending.Receiver, assets []common.Address, amounts []*big.Int, _ []byte) error {
	return m.Facility.FlashLoan(r, assets, amounts, m.payload)
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, types.ExecutionResult) error {
	return errors.New("disk full")
}

type fixture struct {
	st       *chain.State
	exec     *Executor
	ctrl     *admin.Controls
	ledger   *ledger.Ledger
	facility *lending.Facility
	swapper  *MockSwapper
	v3       *univ3.Router
	sushi    *v2.V2
}

func newFixture(t *testing.T, premiumBps int64) *fixture {
	t.Helper()
	ctx := context.Background()
	st := chain.NewState()
	log := zap.NewNop()

	require.NoError(t, st.Mint(weth, aavePool, big.NewInt(1_000_000)))
	require.NoError(t, st.Mint(weth, reserve, big.NewInt(1_000_000)))
	require.NoError(t, st.Mint(usdc, reserve, big.NewInt(1_000_000)))

	ctrl, err := admin.New(ctx, owner, admin.NewMemoryStore(), log)
	require.NoError(t, err)
	led, err := ledger.New(ctx, ledger.NewMemoryStore(), log)
	require.NoError(t, err)

	sushiV2 := v2.New(st, sushi, 30)
	reg := core.NewRegistry()
	reg.Register(&core.Venue{ID: core.VenueSushiV2, Router: sushi, Path: sushiV2})

	f := &fixture{
		st:       st,
		ctrl:     ctrl,
		ledger:   led,
		facility: lending.NewFacility(st, aavePool, premiumBps, log),
		swapper:  &MockSwapper{st: st, out: map[uint32]*big.Int{}},
		v3:       univ3.NewRouter(st, v3Router),
		sushi:    sushiV2,
	}
	f.exec = NewExecutor(arbAddr, st, f.facility, f.swapper, reg, ctrl, led, log)
	return f
}

// useRealPools swaps the scripted venue for the concentrated-liquidity router
// with a cheap 500 tier and a fair 3000 tier.
func (f *fixture) useRealPools(t *testing.T) {
	t.Helper()
	cheap := common.HexToAddress("0x0000000000000000000000000000000000000500")
	fair := common.HexToAddress("0x0000000000000000000000000000000000003000")
	pair := common.HexToAddress("0x0000000000000000000000000000000000000ab0")
	_, err := f.v3.CreatePool(weth, usdc, 500, cheap, 1)
	require.NoError(t, err)
	_, err = f.v3.CreatePool(weth, usdc, 3000, fair, 1)
	require.NoError(t, err)
	_, err = f.sushi.CreatePair(weth, usdc, pair)
	require.NoError(t, err)
	for _, m := range []struct {
		tok, holder common.Address
		amt         int64
	}{
		{weth, cheap, 1_000_000}, {usdc, cheap, 1_100_000},
		{weth, fair, 1_000_000}, {usdc, fair, 1_000_000},
		{weth, pair, 1_000_000}, {usdc, pair, 1_000_000},
	} {
		require.NoError(t, f.st.Mint(m.tok, m.holder, big.NewInt(m.amt)))
	}
	f.exec.v3 = f.v3
}

func feeTier(minProfit int64) strategy.FeeTierArb {
	return strategy.FeeTierArb{TokenA: weth, TokenB: usdc, BuyFee: 500, SellFee: 3000, MinProfit: big.NewInt(minProfit)}
}

func TestExecute_FloorNotMet(t *testing.T) {
	f := newFixture(t, 0)
	f.swapper.out[500] = big.NewInt(2_000)
	f.swapper.out[3000] = big.NewInt(1_004)
	before := f.st.Balances(arbAddr)

	_, err := f.exec.Execute(context.Background(), owner, weth, big.NewInt(1_000), feeTier(5))
	require.ErrorIs(t, err, ErrProfitShortfall)
	assert.ErrorIs(t, err, core.ErrTooLittleReceived)
	assert.Equal(t, KindProfitShortfall, Kind(err))

	assert.Equal(t, before, f.st.Balances(arbAddr))
	assert.Equal(t, big.NewInt(1_000_000), f.st.BalanceOf(weth, aavePool))
	assert.Equal(t, uint64(0), f.ledger.Totals().TotalArbitrages)
	assert.Equal(t, PhaseIdle, f.exec.Phase())
}

func TestExecute_FloorMet(t *testing.T) {
	f := newFixture(t, 0)
	f.swapper.out[500] = big.NewInt(2_000)
	f.swapper.out[3000] = big.NewInt(1_010)

	res, err := f.exec.Execute(context.Background(), owner, weth, big.NewInt(1_000), feeTier(5))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), res.ProfitRealized)
	assert.Equal(t, strategy.TagFeeTier, res.StrategyTag)
	assert.Equal(t, weth, res.AssetBorrowed)
	assert.NotEmpty(t, res.ID)
	assert.NotEqual(t, common.Hash{}, res.PayloadDigest)

	totals := f.ledger.Totals()
	assert.Equal(t, big.NewInt(10), totals.TotalProfits)
	assert.Equal(t, uint64(1), totals.TotalArbitrages)
	assert.Equal(t, big.NewInt(10), f.st.BalanceOf(weth, arbAddr))
	assert.Equal(t, big.NewInt(1_000_000), f.st.BalanceOf(weth, aavePool))
	assert.Equal(t, PhaseIdle, f.exec.Phase())
}

func TestExecute_PremiumRaisesFloor(t *testing.T) {
	f := newFixture(t, 9)
	f.swapper.out[500] = big.NewInt(20_000)
	// 10_000 borrowed, premium 9, min profit 5: the sell leg needs 10_014
	f.swapper.out[3000] = big.NewInt(10_013)

	_, err := f.exec.Execute(context.Background(), owner, weth, big.NewInt(10_000), feeTier(5))
	require.ErrorIs(t, err, ErrProfitShortfall)

	f.swapper.out[3000] = big.NewInt(10_014)
	res, err := f.exec.Execute(context.Background(), owner, weth, big.NewInt(10_000), feeTier(5))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(9), res.Fee)
	assert.Equal(t, big.NewInt(5), res.ProfitRealized)
	assert.Equal(t, big.NewInt(1_000_009), f.st.BalanceOf(weth, aavePool))
}

func TestExecute_ProfitExcludesPriorBalance(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.st.Mint(weth, arbAddr, big.NewInt(500)))
	f.swapper.out[500] = big.NewInt(2_000)
	f.swapper.out[3000] = big.NewInt(1_010)

	res, err := f.exec.Execute(context.Background(), owner, weth, big.NewInt(1_000), feeTier(5))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), res.ProfitRealized)
	assert.Equal(t, big.NewInt(510), f.st.BalanceOf(weth, arbAddr))
}

func TestExecute_FeeTierWithRealPools(t *testing.T) {
	f := newFixture(t, 9)
	f.useRealPools(t)
	amount := big.NewInt(10_000)

	bought, err := f.v3.Quote(weth, usdc, 500, amount)
	require.NoError(t, err)
	sold, err := f.v3.Quote(usdc, weth, 3000, bought)
	require.NoError(t, err)
	want := new(big.Int).Sub(sold, big.NewInt(10_009))
	require.Equal(t, 1, want.Sign(), "pools must be priced apart")

	res, err := f.exec.ExecuteFeeTierArb(context.Background(), owner, weth, amount, feeTier(1))
	require.NoError(t, err)
	assert.Equal(t, want, res.ProfitRealized)
	assert.Equal(t, want, f.st.BalanceOf(weth, arbAddr))
	assert.Equal(t, 0, f.st.BalanceOf(usdc, arbAddr).Sign())
}

func TestExecute_CrossProtocolV3ToV2(t *testing.T) {
	f := newFixture(t, 0)
	f.useRealPools(t)
	require.NoError(t, f.ctrl.SetRouterApproval(context.Background(), owner, sushi, true))
	amount := big.NewInt(10_000)

	bought, err := f.v3.Quote(weth, usdc, 500, amount)
	require.NoError(t, err)
	amounts, err := f.sushi.GetAmountsOut(bought, []common.Address{usdc, weth})
	require.NoError(t, err)
	want := new(big.Int).Sub(amounts[1], amount)
	require.Equal(t, 1, want.Sign())

	p := strategy.CrossProtocolArb{TokenIn: weth, TokenOut: usdc, V3Fee: 500, V2Router: sushi, V3ToV2: true, MinProfit: big.NewInt(1)}
	res, err := f.exec.ExecuteCrossProtocolArb(context.Background(), owner, weth, amount, p)
	require.NoError(t, err)
	assert.Equal(t, want, res.ProfitRealized)
	assert.Equal(t, strategy.TagCrossProtocol, res.StrategyTag)
}

func TestExecute_CrossProtocolV2ToV3Shortfall(t *testing.T) {
	f := newFixture(t, 0)
	f.useRealPools(t)
	require.NoError(t, f.ctrl.SetRouterApproval(context.Background(), owner, sushi, true))
	before := f.st.Balances(arbAddr)

	// buying usdc on the fair pair and selling into the fair tier loses fees both ways
	p := strategy.CrossProtocolArb{TokenIn: weth, TokenOut: usdc, V3Fee: 3000, V2Router: sushi, V3ToV2: false}
	_, err := f.exec.ExecuteCrossProtocolArb(context.Background(), owner, weth, big.NewInt(10_000), p)
	require.ErrorIs(t, err, ErrProfitShortfall)
	assert.Equal(t, before, f.st.Balances(arbAddr))
	assert.Equal(t, big.NewInt(1_000_000), f.st.BalanceOf(usdc, common.HexToAddress("0x0000000000000000000000000000000000000ab0")))
}

func TestExecute_UnapprovedRouter(t *testing.T) {
	f := newFixture(t, 0)
	p := strategy.CrossProtocolArb{TokenIn: weth, TokenOut: usdc, V3Fee: 500, V2Router: sushi, V3ToV2: true}
	swaps := 0
	f.swapper.out[500] = big.NewInt(2_000)
	f.swapper.hook = func() { swaps++ }

	_, err := f.exec.Execute(context.Background(), owner, weth, big.NewInt(1_000), p)
	require.ErrorIs(t, err, ErrRouterNotApproved)
	assert.Equal(t, KindConfiguration, Kind(err))
	assert.Equal(t, big.NewInt(1_000_000), f.st.BalanceOf(weth, aavePool))
	assert.Zero(t, swaps, "no leg runs against an unapproved router")

	require.NoError(t, f.ctrl.SetRouterApproval(context.Background(), owner, camelot, true))
	p.V2Router = camelot
	_, err = f.exec.Execute(context.Background(), owner, weth, big.NewInt(1_000), p)
	assert.ErrorIs(t, err, ErrUnknownRouter)
	assert.Zero(t, swaps)
}

func TestExecute_Preconditions(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.exec.Execute(ctx, stranger, weth, big.NewInt(1_000), feeTier(0))
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, KindAuthorization, Kind(err))

	_, err = f.exec.Execute(ctx, owner, weth, big.NewInt(0), feeTier(0))
	assert.ErrorIs(t, err, ErrZeroAmount)

	_, err = f.exec.Execute(ctx, owner, usdc, big.NewInt(1_000), feeTier(0))
	assert.ErrorIs(t, err, ErrAssetMismatch)

	require.NoError(t, f.ctrl.Pause(owner))
	_, err = f.exec.Execute(ctx, owner, weth, big.NewInt(1_000), feeTier(0))
	assert.ErrorIs(t, err, ErrPaused)
	assert.Equal(t, KindConfiguration, Kind(err))
	assert.Equal(t, PhaseIdle, f.exec.Phase())
}

func TestAdminCallsAreAuthorizationErrors(t *testing.T) {
	f := newFixture(t, 0)

	err := f.ctrl.Pause(stranger)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, KindAuthorization, Kind(err))
	assert.Equal(t, KindAuthorization, Kind(f.ctrl.Unpause(stranger)))
	assert.Equal(t, KindAuthorization, Kind(f.ctrl.SetRouterApproval(context.Background(), stranger, sushi, true)))
	assert.False(t, f.ctrl.Paused())
	assert.False(t, f.ctrl.RouterApproved(sushi))
}

func TestOnLoanReceived_RejectsUntrustedCaller(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.st.Mint(weth, arbAddr, big.NewInt(1_000)))
	data, err := strategy.Encode(feeTier(0))
	require.NoError(t, err)

	err = f.exec.OnLoanReceived(stranger, []common.Address{weth}, []*big.Int{big.NewInt(1_000)}, []*big.Int{big.NewInt(0)}, data)
	assert.ErrorIs(t, err, ErrUntrustedCallback)
	assert.Equal(t, KindAuthorization, Kind(err))

	// right caller, but nothing was requested
	err = f.exec.OnLoanReceived(aavePool, []common.Address{weth}, []*big.Int{big.NewInt(1_000)}, []*big.Int{big.NewInt(0)}, data)
	assert.ErrorIs(t, err, ErrNoPendingLoan)
	assert.Equal(t, big.NewInt(1_000), f.st.BalanceOf(weth, arbAddr))
}

func TestExecute_UnknownStrategyTag(t *testing.T) {
	f := newFixture(t, 0)
	data, err := strategy.Encode(feeTier(0))
	require.NoError(t, err)
	data[31] = 3
	f.exec.facility = &MockFacility{Facility: f.facility, payload: data}

	_, err = f.exec.Execute(context.Background(), owner, weth, big.NewInt(1_000), feeTier(0))
	require.ErrorIs(t, err, ErrDecoding)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Equal(t, KindDecoding, Kind(err))
	assert.Equal(t, big.NewInt(1_000_000), f.st.BalanceOf(weth, aavePool))
	assert.Equal(t, 0, f.st.BalanceOf(weth, arbAddr).Sign())
}

func TestExecute_ReentryIsRejected(t *testing.T) {
	f := newFixture(t, 0)
	f.swapper.out[500] = big.NewInt(2_000)
	f.swapper.out[3000] = big.NewInt(1_010)

	var inner error
	f.swapper.hook = func() {
		f.swapper.hook = nil
		_, inner = f.exec.Execute(context.Background(), owner, weth, big.NewInt(1_000), feeTier(0))
	}

	_, err := f.exec.Execute(context.Background(), owner, weth, big.NewInt(1_000), feeTier(5))
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrReentrant)
	assert.Equal(t, uint64(1), f.ledger.Totals().TotalArbitrages)
}

func TestExecute_LedgerFailureReverts(t *testing.T) {
	f := newFixture(t, 0)
	f.swapper.out[500] = big.NewInt(2_000)
	f.swapper.out[3000] = big.NewInt(1_010)
	f.exec.ledger = failingRecorder{}

	_, err := f.exec.Execute(context.Background(), owner, weth, big.NewInt(1_000), feeTier(5))
	require.Error(t, err)
	assert.Equal(t, 0, f.st.BalanceOf(weth, arbAddr).Sign())
	assert.Equal(t, big.NewInt(1_000_000), f.st.BalanceOf(weth, reserve))
	assert.Equal(t, big.NewInt(1_000_000), f.st.BalanceOf(usdc, reserve))
}

func TestExecuteRequest(t *testing.T) {
	f := newFixture(t, 0)
	f.swapper.out[500] = big.NewInt(2_000)
	f.swapper.out[3000] = big.NewInt(1_010)
	var seen []types.ExecutionResult
	f.exec.OnRecorded(func(r types.ExecutionResult) { seen = append(seen, r) })

	res, err := f.exec.ExecuteRequest(context.Background(), owner, types.Request{
		ID:        "req-1",
		Strategy:  types.StrategyFeeTier,
		Asset:     weth.Hex(),
		Amount:    "1000",
		TokenOut:  usdc.Hex(),
		BuyFee:    500,
		SellFee:   3000,
		MinProfit: "5",
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", res.RequestID)
	require.Len(t, seen, 1)
	assert.Equal(t, res.ID, seen[0].ID)

	_, err = f.exec.ExecuteRequest(context.Background(), owner, types.Request{ID: "req-2", Strategy: "triangle"})
	assert.Equal(t, KindConfiguration, Kind(err))
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.st.Mint(weth, arbAddr, big.NewInt(300)))
	require.NoError(t, f.st.Mint(chain.Native, arbAddr, big.NewInt(7)))

	_, err := f.exec.Withdraw(stranger, weth, nil)
	assert.ErrorIs(t, err, ErrNotOwner)

	n, err := f.exec.Withdraw(owner, weth, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), n)

	n, err = f.exec.Withdraw(owner, weth, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(200), n)
	assert.Equal(t, big.NewInt(300), f.st.BalanceOf(weth, owner))

	n, err = f.exec.WithdrawNative(owner, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7), n)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, KindVenue, Kind(core.ErrNoPool))
	assert.Equal(t, KindDecoding, Kind(strategy.ErrUnknownStrategy))
	assert.Equal(t, KindAuthorization, Kind(admin.ErrNotOwner))
	assert.Equal(t, "strategy_dispatched", PhaseStrategyDispatched.String())
}
