package bot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/connectors/redisfeed"
	"github.com/you/flash-arb/internal/execution"
	"github.com/you/flash-arb/internal/risk"
	"github.com/you/flash-arb/internal/sim"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

const world = `
executor:
  address: "0x0000000000000000000000000000000000a4b001"
  owner: "0x00000000000000000000000000000000000a11ce"
lending:
  address: "0x794a61358D6845594F94dc1DB02A252b5b4814aD"
dex:
  v3_router: "0xE592427A0AEce92De3Edee1F18E0157C05861564"
risk:
  max_loan: {WETH: "50"}
sim:
  tokens:
    - {symbol: WETH, address: "0x82af49447d8a07e3bd95bd0d56f35241523fbab1", decimals: 18}
    - {symbol: USDC, address: "0xaf88d065e77c8cc2239327c5edb3a432268e5831", decimals: 6}
  pools:
    - {token_a: WETH, token_b: USDC, fee: 500, address: "0x0000000000000000000000000000000000000500", concentration: 1, reserve_a: "1000", reserve_b: "2200000"}
    - {token_a: WETH, token_b: USDC, fee: 3000, address: "0x0000000000000000000000000000000000003000", concentration: 1, reserve_a: "1000", reserve_b: "2000000"}
  balances:
    - {token: WETH, holder: "0x794a61358D6845594F94dc1DB02A252b5b4814aD", amount: "5000"}
`

var (
	weth = common.HexToAddress("0x82af49447d8a07e3bd95bd0d56f35241523fbab1")
	usdc = common.HexToAddress("0xaf88d065e77c8cc2239327c5edb3a432268e5831")
)

func newTestBot(t *testing.T, extra string) (*Bot, *config.Config) {
	t.Helper()
	cfg, err := config.Parse([]byte(world + extra))
	require.NoError(t, err)
	w, err := sim.Build(context.Background(), cfg, sim.Stores{}, zap.NewNop())
	require.NoError(t, err)
	rk, err := risk.NewEngine(cfg, w.Symbols, w.Decimals)
	require.NoError(t, err)
	return New(cfg, w, rk, zap.NewNop()), cfg
}

// request builds a WETH/USDC fee-tier request. profitable sells WETH into
// the richer 500 pool first.
func request(id, amount string, profitable bool) types.Request {
	r := types.Request{
		ID:        id,
		Strategy:  types.StrategyFeeTier,
		Asset:     weth.Hex(),
		Amount:    amount,
		TokenOut:  usdc.Hex(),
		MinProfit: "1",
	}
	r.BuyFee, r.SellFee = 3000, 500
	if profitable {
		r.BuyFee, r.SellFee = 500, 3000
	}
	return r
}

func TestHandle(t *testing.T) {
	b, _ := newTestBot(t, "")
	ctx := context.Background()

	ok := b.Handle(ctx, request("1", "10000000000000000000", true))
	require.True(t, ok.OK, ok.Error)
	assert.Equal(t, "1", ok.RequestID)
	assert.Equal(t, 1, ok.Result.ProfitRealized.Sign())

	wrongWay := b.Handle(ctx, request("2", "10000000000000000000", false))
	assert.False(t, wrongWay.OK)
	assert.Equal(t, execution.KindProfitShortfall, wrongWay.ErrorKind)

	tooBig := b.Handle(ctx, request("3", "51000000000000000000", true))
	assert.Equal(t, KindRisk, tooBig.ErrorKind)

	garbage := b.Handle(ctx, types.Request{ID: "4", Strategy: "triangle"})
	assert.Equal(t, execution.KindConfiguration, garbage.ErrorKind)

	assert.Equal(t, uint64(1), b.world.Ledger.Totals().TotalArbitrages)
}

func TestSimulate(t *testing.T) {
	b, _ := newTestBot(t, "")
	out := b.Simulate(context.Background(), []types.Request{
		request("a", "1000000000000000000", true),
		request("b", "1000000000000000000", true),
	})
	require.Len(t, out, 2)
	assert.True(t, out[0].OK)
	assert.True(t, out[1].OK)
	assert.Equal(t, 1, out[0].Result.ProfitRealized.Cmp(out[1].Result.ProfitRealized), "first trade eats the spread")
}

func TestServe(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	b, cfg := newTestBot(t, "redis: {addr: \""+mr.Addr()+"\"}\n")
	rdb := redisfeed.NewClient(cfg)
	defer rdb.Close()
	consumer := redisfeed.NewConsumer(rdb, cfg, zap.NewNop())
	pub := redisfeed.NewPublisher(rdb, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, consumer, pub) }()

	_, err = pub.SubmitRequest(ctx, request("live-1", "1000000000000000000", true))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := rdb.XLen(ctx, cfg.Redis.ResultStream).Result()
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)

	entries, err := rdb.XRange(ctx, cfg.Redis.ResultStream, "-", "+").Result()
	require.NoError(t, err)
	var o types.Outcome
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values[redisfeed.FieldOutcome].(string)), &o))
	assert.True(t, o.OK)
	assert.Equal(t, "live-1", o.RequestID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestLoadRequests(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(list, []byte(`
- {id: a, strategy: fee_tier, asset: "0x82af49447d8a07e3bd95bd0d56f35241523fbab1", amount: "1", buy_fee: 500, sell_fee: 3000}
- {id: b, strategy: cross_protocol, v3_to_v2: true}
`), 0o600))
	one := filepath.Join(dir, "one.yaml")
	require.NoError(t, os.WriteFile(one, []byte("id: solo\nstrategy: fee_tier\n"), 0o600))

	got, err := LoadRequests(list)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(3000), got[0].SellFee)
	assert.True(t, got[1].V3ToV2)

	got, err = LoadRequests(one)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "solo", got[0].ID)

	_, err = LoadRequests("")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, log)

	_, err = NewLogger("loud")
	assert.Error(t, err)
}

func TestAdmin(t *testing.T) {
	b, _ := newTestBot(t, "")
	ctx := context.Background()
	sushi := common.HexToAddress("0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506")

	assert.ErrorIs(t, b.Admin(ctx, types.AdminOps{}), types.ErrNoOps)

	ok := b.Handle(ctx, request("1", "10000000000000000000", true))
	require.True(t, ok.OK, ok.Error)
	profit := ok.Result.ProfitRealized

	require.NoError(t, b.Admin(ctx, types.AdminOps{
		Approve:  []common.Address{sushi},
		Withdraw: []types.Withdrawal{{Token: weth}},
		Pause:    true,
	}))
	w := b.world
	assert.True(t, w.Controls.Paused())
	assert.True(t, w.Controls.RouterApproved(sushi))
	assert.Equal(t, profit, w.State.BalanceOf(weth, w.Owner))
	assert.Equal(t, 0, w.State.BalanceOf(weth, w.Executor.Address()).Sign())

	paused := b.Handle(ctx, request("2", "1000000000000000000", true))
	assert.Equal(t, execution.KindConfiguration, paused.ErrorKind)

	require.NoError(t, b.Admin(ctx, types.AdminOps{Unpause: true, Revoke: []common.Address{sushi}}))
	assert.False(t, w.Controls.Paused())
	assert.False(t, w.Controls.RouterApproved(sushi))
}
