package dash

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-arb/internal/ledger"
	"github.com/you/flash-arb/internal/strategy"
	"github.com/you/flash-arb/internal/types"
	"github.com/you/flash-arb/internal/units"
	"go.uber.org/zap"
)

var weth = common.HexToAddress("0x82af49447d8a07e3bd95bd0d56f35241523fbab1")

func result(id string, profit int64) types.ExecutionResult {
	return types.ExecutionResult{
		ID:             id,
		AssetBorrowed:  weth,
		AmountBorrowed: big.NewInt(1_000_000_000_000_000_000),
		Fee:            big.NewInt(500_000_000_000_000),
		ProfitRealized: big.NewInt(profit),
		StrategyTag:    strategy.TagFeeTier,
		At:             time.Unix(1_700_000_000, 0),
	}
}

func newTestDash(t *testing.T) (*Dash, *httptest.Server) {
	d, _, srv := newTestDashLedger(t)
	return d, srv
}

func newTestDashLedger(t *testing.T) (*Dash, *ledger.Ledger, *httptest.Server) {
	t.Helper()
	led, err := ledger.New(context.Background(), ledger.NewMemoryStore(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, led.Record(context.Background(), result("a", 10)))
	require.NoError(t, led.Record(context.Background(), result("b", 250_000_000_000_000_000)))

	d := New(led, units.Decimals{weth: 18}, zap.NewNop())
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return d, led, srv
}

func TestLedgerEndpoint(t *testing.T) {
	_, srv := newTestDash(t)

	resp, err := http.Get(srv.URL + "/api/ledger")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var v LedgerView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, uint64(2), v.TotalArbitrages)
	assert.Equal(t, big.NewInt(250_000_000_000_000_010), v.TotalProfits)
}

func TestExecutionsEndpoint(t *testing.T) {
	_, srv := newTestDash(t)

	resp, err := http.Get(srv.URL + "/api/executions?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var rows []Row
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0].ID)
	assert.Equal(t, "0.25", rows[0].Profit)
	assert.Equal(t, "1", rows[0].Amount)
	assert.Equal(t, "fee_tier", rows[0].Strategy)

	bad, err := http.Get(srv.URL + "/api/executions?limit=x")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestWebSocketPush(t *testing.T) {
	d, srv := newTestDash(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return d.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	d.Publish(result("c", 5))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var row Row
	require.NoError(t, json.Unmarshal(msg, &row))
	assert.Equal(t, KindExecution, row.Kind)
	assert.Equal(t, "c", row.ID)
	assert.Equal(t, "0.000000000000000005", row.Profit)

	conn.Close()
	require.Eventually(t, func() bool { return d.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPushTotals(t *testing.T) {
	d, led, srv := newTestDashLedger(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return d.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.PushTotals(ctx, 10*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var v LedgerView
	require.NoError(t, json.Unmarshal(msg, &v))
	assert.Equal(t, KindTotals, v.Kind)
	assert.Equal(t, uint64(2), v.TotalArbitrages)

	require.NoError(t, led.Record(context.Background(), result("c", 1)))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg, &v))
	assert.Equal(t, uint64(3), v.TotalArbitrages)
	assert.Equal(t, big.NewInt(250_000_000_000_000_011), v.TotalProfits)
}
