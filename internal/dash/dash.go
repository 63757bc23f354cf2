package dash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/you/flash-arb/internal/ledger"
	"github.com/you/flash-arb/internal/types"
	"github.com/you/flash-arb/internal/units"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Source is what the dashboard reads from.
type Source interface {
	Totals() ledger.Totals
	Recent(ctx context.Context, limit int) ([]types.ExecutionResult, error)
}

// Websocket message kinds.
const (
	KindExecution = "execution"
	KindTotals    = "totals"
)

// Row: одна исполненная сделка, суммы в единицах токена.
type Row struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Request  string `json:"request_id,omitempty"`
	Strategy string `json:"strategy"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	Fee      string `json:"fee"`
	Profit   string `json:"profit"`
	Digest   string `json:"payload_digest"`
	TS       int64  `json:"ts"`
}

type LedgerView struct {
	Kind            string   `json:"kind,omitempty"`
	TotalProfits    *big.Int `json:"total_profits"`
	TotalArbitrages uint64   `json:"total_arbitrages"`
}

type Dash struct {
	src      Source
	decimals units.Decimals
	log      *zap.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

func New(src Source, decimals units.Decimals, log *zap.Logger) *Dash {
	return &Dash{
		src:      src,
		decimals: decimals,
		log:      log.Named("dash"),
		clients:  make(map[chan []byte]struct{}),
	}
}

func (d *Dash) row(r types.ExecutionResult) Row {
	return Row{
		Kind:     KindExecution,
		ID:       r.ID,
		Request:  r.RequestID,
		Strategy: r.StrategyTag.String(),
		Asset:    r.AssetBorrowed.Hex(),
		Amount:   d.decimals.Format(r.AssetBorrowed, r.AmountBorrowed),
		Fee:      d.decimals.Format(r.AssetBorrowed, r.Fee),
		Profit:   d.decimals.Format(r.AssetBorrowed, r.ProfitRealized),
		Digest:   r.PayloadDigest.Hex(),
		TS:       r.At.UnixMilli(),
	}
}

// Publish pushes a freshly recorded execution to every connected client.
func (d *Dash) Publish(r types.ExecutionResult) {
	d.broadcast(d.row(r))
}

// PushTotals sends the ledger totals to every client each time they change,
// checking every period. Returns when ctx is done.
func (d *Dash) PushTotals(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	var sent uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			totals := d.src.Totals()
			if totals.TotalArbitrages == sent || d.Clients() == 0 {
				continue
			}
			sent = totals.TotalArbitrages
			d.broadcast(LedgerView{Kind: KindTotals, TotalProfits: totals.TotalProfits, TotalArbitrages: totals.TotalArbitrages})
		}
	}
}

// broadcast drops the message for slow clients rather than block the caller.
func (d *Dash) broadcast(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		d.log.Warn("encode push", zap.Error(err))
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.clients {
		select {
		case ch <- b:
		default:
		}
	}
}

func (d *Dash) Clients() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *Dash) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ledger", func(w http.ResponseWriter, r *http.Request) {
		t := d.src.Totals()
		writeJSON(w, LedgerView{TotalProfits: t.TotalProfits, TotalArbitrages: t.TotalArbitrages})
	})
	mux.HandleFunc("/api/executions", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				http.Error(w, "bad limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		recent, err := d.src.Recent(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		rows := make([]Row, 0, len(recent))
		for _, e := range recent {
			rows = append(rows, d.row(e))
		}
		writeJSON(w, rows)
	})
	mux.HandleFunc("/ws", d.serveWS)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexHTML)
	})
	return withCORS(mux)
}

func (d *Dash) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Warn("ws upgrade", zap.Error(err))
		return
	}
	send := make(chan []byte, sendBufferSize)
	d.mu.Lock()
	d.clients[send] = struct{}{}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		d.mu.Lock()
		delete(d.clients, send)
		d.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case b := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Serve blocks until ctx is done or the server fails.
func (d *Dash) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		d.log.Info("dash disabled: empty addr")
		<-ctx.Done()
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	d.log.Info("dash listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Flash-loan executor</title>
  <style>
    :root { --bg:#f8fafc; --card:#fff; --muted:#6b7280; --chip:#e5e7eb; }
    body{margin:0;background:var(--bg);font:14px/1.4 ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Ubuntu; color:#111827;}
    .wrap{max-width:1080px;margin:24px auto;padding:0 16px;}
    .hdr{display:flex;align-items:flex-end;justify-content:space-between;margin-bottom:12px;}
    .state{font-size:12px;padding:2px 8px;border-radius:999px;background:#d1fae5;color:#065f46;}
    table{width:100%;border-collapse:collapse;background:var(--card);border-radius:16px;overflow:hidden;box-shadow:0 10px 30px rgba(0,0,0,.06);}
    thead{background:#f3f4f6;} th,td{padding:12px 14px;text-align:left;} tbody tr{border-top:1px solid #f3f4f6;}
    .chip{display:inline-block;font-size:12px;padding:2px 8px;background:var(--chip);border-radius:999px;color:#374151;}
    .sub{color:var(--muted);font-size:12px;margin:0;}
  </style>
</head>
<body>
<div class="wrap">
  <div class="hdr">
    <div>
      <h1 style="margin:0;font-size:22px;font-weight:600">Flash-loan executor</h1>
      <p class="sub" id="totals">-</p>
    </div>
    <div id="state" class="state">connecting</div>
  </div>
  <table>
    <thead>
      <tr><th>Strategy</th><th>Asset</th><th>Borrowed</th><th>Fee</th><th>Profit</th><th style="text-align:right">At</th></tr>
    </thead>
    <tbody id="rows"></tbody>
  </table>
</div>
<script>
  function rowHTML(r){
    return '<tr>'
      + '<td><span class="chip">' + r.strategy + '</span></td>'
      + '<td>' + r.asset.slice(0,10) + '…</td>'
      + '<td>' + r.amount + '</td><td>' + r.fee + '</td><td><strong>' + r.profit + '</strong></td>'
      + '<td style="text-align:right;color:#6B7280;font-size:12px">' + new Date(r.ts).toLocaleTimeString() + '</td>'
      + '</tr>';
  }
  function showTotals(t){
    document.getElementById('totals').textContent = t.total_arbitrages + ' executions, ' + t.total_profits + ' raw profit';
  }
  async function totals(){
    var res = await fetch('/api/ledger', {cache:'no-store'});
    showTotals(await res.json());
  }
  async function load(){
    var res = await fetch('/api/executions', {cache:'no-store'});
    var rows = await res.json();
    document.getElementById('rows').innerHTML = rows.map(rowHTML).join('');
    totals();
  }
  function connect(){
    var ws = new WebSocket((location.protocol==='https:'?'wss://':'ws://') + location.host + '/ws');
    ws.onopen = function(){ document.getElementById('state').textContent = 'live'; };
    ws.onclose = function(){ document.getElementById('state').textContent = 'offline'; setTimeout(connect, 2000); };
    ws.onmessage = function(ev){
      var m = JSON.parse(ev.data);
      if (m.kind === 'totals') { showTotals(m); return; }
      document.getElementById('rows').insertAdjacentHTML('afterbegin', rowHTML(m));
    };
  }
  load(); connect();
</script>
</body>
</html>`
