package dash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
)

// Source is the controller as the dashboard sees it.
type Source interface {
	State() types.State
	Subscribe(buf int) (<-chan types.State, func())
}

// Row: одна строка на агрегатор
type Row struct {
	Aggregator  string `json:"aggregator"`
	Top         bool   `json:"top"`
	DestAmount  string `json:"destAmount"`
	EthValue    string `json:"ethValue"`
	EthFee      string `json:"ethFee"`
	MaxEthFee   string `json:"maxEthFee"`
	Overall     string `json:"overall"`
	GasEstimate uint64 `json:"gasEstimate,omitempty"`
	TS          int64  `json:"ts"`
}

// Status is the polling summary shown above the table.
type Status struct {
	Polling    bool   `json:"polling"`
	Fetching   bool   `json:"fetching"`
	CyclesLeft int    `json:"cyclesLeft"`
	Error      string `json:"error,omitempty"`
	TopAgg     string `json:"topAgg,omitempty"`
	SavingsEth string `json:"savingsEth,omitempty"`
	Tracked    int    `json:"bridgeTracked"`
}

// Update is one websocket frame.
type Update struct {
	Status Status `json:"status"`
	Rows   []Row  `json:"rows"`
}

// Rows flattens a snapshot into table rows, best overall value first.
func Rows(s types.State) []Row {
	ts := s.QuotesLastFetched.UnixMilli()
	out := make([]Row, 0, len(s.Quotes))
	for agg, q := range s.Quotes {
		r := Row{
			Aggregator: agg,
			Top:        agg == s.TopAggID,
			DestAmount: q.DestinationAmount.String(),
			TS:         ts,
		}
		if q.GasEstimate != nil {
			r.GasEstimate = *q.GasEstimate
		}
		if v, ok := s.QuoteValues[agg]; ok {
			r.EthValue = v.EthValueOfTokens.String()
			r.EthFee = v.EthFee.String()
			r.MaxEthFee = v.MaxEthFee.String()
			r.Overall = v.OverallValueOfQuote.String()
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		vi, vj := s.QuoteValues[out[i].Aggregator], s.QuoteValues[out[j].Aggregator]
		if !vi.OverallValueOfQuote.Equal(vj.OverallValueOfQuote) {
			return vi.OverallValueOfQuote.GreaterThan(vj.OverallValueOfQuote)
		}
		return out[i].Aggregator < out[j].Aggregator
	})
	return out
}

func statusOf(s types.State) Status {
	st := Status{
		Polling:    s.IsInPolling,
		Fetching:   s.IsInFetch,
		CyclesLeft: s.PollingCyclesLeft,
		Error:      string(s.ErrorKey),
		TopAgg:     s.TopAggID,
		Tracked:    len(s.BridgeStatus),
	}
	if s.TopAggSavings != nil {
		st.SavingsEth = s.TopAggSavings.Total.String()
	}
	return st
}

func updateOf(s types.State) Update { return Update{Status: statusOf(s), Rows: Rows(s)} }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 20 * time.Second
)

// Handler serves the page, the JSON endpoints and the /ws stream.
func Handler(src Source, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(withCORS)

	r.Get("/api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(src.State())
	})
	r.Get("/api/dash", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(updateOf(src.State()))
	})
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("dash ws upgrade failed", zap.Error(err))
			return
		}
		stream(r.Context(), conn, src)
	})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexHTML)
	})
	return r
}

// stream pushes an Update per snapshot until the client goes away.
func stream(ctx context.Context, conn *websocket.Conn, src Source) {
	defer conn.Close()
	states, unsubscribe := src.Subscribe(1)
	defer unsubscribe()

	// читаем только чтобы заметить закрытие клиентом
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(s types.State) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(updateOf(s))
	}
	if err := send(src.State()); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			if err := send(s); err != nil {
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

// StartHTTP serves Handler on addr until ctx is done.
func StartHTTP(ctx context.Context, src Source, addr string, log *zap.Logger) {
	if addr == "" {
		log.Info("dash disabled: empty addr")
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(src, log),
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() { <-ctx.Done(); _ = srv.Close() }()

	log.Info("dash listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("dash http server error", zap.Error(err))
	}
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
  <title>Swap Quotes</title>
  <style>
    :root { --bg:#f8fafc; --card:#fff; --muted:#6b7280; --chip:#e5e7eb; }
    body{margin:0;background:var(--bg);font:14px/1.4 ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Ubuntu; color:#111827;}
    .wrap{max-width:1080px;margin:24px auto;padding:0 16px;}
    .hdr{display:flex;align-items:flex-end;justify-content:space-between;margin-bottom:12px;}
    .state{font-size:12px;padding:2px 8px;border-radius:999px;background:#d1fae5;color:#065f46;}
    .state.err{background:#fee2e2;color:#991b1b;}
    table{width:100%;border-collapse:collapse;background:var(--card);border-radius:16px;overflow:hidden;box-shadow:0 10px 30px rgba(0,0,0,.06);}
    thead{background:#f3f4f6;} th,td{padding:12px 14px;text-align:left;} tbody tr{border-top:1px solid #f3f4f6;}
    tr.top{background:#ecfdf5;}
    .chip{display:inline-block;font-size:12px;padding:2px 8px;background:var(--chip);border-radius:999px;color:#374151;}
    .sub{color:var(--muted);font-size:12px;margin:0;}
  </style>
</head>
<body>
<div class="wrap">
  <div class="hdr">
    <div>
      <h1 style="margin:0;font-size:22px;font-weight:600">Swap Quotes</h1>
      <p class="sub" id="summary">—</p>
    </div>
    <div id="state" class="state">connecting</div>
  </div>
  <table>
    <thead>
      <tr>
        <th>Aggregator</th><th>Received</th><th>Value (ETH)</th>
        <th>Fee (ETH)</th><th>Max fee (ETH)</th><th>Overall (ETH)</th><th>Gas</th>
        <th style="text-align:right">Fetched</th>
      </tr>
    </thead>
    <tbody id="rows"></tbody>
  </table>
  <p class="sub" style="margin-top:8px">Overall = value of received tokens minus network fee when the destination is ETH. Строки отсортированы по overall.</p>
</div>
<script>
  function num(x){ return (x==null||x==='') ? '—' : Number(x).toLocaleString(undefined,{maximumFractionDigits:6}); }
  function rowHTML(r){
    return '<tr class="' + (r.top?'top':'') + '">'
      + '<td><strong>' + r.aggregator + '</strong>' + (r.top?' <span class="chip">best</span>':'') + '</td>'
      + '<td>' + r.destAmount + '</td>'
      + '<td>' + num(r.ethValue) + '</td>'
      + '<td>' + num(r.ethFee) + '</td>'
      + '<td>' + num(r.maxEthFee) + '</td>'
      + '<td>' + num(r.overall) + '</td>'
      + '<td>' + (r.gasEstimate||'—') + '</td>'
      + '<td style="text-align:right;color:#6B7280;font-size:12px">' + (r.ts>0 ? new Date(r.ts).toLocaleTimeString() : '—') + '</td>'
      + '</tr>';
  }
  function render(u){
    var st = document.getElementById('state');
    var s = u.status;
    st.className = 'state' + (s.error ? ' err' : '');
    st.textContent = s.error || (s.fetching ? 'fetching' : (s.polling ? 'polling' : 'idle'));
    document.getElementById('summary').textContent = 'cycles left: ' + s.cyclesLeft
      + (s.savingsEth ? ' · savings ' + num(s.savingsEth) + ' ETH' : '')
      + (s.bridgeTracked ? ' · bridge swaps: ' + s.bridgeTracked : '');
    document.getElementById('rows').innerHTML = (u.rows||[]).map(rowHTML).join('');
  }
  function connect(){
    var ws = new WebSocket((location.protocol==='https:'?'wss://':'ws://') + location.host + '/ws');
    ws.onmessage = function(e){ render(JSON.parse(e.data)); };
    ws.onclose = function(){ document.getElementById('state').textContent = 'offline'; setTimeout(connect, 2000); };
  }
  connect();
</script>
</body>
</html>`
