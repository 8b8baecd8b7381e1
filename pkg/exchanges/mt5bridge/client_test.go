package mt5bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

type fakeBridge struct {
	mu         sync.Mutex
	orders     []tradeRequestDTO
	auth       []string
	retcode    int
	tickNull   bool
	symbolHits int
}

func (f *fakeBridge) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	record := func(r *http.Request) {
		f.mu.Lock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.mu.Unlock()
	}

	mux.HandleFunc("/api/v1/initialize", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, initResp{Connected: true, Terminal: "MetaTrader 5", Login: 1001, Server: "Demo", ServerTime: 1740996000})
	})
	mux.HandleFunc("/api/v1/time", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, timeResp{ServerTime: time.Now().Add(2 * time.Hour).UnixMilli()})
	})
	mux.HandleFunc("/api/v1/rates", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		q := r.URL.Query()
		if q.Get("symbol") != "XAUUSDm" || q.Get("timeframe") != "M15" || q.Get("count") != "3" {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, errorResp{Error: "bad query " + r.URL.RawQuery})
			return
		}
		writeJSON(w, []rateDTO{
			{Time: 1740995100, Open: 1, High: 2, Low: 0.5, Close: 1.5, TickVolume: 10},
			{Time: 1740996000, Open: 1.5, High: 2, Low: 1, Close: 1.8, TickVolume: 12},
			{Time: 1740996900, Open: 1.8, High: 1.9, Low: 1.7, Close: 1.75, TickVolume: 3},
		})
	})
	mux.HandleFunc("/api/v1/tick", func(w http.ResponseWriter, r *http.Request) {
		if f.tickNull {
			_, _ = w.Write([]byte("null"))
			return
		}
		writeJSON(w, tickDTO{Bid: 2000.10, Ask: 2000.30, Time: 1740996900})
	})
	mux.HandleFunc("/api/v1/account", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, accountDTO{Balance: 10000, Equity: 9950, Margin: 100, MarginFree: 9850, Currency: "USD"})
	})
	mux.HandleFunc("/api/v1/symbol", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.symbolHits++
		f.mu.Unlock()
		writeJSON(w, symbolDTO{Name: "XAUUSDm", Digits: 3, Point: 0.001, TickValue: 0.1, TickSize: 0.001,
			VolumeMin: 0.01, VolumeMax: 200, VolumeStep: 0.01})
	})
	mux.HandleFunc("/api/v1/positions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []positionDTO{{Ticket: 55, Symbol: "XAUUSDm", Type: orderTypeSell, Volume: 0.2,
			PriceOpen: 2001, SL: 2004, Profit: -14, Magic: 123456, Comment: "sma-cross", Time: 1740990000}})
	})
	mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []orderDTO{{Ticket: 77, Symbol: "XAUUSDm", Type: 2, PriceOpen: 1990, TimeSetup: 1740990000}})
	})
	mux.HandleFunc("/api/v1/order", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var req tradeRequestDTO
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.orders = append(f.orders, req)
		code := f.retcode
		f.mu.Unlock()
		if code == 0 {
			code = exchange.RetcodeDone
		}
		writeJSON(w, tradeResultDTO{Retcode: code, Order: 88, Comment: "done", Price: 2000.30, Volume: req.Volume})
	})
	return mux
}

func (f *fakeBridge) sent() []tradeRequestDTO {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tradeRequestDTO(nil), f.orders...)
}

func (f *fakeBridge) authHeaders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.auth...)
}

func newTestClient(t *testing.T, f *fakeBridge) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", Token: "secret", RateLimit: 100}, zerolog.Nop())
}

func TestConnectSyncsClock(t *testing.T) {
	f := &fakeBridge{}
	c := newTestClient(t, f)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if off := c.Clock().Offset(); off < 119*time.Minute || off > 121*time.Minute {
		t.Fatalf("expected ~2h offset, got %v", off)
	}
	if d := c.Clock().Now().Sub(time.Now()); d < 119*time.Minute || d > 121*time.Minute {
		t.Fatalf("clock should run on server time, ahead by %v", d)
	}
	if auth := f.authHeaders(); auth[0] != "Bearer secret" {
		t.Fatalf("missing bearer token, got %q", auth[0])
	}
}

func TestFetchBars(t *testing.T) {
	c := newTestClient(t, &fakeBridge{})
	bars, err := c.FetchBars(context.Background(), "XAUUSDm", exchange.M15, 3)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(bars) != 3 || bars[2].Close != 1.75 || bars[1].Volume != 12 {
		t.Fatalf("unexpected bars %+v", bars)
	}
	if !bars[0].Time.Equal(time.Unix(1740995100, 0)) {
		t.Fatalf("unexpected time %v", bars[0].Time)
	}

	_, err = c.FetchBars(context.Background(), "XAUUSDm", exchange.H1, 3)
	if err == nil || !strings.Contains(err.Error(), "status 400") || !strings.Contains(err.Error(), "bad query") {
		t.Fatalf("expected bridge error, got %v", err)
	}
}

func TestReadEndpoints(t *testing.T) {
	c := newTestClient(t, &fakeBridge{})
	ctx := context.Background()

	acct, err := c.AccountSnapshot(ctx)
	if err != nil || acct.UsedMargin != 100 || acct.FreeMargin != 9850 {
		t.Fatalf("account: %+v %v", acct, err)
	}
	spec, err := c.InstrumentSpec(ctx, "XAUUSDm")
	if err != nil || spec.Point != 0.001 || spec.TickValue != 0.1 || spec.VolumeStep != 0.01 {
		t.Fatalf("spec: %+v %v", spec, err)
	}
	positions, err := c.OpenPositions(ctx, "XAUUSDm")
	if err != nil || len(positions) != 1 {
		t.Fatalf("positions: %+v %v", positions, err)
	}
	if p := positions[0]; p.Side != exchange.SideShort || p.StopLoss != 2004 || p.TakeProfit != 0 || p.Magic != 123456 {
		t.Fatalf("unexpected position %+v", p)
	}
	orders, err := c.PendingOrders(ctx, "XAUUSDm")
	if err != nil || len(orders) != 1 || orders[0].Type != "BUY_LIMIT" {
		t.Fatalf("orders: %+v %v", orders, err)
	}
}

func TestInstrumentSpecIsCached(t *testing.T) {
	f := &fakeBridge{}
	c := newTestClient(t, f)
	for i := 0; i < 3; i++ {
		if _, err := c.InstrumentSpec(context.Background(), "XAUUSDm"); err != nil {
			t.Fatalf("spec: %v", err)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.symbolHits != 1 {
		t.Fatalf("expected one bridge call, got %d", f.symbolHits)
	}
}

func TestNullTickIsError(t *testing.T) {
	c := newTestClient(t, &fakeBridge{tickNull: true})
	if _, err := c.CurrentQuote(context.Background(), "XAUUSDm"); err == nil {
		t.Fatalf("expected error for missing tick")
	}
}

func TestSubmitOrderEncoding(t *testing.T) {
	f := &fakeBridge{}
	c := newTestClient(t, f)

	res, err := c.SubmitOrder(context.Background(), exchange.OrderRequest{
		Action:     exchange.ActionOpen,
		Symbol:     "XAUUSDm",
		Side:       exchange.SideShort,
		Volume:     0.2,
		Price:      2000.10,
		StopLoss:   2003.10,
		TakeProfit: 1994.10,
		Deviation:  20,
		Magic:      123456,
		Comment:    "sma-cross",
		Filling:    exchange.FillFOK,
	})
	if err != nil || !res.Done || res.Ticket != 88 {
		t.Fatalf("submit: %+v %v", res, err)
	}
	got := f.sent()[0]
	if got.Action != "deal" || got.Type != orderTypeSell || got.TypeFilling != "FOK" || got.Deviation != 20 || got.Magic != 123456 {
		t.Fatalf("unexpected wire request %+v", got)
	}
}

func TestRejectedOrderIsResult(t *testing.T) {
	f := &fakeBridge{retcode: exchange.RetcodeInvalidStops}
	c := newTestClient(t, f)
	res, err := c.SubmitOrder(context.Background(), exchange.OrderRequest{Action: exchange.ActionOpen, Symbol: "XAUUSDm", Side: exchange.SideLong, Volume: 0.1})
	if err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if res.Done || res.Code != exchange.RetcodeInvalidStops {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestConvenienceMethods(t *testing.T) {
	f := &fakeBridge{}
	c := newTestClient(t, f)
	ctx := context.Background()

	if _, err := c.ModifyProtection(ctx, 55, 2004, 1995); err != nil {
		t.Fatalf("modify: %v", err)
	}
	if _, err := c.ClosePosition(ctx, 55, 0); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.ClosePosition(ctx, 99, 0); err == nil {
		t.Fatalf("expected error for unknown ticket")
	}

	sent := f.sent()
	mod, closing := sent[0], sent[1]
	if mod.Action != "sltp" || mod.Position != 55 || mod.SL != 2004 || mod.TP != 1995 || mod.Volume != 0 {
		t.Fatalf("unexpected modify request %+v", mod)
	}
	// Closing a short buys back the full volume at the ask.
	if closing.Action != "deal" || closing.Type != orderTypeBuy || closing.Volume != 0.2 || closing.Price != 2000.30 || closing.Position != 55 {
		t.Fatalf("unexpected close request %+v", closing)
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer((&fakeBridge{}).handler())
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 0.001}, zerolog.Nop())

	if _, err := c.AccountSnapshot(context.Background()); err != nil {
		t.Fatalf("first call uses the burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.AccountSnapshot(ctx); err == nil {
		t.Fatalf("expected limiter to refuse within deadline")
	}
}
