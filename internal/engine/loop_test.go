package engine

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/somboon29/MT5-Bot/internal/events"
	"github.com/somboon29/MT5-Bot/internal/order"
	"github.com/somboon29/MT5-Bot/internal/risk"
	"github.com/somboon29/MT5-Bot/internal/strategy"
	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

const testSymbol = "XAUUSDm"

var (
	holdCloses = []float64{10, 10, 10, 10, 10, 10}
	buyCloses  = []float64{10, 10, 10, 10, 10, 12}
	sellCloses = []float64{10, 10, 10, 10, 10, 8}
)

type fakeGateway struct {
	mu sync.Mutex

	connectFailures int
	bars            []exchange.Bar
	barsErr         error
	panicOnFetch    bool
	acct            exchange.AccountSnapshot
	spec            exchange.InstrumentSpec
	quote           exchange.Quote
	positions       []exchange.Position
	pending         []exchange.PendingOrder
	rejectCode      int
	nextTicket      uint64

	submitted []exchange.OrderRequest
}

func newFakeGateway(closes []float64) *fakeGateway {
	return &fakeGateway{
		bars: barsFrom(closes),
		acct: exchange.AccountSnapshot{Balance: 10000, Equity: 10000, FreeMargin: 10000},
		spec: exchange.InstrumentSpec{
			Symbol: testSymbol, Digits: 2, Point: 0.01, TickValue: 1, TickSize: 0.01,
			VolumeMin: 0.01, VolumeMax: 200, VolumeStep: 0.01,
		},
		quote:      exchange.Quote{Bid: 2000, Ask: 2000.2},
		nextTicket: 1000,
	}
}

func barsFrom(closes []float64) []exchange.Bar {
	t0 := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	bars := make([]exchange.Bar, len(closes))
	for i, c := range closes {
		bars[i] = exchange.Bar{Time: t0.Add(time.Duration(i) * 15 * time.Minute), Open: c, High: c, Low: c, Close: c}
	}
	return bars
}

func (f *fakeGateway) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectFailures > 0 {
		f.connectFailures--
		return errors.New("terminal not running")
	}
	return nil
}

func (f *fakeGateway) FetchBars(ctx context.Context, symbol string, tf exchange.Timeframe, count int) ([]exchange.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnFetch {
		panic("corrupt rates buffer")
	}
	if f.barsErr != nil {
		return nil, f.barsErr
	}
	return append([]exchange.Bar(nil), f.bars...), nil
}

func (f *fakeGateway) CurrentQuote(ctx context.Context, symbol string) (exchange.Quote, error) {
	return f.quote, nil
}

func (f *fakeGateway) AccountSnapshot(ctx context.Context) (exchange.AccountSnapshot, error) {
	return f.acct, nil
}

func (f *fakeGateway) InstrumentSpec(ctx context.Context, symbol string) (exchange.InstrumentSpec, error) {
	return f.spec, nil
}

func (f *fakeGateway) OpenPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.Position(nil), f.positions...), nil
}

func (f *fakeGateway) PendingOrders(ctx context.Context, symbol string) ([]exchange.PendingOrder, error) {
	return f.pending, nil
}

func (f *fakeGateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.rejectCode != 0 {
		return exchange.ResultFromCode(f.rejectCode, "No money"), nil
	}

	res := exchange.ResultFromCode(exchange.RetcodeDone, "Request executed")
	switch req.Action {
	case exchange.ActionOpen:
		f.nextTicket++
		f.positions = append(f.positions, exchange.Position{
			Ticket: f.nextTicket, Symbol: req.Symbol, Side: req.Side, Volume: req.Volume,
			EntryPrice: req.Price, StopLoss: req.StopLoss, TakeProfit: req.TakeProfit,
		})
		res.Ticket = f.nextTicket
	case exchange.ActionClose:
		kept := f.positions[:0]
		for _, p := range f.positions {
			if p.Ticket != req.Position {
				kept = append(kept, p)
			}
		}
		f.positions = kept
		res.Ticket = req.Position
	case exchange.ActionModifyProtection:
		for i := range f.positions {
			if f.positions[i].Ticket == req.Position {
				f.positions[i].StopLoss, f.positions[i].TakeProfit = req.StopLoss, req.TakeProfit
			}
		}
		res.Ticket = req.Position
	}
	return res, nil
}

func (f *fakeGateway) ModifyProtection(ctx context.Context, ticket uint64, sl, tp float64) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, errors.New("not used")
}

func (f *fakeGateway) ClosePosition(ctx context.Context, ticket uint64, volume float64) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, errors.New("not used")
}

func (f *fakeGateway) requests() []exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.OrderRequest(nil), f.submitted...)
}

type countingSupervisor struct {
	inner PositionSupervisor
	runs  int
}

func (c *countingSupervisor) Run(ctx context.Context) (risk.SupervisionReport, error) {
	c.runs++
	return c.inner.Run(ctx)
}

func newTestLoop(gw *fakeGateway, logger zerolog.Logger) (*Loop, *countingSupervisor) {
	riskCfg := risk.DefaultConfig()
	exec := order.NewExecutor(gw, order.Config{Symbol: testSymbol, Deviation: 20, Magic: 123456, Comment: "sma-cross"}, nil, logger)
	sup := &countingSupervisor{inner: risk.NewSupervisor(gw, exec, testSymbol, riskCfg, logger)}
	cfg := Config{
		Symbol:           testSymbol,
		Timeframe:        exchange.M15,
		BarCount:         200,
		StopLossPoints:   riskCfg.StopLossPoints,
		TakeProfitPoints: riskCfg.TakeProfitPoints,
		CycleInterval:    5 * time.Minute,
		RetryInterval:    time.Minute,
		ErrorBackoff:     90 * time.Second,
	}
	l := New(gw, strategy.NewMACross(2, 4), risk.NewSizer(riskCfg), exec, sup, cfg, nil, logger)
	n := 0
	l.newID = func() string { n++; return "cycle-" + string(rune('0'+n)) }
	return l, sup
}

func TestHoldSubmitsNothingButSupervises(t *testing.T) {
	gw := newFakeGateway(holdCloses)
	l, sup := newTestLoop(gw, zerolog.Nop())

	rep := l.RunCycle(context.Background())
	if rep.Outcome != OutcomeOK || rep.Signal != strategy.Hold || rep.Decision != DecisionHold {
		t.Fatalf("unexpected report %+v", rep)
	}
	if n := len(gw.requests()); n != 0 {
		t.Fatalf("expected no submissions, got %d", n)
	}
	if sup.runs != 1 || !rep.Supervised {
		t.Fatalf("supervisor must run on hold, runs=%d", sup.runs)
	}
}

func TestBuyOpensSizedLong(t *testing.T) {
	gw := newFakeGateway(buyCloses)
	l, _ := newTestLoop(gw, zerolog.Nop())

	rep := l.RunCycle(context.Background())
	if rep.Decision != DecisionOpenLong || rep.Outcome != OutcomeOK {
		t.Fatalf("unexpected report %+v", rep)
	}
	reqs := gw.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one request, got %+v", reqs)
	}
	req := reqs[0]
	if req.Action != exchange.ActionOpen || req.Side != exchange.SideLong || req.Filling != exchange.FillFOK {
		t.Fatalf("unexpected request %+v", req)
	}
	// 10000 * 5% / (300 points * 1.0 per point per lot) = 1.67 lots.
	if math.Abs(req.Volume-1.67) > 1e-9 {
		t.Fatalf("expected 1.67 lots, got %v", req.Volume)
	}
	if math.Abs(req.Price-2000.2) > 1e-9 || math.Abs(req.StopLoss-1997.2) > 1e-9 || math.Abs(req.TakeProfit-2006.2) > 1e-9 {
		t.Fatalf("unexpected levels price=%v sl=%v tp=%v", req.Price, req.StopLoss, req.TakeProfit)
	}
	if req.Deviation != 20 || req.Magic != 123456 {
		t.Fatalf("deviation and magic must be attached: %+v", req)
	}
}

func TestSameSidePositionIsKept(t *testing.T) {
	gw := newFakeGateway(buyCloses)
	gw.positions = []exchange.Position{{Ticket: 7, Symbol: testSymbol, Side: exchange.SideLong, Volume: 0.5, StopLoss: 1990, TakeProfit: 2010}}
	l, _ := newTestLoop(gw, zerolog.Nop())

	rep := l.RunCycle(context.Background())
	if rep.Decision != DecisionKeep {
		t.Fatalf("expected keep, got %s", rep.Decision)
	}
	if n := len(gw.requests()); n != 0 {
		t.Fatalf("expected no submissions, got %d", n)
	}
}

func TestReversalClosesThenOpensNextCycle(t *testing.T) {
	gw := newFakeGateway(sellCloses)
	gw.positions = []exchange.Position{{Ticket: 7, Symbol: testSymbol, Side: exchange.SideLong, Volume: 0.5, StopLoss: 1990, TakeProfit: 2010}}
	l, _ := newTestLoop(gw, zerolog.Nop())

	rep := l.RunCycle(context.Background())
	if rep.Decision != DecisionClose {
		t.Fatalf("expected close, got %s", rep.Decision)
	}
	reqs := gw.requests()
	if len(reqs) != 1 || reqs[0].Action != exchange.ActionClose || reqs[0].Side != exchange.SideShort || reqs[0].Position != 7 || reqs[0].Volume != 0.5 {
		t.Fatalf("reversal must only close the long: %+v", reqs)
	}

	rep = l.RunCycle(context.Background())
	if rep.Decision != DecisionOpenShort {
		t.Fatalf("expected short entry on the following cycle, got %s", rep.Decision)
	}
	reqs = gw.requests()
	if len(reqs) != 2 || reqs[1].Action != exchange.ActionOpen || reqs[1].Side != exchange.SideShort {
		t.Fatalf("unexpected second request %+v", reqs)
	}
}

func TestRejectedOrderIsLoggedAndLoopContinues(t *testing.T) {
	gw := newFakeGateway(buyCloses)
	gw.rejectCode = exchange.RetcodeNoMoney
	var buf bytes.Buffer
	l, sup := newTestLoop(gw, zerolog.New(&buf))

	rep := l.RunCycle(context.Background())
	if rep.Outcome != OutcomeOK || rep.Decision != DecisionRejected {
		t.Fatalf("rejection must not fail the cycle: %+v", rep)
	}
	if sup.runs != 1 {
		t.Fatalf("supervisor must still run")
	}
	positions, _ := gw.OpenPositions(context.Background(), testSymbol)
	if len(positions) != 0 {
		t.Fatalf("no position may appear after a rejection: %+v", positions)
	}
	if out := buf.String(); !strings.Contains(out, `"code":10019`) || !strings.Contains(out, `"request"`) {
		t.Fatalf("rejection must log code and request, got %s", out)
	}

	if rep := l.RunCycle(context.Background()); rep.Outcome != OutcomeOK {
		t.Fatalf("next cycle should run normally: %+v", rep)
	}
}

func TestSizingFailureSkipsTrade(t *testing.T) {
	gw := newFakeGateway(buyCloses)
	gw.spec.TickSize = 0
	var buf bytes.Buffer
	l, _ := newTestLoop(gw, zerolog.New(&buf))

	rep := l.RunCycle(context.Background())
	if rep.Decision != DecisionSkipped || rep.Outcome != OutcomeOK {
		t.Fatalf("unexpected report %+v", rep)
	}
	if n := len(gw.requests()); n != 0 {
		t.Fatalf("expected no submissions, got %d", n)
	}
	if !strings.Contains(buf.String(), "tick size is zero") {
		t.Fatalf("expected sizing reason in log, got %s", buf.String())
	}
}

func TestFetchFailureSkipsSupervision(t *testing.T) {
	gw := newFakeGateway(buyCloses)
	gw.barsErr = errors.New("copy_rates_from_pos returned nothing")
	l, sup := newTestLoop(gw, zerolog.Nop())

	rep := l.RunCycle(context.Background())
	if rep.Outcome != OutcomeConnectivity || !errors.Is(rep.Err, ErrConnectivity) {
		t.Fatalf("expected connectivity outcome, got %+v", rep)
	}
	if sup.runs != 0 || rep.Supervised {
		t.Fatalf("supervision must be skipped on fetch failure")
	}
	if n := len(gw.requests()); n != 0 {
		t.Fatalf("expected no submissions, got %d", n)
	}
	if sum := rep.Summary(time.Minute); sum.Signal != "" || sum.Outcome != "connectivity" {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestPanicIsContained(t *testing.T) {
	gw := newFakeGateway(holdCloses)
	gw.panicOnFetch = true
	l, _ := newTestLoop(gw, zerolog.Nop())

	rep := l.RunCycle(context.Background())
	if rep.Outcome != OutcomeFailure || !errors.Is(rep.Err, ErrCycleFailed) {
		t.Fatalf("expected contained failure, got %+v", rep)
	}
}

func TestRunSchedulesBackoffs(t *testing.T) {
	gw := newFakeGateway(holdCloses)
	gw.connectFailures = 1
	gw.barsErr = errors.New("terminal busy")

	bus := events.NewBus()
	cycles, unsub := bus.Subscribe(events.EventCycleCompleted, 10)
	defer unsub()

	l, _ := newTestLoop(gw, zerolog.Nop())
	l.Bus = bus

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var slept []time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		gw.mu.Lock()
		defer gw.mu.Unlock()
		switch len(slept) {
		case 2: // after the connectivity failure
			gw.barsErr = nil
		case 3: // after a clean cycle
			gw.panicOnFetch = true
		case 4:
			cancel()
			return ctx.Err()
		}
		return nil
	}

	if err := l.Run(ctx); err != nil {
		t.Fatalf("run should stop cleanly: %v", err)
	}

	want := []time.Duration{time.Minute, time.Minute, 5 * time.Minute, 90 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d: expected %v, got %v", i, want[i], slept[i])
		}
	}

	var outcomes []string
	for len(cycles) > 0 {
		msg := <-cycles
		outcomes = append(outcomes, msg.Payload.(events.CycleSummary).Outcome)
	}
	if strings.Join(outcomes, ",") != "connectivity,ok,failure" {
		t.Fatalf("unexpected published outcomes %v", outcomes)
	}
}

func TestRunStopsWhileConnecting(t *testing.T) {
	gw := newFakeGateway(holdCloses)
	gw.connectFailures = 100
	l, _ := newTestLoop(gw, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	l.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop after cancellation")
	}
}

func TestCycleStampedWithInjectedClock(t *testing.T) {
	gw := newFakeGateway(holdCloses)
	l, _ := newTestLoop(gw, zerolog.Nop())
	server := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	l.WithClock(func() time.Time { return server })

	if rep := l.RunCycle(context.Background()); !rep.StartedAt.Equal(server) {
		t.Fatalf("expected cycle stamped %v, got %v", server, rep.StartedAt)
	}
}
