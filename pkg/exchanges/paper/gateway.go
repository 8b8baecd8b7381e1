// Package paper implements a simulated venue for dry runs: synthetic bars,
// immediate fills at the quote and a SQLite-backed book.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/somboon29/MT5-Bot/pkg/db"
	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

// Config describes the simulated instrument and account.
type Config struct {
	Spec           exchange.InstrumentSpec
	Timeframe      exchange.Timeframe
	InitialBalance float64
	Currency       string
	StartPrice     float64
	VolatilityPts  float64 // stddev of one bar's move, in points
	SpreadPts      float64
	ContractSize   float64
	Leverage       float64
	HistoryBars    int
	Seed           int64
	Now            func() time.Time
}

// DefaultConfig returns a gold-like instrument: 100 oz contracts quoted to
// the cent, so one point per lot is worth 1 unit of account currency.
func DefaultConfig(symbol string) Config {
	return Config{
		Spec: exchange.InstrumentSpec{
			Symbol:     symbol,
			Digits:     2,
			Point:      0.01,
			TickSize:   0.01,
			TickValue:  1,
			VolumeMin:  0.01,
			VolumeMax:  200,
			VolumeStep: 0.01,
		},
		Timeframe:      exchange.M15,
		InitialBalance: 10000,
		Currency:       "USD",
		StartPrice:     2000,
		VolatilityPts:  150,
		SpreadPts:      20,
		ContractSize:   100,
		Leverage:       200,
		HistoryBars:    1000,
		Now:            time.Now,
	}
}

// Gateway is the paper venue. It is safe for concurrent use.
type Gateway struct {
	cfg Config
	db  *db.Database

	mu        sync.Mutex
	connected bool
	walk      *walk
}

// New creates a paper gateway persisting its book in database.
func New(database *db.Database, cfg Config) *Gateway {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.HistoryBars <= 0 {
		cfg.HistoryBars = 1000
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 100
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Gateway{cfg: cfg, db: database}
}

func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.connected {
		return nil
	}
	period, err := g.cfg.Timeframe.Duration()
	if err != nil {
		return err
	}
	if _, err := g.db.EnsureAccount(ctx, g.cfg.InitialBalance, g.cfg.Currency); err != nil {
		return fmt.Errorf("paper: %w", err)
	}
	g.walk = newWalk(g.cfg.Seed, period, g.cfg.StartPrice, g.cfg.VolatilityPts*g.cfg.Spec.Point,
		g.cfg.Spec.Digits, g.cfg.HistoryBars, g.cfg.Now())
	g.connected = true
	return nil
}

func (g *Gateway) FetchBars(ctx context.Context, symbol string, tf exchange.Timeframe, count int) ([]exchange.Bar, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ready(symbol); err != nil {
		return nil, err
	}
	if tf != g.cfg.Timeframe {
		return nil, fmt.Errorf("paper: timeframe %s not simulated (have %s)", tf, g.cfg.Timeframe)
	}
	if err := g.tick(ctx, false); err != nil {
		return nil, err
	}
	return g.walk.tail(count), nil
}

func (g *Gateway) CurrentQuote(ctx context.Context, symbol string) (exchange.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ready(symbol); err != nil {
		return exchange.Quote{}, err
	}
	if err := g.tick(ctx, true); err != nil {
		return exchange.Quote{}, err
	}
	return g.quote(), nil
}

func (g *Gateway) AccountSnapshot(ctx context.Context) (exchange.AccountSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return exchange.AccountSnapshot{}, exchange.ErrNotConnected
	}
	acct, err := g.db.GetAccount(ctx)
	if err != nil {
		return exchange.AccountSnapshot{}, fmt.Errorf("paper: %w", err)
	}
	rows, err := g.db.ListPositions(ctx, "")
	if err != nil {
		return exchange.AccountSnapshot{}, fmt.Errorf("paper: %w", err)
	}

	q := g.quote()
	snap := exchange.AccountSnapshot{Balance: acct.Balance, Equity: acct.Balance, Currency: acct.Currency}
	for _, r := range rows {
		p := g.position(r, q)
		snap.Equity += p.Profit
		snap.UsedMargin += g.margin(p.Volume, p.EntryPrice)
	}
	snap.FreeMargin = snap.Equity - snap.UsedMargin
	return snap, nil
}

func (g *Gateway) InstrumentSpec(ctx context.Context, symbol string) (exchange.InstrumentSpec, error) {
	if symbol != g.cfg.Spec.Symbol {
		return exchange.InstrumentSpec{}, fmt.Errorf("paper: unknown symbol %q", symbol)
	}
	return g.cfg.Spec, nil
}

func (g *Gateway) OpenPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, exchange.ErrNotConnected
	}
	rows, err := g.db.ListPositions(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("paper: %w", err)
	}
	q := g.quote()
	out := make([]exchange.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, g.position(r, q))
	}
	return out, nil
}

func (g *Gateway) PendingOrders(ctx context.Context, symbol string) ([]exchange.PendingOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, exchange.ErrNotConnected
	}
	rows, err := g.db.ListPendingOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("paper: %w", err)
	}
	out := make([]exchange.PendingOrder, 0, len(rows))
	for _, r := range rows {
		out = append(out, exchange.PendingOrder{Ticket: r.Ticket, Symbol: r.Symbol, Type: r.Type, Price: r.Price, TimeSetup: r.TimeSetup})
	}
	return out, nil
}

func (g *Gateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return exchange.OrderResult{}, exchange.ErrNotConnected
	}
	return g.submit(ctx, req)
}

func (g *Gateway) ModifyProtection(ctx context.Context, ticket uint64, sl, tp float64) (exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return exchange.OrderResult{}, exchange.ErrNotConnected
	}
	row, err := g.db.GetPosition(ctx, ticket)
	if errors.Is(err, db.ErrNotFound) {
		return exchange.ResultFromCode(exchange.RetcodeInvalidRequest, "Position not found"), nil
	}
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("paper: %w", err)
	}
	return g.submit(ctx, exchange.ModifyRequest(g.position(row, g.quote()), sl, tp))
}

func (g *Gateway) ClosePosition(ctx context.Context, ticket uint64, volume float64) (exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return exchange.OrderResult{}, exchange.ErrNotConnected
	}
	row, err := g.db.GetPosition(ctx, ticket)
	if errors.Is(err, db.ErrNotFound) {
		return exchange.ResultFromCode(exchange.RetcodeInvalidRequest, "Position not found"), nil
	}
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("paper: %w", err)
	}
	return g.submit(ctx, exchange.CloseRequest(g.position(row, g.quote()), volume))
}

// submit dispatches req. Business rejections are results, not errors.
func (g *Gateway) submit(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if req.Symbol != g.cfg.Spec.Symbol {
		return exchange.ResultFromCode(exchange.RetcodeInvalidRequest, "Unknown symbol"), nil
	}
	switch req.Action {
	case exchange.ActionOpen:
		return g.open(ctx, req)
	case exchange.ActionModifyProtection:
		return g.modify(ctx, req)
	case exchange.ActionClose:
		return g.close(ctx, req, "request")
	default:
		return exchange.ResultFromCode(exchange.RetcodeInvalidRequest, "Unsupported action"), nil
	}
}

func (g *Gateway) open(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if !g.validVolume(req.Volume, g.cfg.Spec.VolumeMax) {
		return exchange.ResultFromCode(exchange.RetcodeInvalidVolume, "Invalid volume"), nil
	}
	q := g.quote()
	fill := q.Bid
	if req.Side == exchange.SideLong {
		fill = q.Ask
	}
	if g.requote(req, fill) {
		return exchange.ResultFromCode(exchange.RetcodeRequote, "Requote"), nil
	}
	if !validStops(req.Side, fill, req.StopLoss, req.TakeProfit) {
		return exchange.ResultFromCode(exchange.RetcodeInvalidStops, "Invalid stops"), nil
	}

	acct, err := g.db.GetAccount(ctx)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("paper: %w", err)
	}
	if g.margin(req.Volume, fill) > acct.Balance {
		return exchange.ResultFromCode(exchange.RetcodeNoMoney, "No money"), nil
	}

	ticket, err := g.db.NextTicket(ctx)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("paper: %w", err)
	}
	now := g.cfg.Now()
	pos := db.Position{
		Ticket:     ticket,
		Symbol:     req.Symbol,
		Side:       string(req.Side),
		Volume:     req.Volume,
		EntryPrice: fill,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Magic:      req.Magic,
		Comment:    req.Comment,
		OpenedAt:   now,
	}
	deal := db.Deal{
		ID:        uuid.NewString(),
		Ticket:    ticket,
		Symbol:    req.Symbol,
		Action:    string(exchange.ActionOpen),
		Side:      string(req.Side),
		Volume:    req.Volume,
		Price:     fill,
		CreatedAt: now,
	}
	if err := g.db.OpenPosition(ctx, pos, deal); err != nil {
		return exchange.OrderResult{}, fmt.Errorf("paper: %w", err)
	}

	res := exchange.ResultFromCode(exchange.RetcodeDone, "Request executed")
	res.Ticket, res.Price, res.Volume = ticket, fill, req.Volume
	return res, nil
}

func (g *Gateway) modify(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	row, err := g.db.GetPosition(ctx, req.Position)
	if errors.Is(err, db.ErrNotFound) {
		return exchange.ResultFromCode(exchange.RetcodeInvalidRequest, "Position not found"), nil
	}
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("paper: %w", err)
	}

	side := exchange.Side(row.Side)
	q := g.quote()
	mark := q.Bid
	if side == exchange.SideShort {
		mark = q.Ask
	}
	if !validStops(side, mark, req.StopLoss, req.TakeProfit) {
		return exchange.ResultFromCode(exchange.RetcodeInvalidStops, "Invalid stops"), nil
	}
	if err := g.db.UpdateProtection(ctx, row.Ticket, req.StopLoss, req.TakeProfit); err != nil {
		return exchange.OrderResult{}, fmt.Errorf("paper: %w", err)
	}
	res := exchange.ResultFromCode(exchange.RetcodeDone, "Request executed")
	res.Ticket = row.Ticket
	return res, nil
}

func (g *Gateway) close(ctx context.Context, req exchange.OrderRequest, reason string) (exchange.OrderResult, error) {
	row, err := g.db.GetPosition(ctx, req.Position)
	if errors.Is(err, db.ErrNotFound) {
		return exchange.ResultFromCode(exchange.RetcodeInvalidRequest, "Position not found"), nil
	}
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("paper: %w", err)
	}
	side := exchange.Side(row.Side)
	if req.Side != side.Opposite() {
		return exchange.ResultFromCode(exchange.RetcodeInvalidRequest, "Close side must offset the position"), nil
	}
	if !g.validVolume(req.Volume, row.Volume) {
		return exchange.ResultFromCode(exchange.RetcodeInvalidVolume, "Invalid volume"), nil
	}

	q := g.quote()
	fill := q.Bid
	if side == exchange.SideShort {
		fill = q.Ask
	}
	if g.requote(req, fill) {
		return exchange.ResultFromCode(exchange.RetcodeRequote, "Requote"), nil
	}

	remaining := decimal.NewFromFloat(row.Volume).Sub(decimal.NewFromFloat(req.Volume)).InexactFloat64()
	deal := db.Deal{
		ID:        uuid.NewString(),
		Ticket:    row.Ticket,
		Symbol:    row.Symbol,
		Action:    string(exchange.ActionClose),
		Side:      string(req.Side),
		Volume:    req.Volume,
		Price:     fill,
		Profit:    g.profit(side, row.EntryPrice, fill, req.Volume),
		Reason:    reason,
		CreatedAt: g.cfg.Now(),
	}
	if err := g.db.SettleClose(ctx, row.Ticket, remaining, deal); err != nil {
		return exchange.OrderResult{}, fmt.Errorf("paper: %w", err)
	}

	res := exchange.ResultFromCode(exchange.RetcodeDone, "Request executed")
	res.Ticket, res.Price, res.Volume = row.Ticket, fill, req.Volume
	return res, nil
}

// tick moves the simulated market forward and settles triggered stops.
func (g *Gateway) tick(ctx context.Context, intrabar bool) error {
	moved := g.walk.advance(g.cfg.Now())
	if intrabar || !moved {
		g.walk.nudge()
	}
	return g.triggerStops(ctx)
}

// triggerStops closes positions whose stop-loss or take-profit was touched.
func (g *Gateway) triggerStops(ctx context.Context) error {
	rows, err := g.db.ListPositions(ctx, g.cfg.Spec.Symbol)
	if err != nil {
		return fmt.Errorf("paper: %w", err)
	}
	q := g.quote()
	for _, r := range rows {
		reason := ""
		switch exchange.Side(r.Side) {
		case exchange.SideLong:
			if r.StopLoss > 0 && q.Bid <= r.StopLoss {
				reason = "sl"
			} else if r.TakeProfit > 0 && q.Bid >= r.TakeProfit {
				reason = "tp"
			}
		case exchange.SideShort:
			if r.StopLoss > 0 && q.Ask >= r.StopLoss {
				reason = "sl"
			} else if r.TakeProfit > 0 && q.Ask <= r.TakeProfit {
				reason = "tp"
			}
		}
		if reason == "" {
			continue
		}
		pos := g.position(r, q)
		if _, err := g.close(ctx, exchange.CloseRequest(pos, 0), reason); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) ready(symbol string) error {
	if !g.connected {
		return exchange.ErrNotConnected
	}
	if symbol != g.cfg.Spec.Symbol {
		return fmt.Errorf("paper: unknown symbol %q", symbol)
	}
	return nil
}

func (g *Gateway) quote() exchange.Quote {
	last := g.walk.last()
	spread := g.cfg.SpreadPts * g.cfg.Spec.Point
	return exchange.Quote{
		Bid:  last.Close,
		Ask:  g.walk.round(last.Close + spread),
		Time: g.cfg.Now(),
	}
}

func (g *Gateway) position(r db.Position, q exchange.Quote) exchange.Position {
	side := exchange.Side(r.Side)
	mark := q.Bid
	if side == exchange.SideShort {
		mark = q.Ask
	}
	return exchange.Position{
		Ticket:     r.Ticket,
		Symbol:     r.Symbol,
		Side:       side,
		Volume:     r.Volume,
		EntryPrice: r.EntryPrice,
		StopLoss:   r.StopLoss,
		TakeProfit: r.TakeProfit,
		Profit:     g.profit(side, r.EntryPrice, mark, r.Volume),
		Magic:      r.Magic,
		Comment:    r.Comment,
		OpenedAt:   r.OpenedAt,
	}
}

func (g *Gateway) profit(side exchange.Side, entry, exit, volume float64) float64 {
	spec := g.cfg.Spec
	if spec.TickSize == 0 {
		return 0
	}
	diff := exit - entry
	if side == exchange.SideShort {
		diff = -diff
	}
	return math.Round(diff/spec.TickSize*spec.TickValue*volume*100) / 100
}

func (g *Gateway) margin(volume, price float64) float64 {
	return volume * g.cfg.ContractSize * price / g.cfg.Leverage
}

// validVolume enforces fill-or-kill: the full volume must be within range
// and on the volume step.
func (g *Gateway) validVolume(volume, max float64) bool {
	spec := g.cfg.Spec
	if volume < spec.VolumeMin || volume > max {
		return false
	}
	if spec.VolumeStep <= 0 {
		return true
	}
	return decimal.NewFromFloat(volume).Mod(decimal.NewFromFloat(spec.VolumeStep)).IsZero()
}

func (g *Gateway) requote(req exchange.OrderRequest, fill float64) bool {
	if req.Price <= 0 {
		return false
	}
	return math.Abs(req.Price-fill) > float64(req.Deviation)*g.cfg.Spec.Point+1e-9
}

// validStops checks protective levels are on the losing/winning side of ref.
func validStops(side exchange.Side, ref, sl, tp float64) bool {
	if side == exchange.SideLong {
		return (sl == 0 || sl < ref) && (tp == 0 || tp > ref)
	}
	return (sl == 0 || sl > ref) && (tp == 0 || tp < ref)
}
