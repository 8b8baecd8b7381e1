package order

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/somboon29/MT5-Bot/internal/events"
	"github.com/somboon29/MT5-Bot/internal/monitor"
	"github.com/somboon29/MT5-Bot/internal/risk"
	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

// Venue is the part of the gateway the executor needs.
type Venue interface {
	CurrentQuote(ctx context.Context, symbol string) (exchange.Quote, error)
	InstrumentSpec(ctx context.Context, symbol string) (exchange.InstrumentSpec, error)
	OpenPositions(ctx context.Context, symbol string) ([]exchange.Position, error)
	SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error)
}

// Executor turns trading decisions into gateway requests. It never retries:
// a rejected request is logged and reported to the caller.
type Executor struct {
	Gateway Venue
	Config  Config
	Bus     *events.Bus
	Logger  zerolog.Logger
}

func NewExecutor(gw Venue, cfg Config, bus *events.Bus, logger zerolog.Logger) *Executor {
	return &Executor{
		Gateway: gw,
		Config:  cfg,
		Bus:     bus,
		Logger:  logger.With().Str("component", "executor").Logger(),
	}
}

// Open places a market order with protection slPoints/tpPoints away from the
// entry. Longs enter at the ask, shorts at the bid.
func (e *Executor) Open(ctx context.Context, side exchange.Side, volume, slPoints, tpPoints float64) (exchange.OrderResult, error) {
	if volume <= 0 {
		return exchange.OrderResult{}, ErrInvalidVolume
	}

	positions, err := e.Gateway.OpenPositions(ctx, e.Config.Symbol)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("executor: positions: %w", err)
	}
	if len(positions) > 0 {
		return exchange.OrderResult{}, fmt.Errorf("%w: %s ticket %d (%s)",
			ErrPositionConflict, e.Config.Symbol, positions[0].Ticket, positions[0].Side)
	}

	spec, err := e.Gateway.InstrumentSpec(ctx, e.Config.Symbol)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("executor: instrument: %w", err)
	}
	quote, err := e.Gateway.CurrentQuote(ctx, e.Config.Symbol)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("executor: failed to get tick information: %w", err)
	}

	price, sl, tp := risk.ProtectionLevels(side, quote, spec.Point, slPoints, tpPoints)
	req := exchange.OrderRequest{
		Action:     exchange.ActionOpen,
		Symbol:     e.Config.Symbol,
		Side:       side,
		Volume:     volume,
		Price:      price,
		StopLoss:   sl,
		TakeProfit: tp,
		Deviation:  e.Config.Deviation,
		Magic:      e.Config.Magic,
		Comment:    e.Config.Comment,
		Filling:    exchange.FillFOK,
	}
	return e.submit(ctx, req)
}

// Close offsets position ticket. volume <= 0 closes the whole position.
func (e *Executor) Close(ctx context.Context, ticket uint64, volume float64) (exchange.OrderResult, error) {
	positions, err := e.Gateway.OpenPositions(ctx, e.Config.Symbol)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("executor: positions: %w", err)
	}
	pos, ok := exchange.FindPosition(positions, ticket)
	if !ok {
		return exchange.OrderResult{}, fmt.Errorf("%w: ticket %d", ErrPositionNotFound, ticket)
	}

	req := exchange.CloseRequest(pos, volume)
	req.Deviation = e.Config.Deviation
	req.Magic = e.Config.Magic
	req.Comment = e.Config.Comment

	if quote, err := e.Gateway.CurrentQuote(ctx, pos.Symbol); err == nil {
		if req.Side == exchange.SideLong {
			req.Price = quote.Ask
		} else {
			req.Price = quote.Bid
		}
	} else {
		e.Logger.Warn().Err(err).Uint64("ticket", ticket).Msg("no quote for close, sending at market")
	}

	return e.submit(ctx, req)
}

// ModifyProtection replaces the stop-loss and take-profit of ticket.
func (e *Executor) ModifyProtection(ctx context.Context, ticket uint64, sl, tp float64) (exchange.OrderResult, error) {
	req := exchange.OrderRequest{
		Action:     exchange.ActionModifyProtection,
		Symbol:     e.Config.Symbol,
		StopLoss:   sl,
		TakeProfit: tp,
		Position:   ticket,
		Deviation:  e.Config.Deviation,
		Magic:      e.Config.Magic,
	}
	return e.submit(ctx, req)
}

func (e *Executor) submit(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	e.Bus.Publish(events.EventOrderSubmitted, outcome(req, exchange.OrderResult{}))

	res, err := e.Gateway.SubmitOrder(ctx, req)
	monitor.OrdersTotal.WithLabelValues(string(req.Action), monitor.OrderResult(res.Done, err)).Inc()

	if err != nil {
		e.Logger.Error().Err(err).Interface("request", req).Msgf("%s request failed", req.Action)
		e.Bus.Publish(events.EventOrderRejected, outcome(req, res))
		return res, fmt.Errorf("executor: submit %s: %w", req.Action, err)
	}
	if !res.Done {
		e.Logger.Error().
			Int("code", res.Code).
			Str("comment", res.Comment).
			Interface("request", req).
			Msgf("%s failed: %d, comment: %s", req.Action, res.Code, res.Comment)
		e.Bus.Publish(events.EventOrderRejected, outcome(req, res))
		return res, &RejectionError{Result: res, Request: req}
	}

	ev := e.Logger.Info().Str("action", string(req.Action)).Uint64("ticket", res.Ticket)
	switch req.Action {
	case exchange.ActionOpen:
		ev.Float64("volume", req.Volume).Float64("price", res.Price).Msgf("order placed successfully, ticket %d", res.Ticket)
	case exchange.ActionClose:
		ev.Float64("volume", req.Volume).Msgf("position %d closed successfully with volume %g", req.Position, req.Volume)
	default:
		ev.Float64("sl", req.StopLoss).Float64("tp", req.TakeProfit).Msgf("SL/TP successfully modified for ticket %d", req.Position)
	}
	e.Bus.Publish(events.EventOrderAccepted, outcome(req, res))
	return res, nil
}

func outcome(req exchange.OrderRequest, res exchange.OrderResult) events.OrderOutcome {
	ticket := res.Ticket
	if ticket == 0 {
		ticket = req.Position
	}
	return events.OrderOutcome{
		Action:  string(req.Action),
		Symbol:  req.Symbol,
		Side:    string(req.Side),
		Volume:  req.Volume,
		Price:   req.Price,
		Ticket:  ticket,
		Done:    res.Done,
		Code:    res.Code,
		Comment: res.Comment,
	}
}
