package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

// SupervisionReport summarises one supervisor pass.
type SupervisionReport struct {
	Checked  int
	Modified int
	Closed   int
	Errors   []error
}

// Supervisor inspects every open position of a symbol: it backfills missing
// stop-loss/take-profit levels and force-closes positions whose floating loss
// exceeds the cut-loss share of the balance.
type Supervisor struct {
	Market  MarketReader
	Actions PositionActions
	Symbol  string
	Config  Config
	Logger  zerolog.Logger
}

// NewSupervisor builds a supervisor for symbol.
func NewSupervisor(market MarketReader, actions PositionActions, symbol string, cfg Config, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		Market:  market,
		Actions: actions,
		Symbol:  symbol,
		Config:  cfg,
		Logger:  logger.With().Str("component", "supervisor").Logger(),
	}
}

// Run performs one pass. The returned error is set only when the pass could
// not start; per-position failures are collected in the report.
func (s *Supervisor) Run(ctx context.Context) (SupervisionReport, error) {
	var rep SupervisionReport

	positions, err := s.Market.OpenPositions(ctx, s.Symbol)
	if err != nil {
		s.Logger.Error().Err(err).Msg("cannot manage positions, failed to get positions")
		return rep, fmt.Errorf("supervisor: positions: %w", err)
	}
	acct, err := s.Market.AccountSnapshot(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("cannot manage positions, failed to get account info")
		return rep, fmt.Errorf("supervisor: %w: %v", ErrAccountUnavailable, err)
	}
	if len(positions) == 0 {
		s.Logger.Info().Msg("no positions to manage")
		return rep, nil
	}

	s.Logger.Info().Int("count", len(positions)).Msg("managing open positions")

	var (
		spec    *exchange.InstrumentSpec
		quote   *exchange.Quote
		pricing = func() (*exchange.InstrumentSpec, *exchange.Quote, error) {
			if spec == nil {
				sp, err := s.Market.InstrumentSpec(ctx, s.Symbol)
				if err != nil {
					return nil, nil, fmt.Errorf("%w: %v", ErrInstrumentUnavailable, err)
				}
				spec = &sp
			}
			if quote == nil {
				q, err := s.Market.CurrentQuote(ctx, s.Symbol)
				if err != nil {
					return nil, nil, fmt.Errorf("quote: %w", err)
				}
				quote = &q
			}
			return spec, quote, nil
		}
	)

	for _, pos := range positions {
		if err := ctx.Err(); err != nil {
			rep.Errors = append(rep.Errors, err)
			break
		}
		rep.Checked++
		log := s.Logger.With().Uint64("ticket", pos.Ticket).Str("side", string(pos.Side)).Logger()

		if pos.StopLoss == 0 || pos.TakeProfit == 0 {
			if err := s.backfill(ctx, log, pos, pricing); err != nil {
				rep.Errors = append(rep.Errors, err)
			} else {
				rep.Modified++
			}
		}

		if lossPct, cut := s.exceedsCutLoss(pos.Profit, acct.Balance); cut {
			log.Warn().
				Float64("profit", pos.Profit).
				Float64("loss_pct", lossPct).
				Float64("threshold_pct", s.Config.CutLossPercent).
				Msg("loss exceeds threshold, cutting loss")
			res, err := s.Actions.Close(ctx, pos.Ticket, 0)
			if err != nil {
				rep.Errors = append(rep.Errors, fmt.Errorf("cut loss ticket %d: %w", pos.Ticket, err))
			} else if res.Done {
				rep.Closed++
			}
		}

		log.Info().Float64("profit", pos.Profit).Msgf("position %d current profit/loss: %.2f", pos.Ticket, pos.Profit)
	}

	return rep, nil
}

// backfill replaces both protection levels of pos with the defaults priced
// off the current quote, even when one of them was already set.
func (s *Supervisor) backfill(ctx context.Context, log zerolog.Logger, pos exchange.Position, pricing func() (*exchange.InstrumentSpec, *exchange.Quote, error)) error {
	log.Info().
		Float64("sl", pos.StopLoss).
		Float64("tp", pos.TakeProfit).
		Msg("position has no SL/TP, setting them now")

	spec, quote, err := pricing()
	if err != nil {
		log.Error().Err(err).Msg("cannot price protection")
		return fmt.Errorf("backfill ticket %d: %w", pos.Ticket, err)
	}

	_, sl, tp := ProtectionLevels(pos.Side, *quote, spec.Point, s.Config.StopLossPoints, s.Config.TakeProfitPoints)

	res, err := s.Actions.ModifyProtection(ctx, pos.Ticket, sl, tp)
	if err != nil {
		return fmt.Errorf("backfill ticket %d: %w", pos.Ticket, err)
	}
	if !res.Done {
		return fmt.Errorf("backfill ticket %d: rejected code=%d comment=%q", pos.Ticket, res.Code, res.Comment)
	}
	return nil
}

// exceedsCutLoss reports whether a floating loss is larger than the
// threshold share of balance. An empty balance makes any loss exceed it.
func (s *Supervisor) exceedsCutLoss(profit, balance float64) (float64, bool) {
	if profit >= 0 {
		return 0, false
	}
	lossPct := math.Inf(1)
	if balance > 0 {
		lossPct = math.Abs(profit) / balance * 100
	}
	return lossPct, lossPct > s.Config.CutLossPercent
}
