package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/somboon29/MT5-Bot/internal/events"
	"github.com/somboon29/MT5-Bot/internal/market"
	"github.com/somboon29/MT5-Bot/internal/monitor"
	"github.com/somboon29/MT5-Bot/internal/order"
	"github.com/somboon29/MT5-Bot/internal/risk"
	"github.com/somboon29/MT5-Bot/internal/strategy"
	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

// Loop sequences the trading cycle. Exactly one cycle runs at a time and
// Run only returns when its context is cancelled.
type Loop struct {
	Gateway    exchange.Gateway
	Strategy   strategy.Generator
	Sizer      risk.Sizer
	Trader     Trader
	Supervisor PositionSupervisor
	Config     Config
	Bus        *events.Bus
	Logger     zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
	now   func() time.Time
}

// New wires a loop.
func New(gw exchange.Gateway, gen strategy.Generator, sizer risk.Sizer, trader Trader, sup PositionSupervisor, cfg Config, bus *events.Bus, logger zerolog.Logger) *Loop {
	return &Loop{
		Gateway:    gw,
		Strategy:   gen,
		Sizer:      sizer,
		Trader:     trader,
		Supervisor: sup,
		Config:     cfg,
		Bus:        bus,
		Logger:     logger.With().Str("component", "engine").Logger(),
		sleep:      sleepCtx,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// WithClock makes the loop stamp cycles with now, e.g. the terminal clock.
func (l *Loop) WithClock(now func() time.Time) *Loop {
	if now != nil {
		l.now = now
	}
	return l
}

// Run connects to the gateway and cycles until ctx is cancelled. A failed
// connect is retried every RetryInterval.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.connect(ctx); err != nil {
		return nil
	}
	for {
		rep := l.RunCycle(ctx)
		if ctx.Err() != nil {
			l.Logger.Info().Msg("trading loop stopped")
			return nil
		}

		wait := l.nextWait(rep.Outcome)
		l.Bus.Publish(events.EventCycleCompleted, rep.Summary(wait))
		l.Logger.Info().Str("cycle", rep.ID).Dur("next_run_in", wait).Msg("waiting for the next loop")
		if err := l.sleep(ctx, wait); err != nil {
			l.Logger.Info().Msg("trading loop stopped")
			return nil
		}
	}
}

func (l *Loop) connect(ctx context.Context) error {
	for {
		err := l.Gateway.Connect(ctx)
		if err == nil {
			l.Logger.Info().Msg("connected to MetaTrader 5 successfully")
			return nil
		}
		l.Logger.Error().Err(err).Dur("retry_in", l.Config.RetryInterval).Msg("initialize() failed")
		if err := l.sleep(ctx, l.Config.RetryInterval); err != nil {
			return err
		}
	}
}

func (l *Loop) nextWait(o Outcome) time.Duration {
	switch o {
	case OutcomeConnectivity:
		return l.Config.RetryInterval
	case OutcomeFailure:
		return l.Config.ErrorBackoff
	default:
		return l.Config.CycleInterval
	}
}

// RunCycle executes one cycle. It never panics: a panic in any step is
// recovered and reported as a failure outcome.
func (l *Loop) RunCycle(ctx context.Context) (rep CycleReport) {
	rep = CycleReport{ID: l.newID(), StartedAt: l.now()}
	log := l.Logger.With().Str("cycle", rep.ID).Logger()
	timer := monitor.NewTimer(monitor.CycleDuration)

	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("%w: panic: %v", ErrCycleFailed, r)
			log.Error().Str("stack", string(debug.Stack())).Msgf("an error occurred: %v", r)
		}
		rep.Duration = timer.Stop()
		rep.Outcome = classify(rep.Err)
		monitor.CyclesTotal.WithLabelValues(string(rep.Outcome)).Inc()
	}()

	log.Info().Msg(strings.Repeat("=", 50))
	log.Info().Msgf("new loop start at %s", rep.StartedAt.Format("2006-01-02 15:04:05"))

	if err := l.cycle(ctx, log, &rep); err != nil {
		rep.Err = err
		log.Error().Err(err).Msg("cycle ended early")
	}
	return rep
}

func (l *Loop) cycle(ctx context.Context, log zerolog.Logger, rep *CycleReport) error {
	l.accountStatus(ctx, log, rep)

	log.Info().Msg("checking for signals...")
	bars, err := l.Gateway.FetchBars(ctx, l.Config.Symbol, l.Config.Timeframe, l.Config.BarCount)
	if err != nil {
		return fmt.Errorf("%w: failed to get rates for %s: %w", ErrConnectivity, l.Config.Symbol, err)
	}
	series := market.Normalize(bars)
	if len(series) == 0 {
		return fmt.Errorf("%w: no rates for %s", ErrConnectivity, l.Config.Symbol)
	}

	rep.Signal = l.Strategy.Evaluate(series)
	monitor.SignalsTotal.WithLabelValues(l.Config.Symbol, rep.Signal.String()).Inc()
	l.Bus.Publish(events.EventStrategySignal, rep.Signal.String())
	ev := log.Info().Str("signal", rep.Signal.String()).Int("bars", len(series))
	if ex, ok := l.Strategy.(interface{ Explain(market.Series) string }); ok {
		ev = ev.Str("detail", ex.Explain(series))
	}
	ev.Msgf("%s evaluated", l.Strategy.Name())

	positions, err := l.Gateway.OpenPositions(ctx, l.Config.Symbol)
	if err != nil {
		return fmt.Errorf("%w: failed to get positions on %s: %w", ErrConnectivity, l.Config.Symbol, err)
	}
	rep.Positions = len(positions)
	monitor.OpenPositions.Set(float64(len(positions)))

	pending, err := l.Gateway.PendingOrders(ctx, l.Config.Symbol)
	if err != nil {
		log.Warn().Err(err).Msgf("no pending orders on %s", l.Config.Symbol)
	}
	rep.Pending = len(pending)

	rep.Decision = l.decide(ctx, log, rep.Signal, positions)
	if err := ctx.Err(); err != nil {
		return err
	}

	sup, err := l.Supervisor.Run(ctx)
	rep.Supervised = true
	rep.Supervision = sup
	if err != nil {
		log.Warn().Err(err).Msg("position supervision skipped")
	}
	for _, e := range sup.Errors {
		log.Warn().Err(e).Msg("position supervision error")
	}
	if sup.Closed > 0 {
		l.Bus.Publish(events.EventRiskAlert, fmt.Sprintf("cut-loss closed %d position(s) on %s", sup.Closed, l.Config.Symbol))
	}
	monitor.SupervisorActionsTotal.WithLabelValues("backfill").Add(float64(sup.Modified))
	monitor.SupervisorActionsTotal.WithLabelValues("cut_loss").Add(float64(sup.Closed))

	reportPending(log, pending)
	return nil
}

// decide applies the signal to the current positions. Sizing failures and
// order rejections are logged here and never abort the cycle.
func (l *Loop) decide(ctx context.Context, log zerolog.Logger, sig strategy.Signal, positions []exchange.Position) Decision {
	var side exchange.Side
	switch sig {
	case strategy.Buy:
		side = exchange.SideLong
	case strategy.Sell:
		side = exchange.SideShort
	default:
		log.Info().Msg("no active trading signal, holding current state")
		return DecisionHold
	}

	if len(positions) > 0 {
		pos := positions[0]
		if pos.Side == side {
			log.Info().Uint64("ticket", pos.Ticket).Msgf("%s signal detected, %s position already open", sig, pos.Side)
			return DecisionKeep
		}
		// The new entry waits for the next cycle; only the opposing
		// position is closed here.
		log.Info().Uint64("ticket", pos.Ticket).Msgf("%s signal detected, closing existing %s position", sig, pos.Side)
		if _, err := l.Trader.Close(ctx, pos.Ticket, 0); err != nil {
			return orderDecision(log, err)
		}
		return DecisionClose
	}

	log.Info().Msgf("%s signal detected, placing new %s order", sig, side)
	lot, _, err := l.Sizer.SizeFor(ctx, l.Gateway, l.Config.Symbol, l.Config.StopLossPoints)
	if err != nil {
		log.Error().Err(err).Msg("lot size calculation failed, skipping trade")
		return DecisionSkipped
	}
	log.Info().Float64("lot", lot).Msgf("calculated lot size: %g", lot)
	if lot <= 0 {
		return DecisionSkipped
	}

	if _, err := l.Trader.Open(ctx, side, lot, l.Config.StopLossPoints, l.Config.TakeProfitPoints); err != nil {
		return orderDecision(log, err)
	}
	if side == exchange.SideLong {
		return DecisionOpenLong
	}
	return DecisionOpenShort
}

func orderDecision(log zerolog.Logger, err error) Decision {
	if order.IsRejection(err) {
		// Already logged with the full request by the executor.
		return DecisionRejected
	}
	if errors.Is(err, order.ErrPositionConflict) {
		log.Warn().Err(err).Msg("order skipped")
		return DecisionKeep
	}
	log.Error().Err(err).Msg("order failed")
	return DecisionFailed
}

// accountStatus logs the account block. It is informational only.
func (l *Loop) accountStatus(ctx context.Context, log zerolog.Logger, rep *CycleReport) {
	acct, err := l.Gateway.AccountSnapshot(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to get account info")
		return
	}
	rep.Account = &acct
	monitor.AccountBalance.Set(acct.Balance)
	monitor.AccountEquity.Set(acct.Equity)

	margin := "N/A (no margin used)"
	if lvl, ok := acct.MarginLevel(); ok {
		margin = fmt.Sprintf("%.2f%%", lvl)
	}
	log.Info().
		Str("balance", fmt.Sprintf("%.2f", acct.Balance)).
		Str("equity", fmt.Sprintf("%.2f", acct.Equity)).
		Str("used_margin", fmt.Sprintf("%.2f", acct.UsedMargin)).
		Str("free_margin", fmt.Sprintf("%.2f", acct.FreeMargin)).
		Str("margin_level", margin).
		Msg("account status")
}

func reportPending(log zerolog.Logger, pending []exchange.PendingOrder) {
	for _, o := range pending {
		log.Info().
			Uint64("ticket", o.Ticket).
			Str("symbol", o.Symbol).
			Str("type", o.Type).
			Float64("price", o.Price).
			Time("time_setup", o.TimeSetup).
			Msg("pending order")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
