package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/somboon29/MT5-Bot/internal/engine"
	"github.com/somboon29/MT5-Bot/internal/logging"
	"github.com/somboon29/MT5-Bot/internal/order"
	"github.com/somboon29/MT5-Bot/internal/risk"
	"github.com/somboon29/MT5-Bot/internal/strategy"
	"github.com/somboon29/MT5-Bot/pkg/config"
	"github.com/somboon29/MT5-Bot/pkg/db"
	"github.com/somboon29/MT5-Bot/pkg/exchanges/paper"
)

// dry_run_demo replays the trading cycle against an in-memory paper book on
// an accelerated clock: one cycle per bar, no sleeping.
//
// Usage:
//   go run ./scripts/dry_run_demo -cycles 500 -seed 7
//
// It prints every cycle through the normal logger and finishes with the
// paper deal history and final balance.

func main() {
	cycles := flag.Int("cycles", 300, "number of cycles to simulate")
	seed := flag.Int64("seed", 7, "random walk seed")
	flag.Parse()

	logger := logging.NewWriter(os.Stdout, "warn")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	tr := cfg.Trading

	database, err := db.Open(":memory:")
	if err != nil {
		logger.Fatal().Err(err).Msg("open paper db")
	}
	defer database.Close()

	period, _ := tr.Timeframe.Duration()
	now := time.Now().Truncate(period)
	clock := func() time.Time { return now }

	pcfg := paper.DefaultConfig(tr.Symbol)
	pcfg.Timeframe = tr.Timeframe
	pcfg.InitialBalance = cfg.DryRunInitialBalance
	pcfg.Seed = *seed
	pcfg.Now = clock
	gw := paper.New(database, pcfg)

	riskCfg := risk.Config{
		RiskPercent:      tr.RiskPercent,
		LotSize:          tr.LotSize,
		StopLossPoints:   tr.StopLossPoints,
		TakeProfitPoints: tr.TakeProfitPoints,
		CutLossPercent:   tr.CutLossPercent,
	}
	exec := order.NewExecutor(gw, order.Config{Symbol: tr.Symbol, Deviation: tr.Deviation, Magic: tr.MagicNumber, Comment: tr.OrderComment}, nil, logger)
	sup := risk.NewSupervisor(gw, exec, tr.Symbol, riskCfg, logger)
	loop := engine.New(gw, strategy.NewMACross(tr.SMAShort, tr.SMALong), risk.NewSizer(riskCfg), exec, sup, engine.Config{
		Symbol:           tr.Symbol,
		Timeframe:        tr.Timeframe,
		BarCount:         tr.FetchCount(),
		StopLossPoints:   tr.StopLossPoints,
		TakeProfitPoints: tr.TakeProfitPoints,
	}, nil, logger)

	ctx := context.Background()
	if err := gw.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("connect paper gateway")
	}

	report := logging.NewWriter(os.Stdout, "info")
	decisions := map[engine.Decision]int{}
	for i := 0; i < *cycles; i++ {
		rep := loop.RunCycle(ctx)
		decisions[rep.Decision]++
		now = now.Add(period)
	}

	deals, err := database.ListDeals(ctx, 1000)
	if err != nil {
		logger.Fatal().Err(err).Msg("list deals")
	}
	for i := len(deals) - 1; i >= 0; i-- {
		d := deals[i]
		report.Info().
			Uint64("ticket", d.Ticket).
			Str("action", d.Action).
			Str("side", d.Side).
			Float64("volume", d.Volume).
			Float64("price", d.Price).
			Float64("profit", d.Profit).
			Str("reason", d.Reason).
			Msg("deal")
	}

	acct, err := gw.AccountSnapshot(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("account")
	}
	ev := report.Info().Int("cycles", *cycles).Int("deals", len(deals)).
		Float64("balance", acct.Balance).Float64("equity", acct.Equity)
	for d, n := range decisions {
		ev = ev.Int(string(d), n)
	}
	ev.Msg("=== DRY-RUN demo finished ===")
}
