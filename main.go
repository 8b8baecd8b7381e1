package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/somboon29/MT5-Bot/internal/api"
	"github.com/somboon29/MT5-Bot/internal/engine"
	"github.com/somboon29/MT5-Bot/internal/events"
	"github.com/somboon29/MT5-Bot/internal/logging"
	"github.com/somboon29/MT5-Bot/internal/monitor"
	"github.com/somboon29/MT5-Bot/internal/order"
	"github.com/somboon29/MT5-Bot/internal/risk"
	"github.com/somboon29/MT5-Bot/internal/strategy"
	"github.com/somboon29/MT5-Bot/pkg/config"
	"github.com/somboon29/MT5-Bot/pkg/db"
	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
	"github.com/somboon29/MT5-Bot/pkg/exchanges/mt5bridge"
	"github.com/somboon29/MT5-Bot/pkg/exchanges/paper"
)

const version = "1.0.0"

func main() {
	boot := logging.NewWriter(os.Stdout, "info")

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}

	logger, closer, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		boot.Fatal().Err(err).Msg("open log")
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, venue, deals, cleanup, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init gateway")
	}
	defer cleanup()

	tr := cfg.Trading
	riskCfg := risk.Config{
		RiskPercent:      tr.RiskPercent,
		LotSize:          tr.LotSize,
		StopLossPoints:   tr.StopLossPoints,
		TakeProfitPoints: tr.TakeProfitPoints,
		CutLossPercent:   tr.CutLossPercent,
	}

	bus := events.NewBus()
	mon := monitor.New(bus, monitor.LogSink{Logger: logger})
	mon.Start(ctx)

	exec := order.NewExecutor(gw, order.Config{
		Symbol:    tr.Symbol,
		Deviation: tr.Deviation,
		Magic:     tr.MagicNumber,
		Comment:   tr.OrderComment,
	}, bus, logger)
	sup := risk.NewSupervisor(gw, exec, tr.Symbol, riskCfg, logger)
	gen := strategy.NewMACross(tr.SMAShort, tr.SMALong)

	loop := engine.New(gw, gen, risk.NewSizer(riskCfg), exec, sup, engine.Config{
		Symbol:           tr.Symbol,
		Timeframe:        tr.Timeframe,
		BarCount:         tr.FetchCount(),
		StopLossPoints:   tr.StopLossPoints,
		TakeProfitPoints: tr.TakeProfitPoints,
		CycleInterval:    cfg.Schedule.CycleInterval,
		RetryInterval:    cfg.Schedule.RetryInterval,
		ErrorBackoff:     cfg.Schedule.ErrorBackoff,
	}, bus, logger)

	if client, ok := gw.(*mt5bridge.Client); ok {
		loop.WithClock(client.Clock().Now)
	}

	if cfg.StatusAddr != "" {
		srv := api.NewServer(mon, deals, api.SystemMeta{
			DryRun:    cfg.DryRun,
			Venue:     venue,
			Symbol:    tr.Symbol,
			Timeframe: string(tr.Timeframe),
			Strategy:  gen.Name(),
			Version:   version,
		}, logger)
		go func() {
			if err := srv.Start(ctx, cfg.StatusAddr); err != nil {
				logger.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	logger.Info().
		Str("version", version).
		Str("venue", venue).
		Str("symbol", tr.Symbol).
		Str("timeframe", string(tr.Timeframe)).
		Str("strategy", gen.Name()).
		Float64("risk_pct", tr.RiskPercent).
		Msg("starting trading bot")

	if err := loop.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("trading loop exited")
	}
	logger.Info().Msg("shutdown complete")
}

// buildGateway selects the paper book or the terminal bridge. deals is nil
// in live mode.
func buildGateway(ctx context.Context, cfg config.Config, logger zerolog.Logger) (exchange.Gateway, string, api.DealLister, func(), error) {
	if !cfg.DryRun {
		client := mt5bridge.NewClient(mt5bridge.Config{
			BaseURL:   cfg.BridgeURL,
			Token:     cfg.BridgeToken,
			RateLimit: cfg.BridgeRateLimit,
			Timeout:   cfg.BridgeTimeout,
		}, logger)
		client.Clock().Start(ctx)
		return client, "mt5bridge", nil, func() {}, nil
	}

	database, err := db.Open(cfg.DryRunDBPath)
	if err != nil {
		return nil, "", nil, nil, err
	}
	pcfg := paper.DefaultConfig(cfg.Trading.Symbol)
	pcfg.Timeframe = cfg.Trading.Timeframe
	pcfg.InitialBalance = cfg.DryRunInitialBalance
	pcfg.Seed = cfg.DryRunSeed
	logger.Warn().Str("db", cfg.DryRunDBPath).Msg("DRY_RUN enabled, orders go to the paper book")
	return paper.New(database, pcfg), "paper", database, func() { database.Close() }, nil
}
