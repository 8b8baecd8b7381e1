// Package engine runs the trading cycle: fetch bars, compute the signal,
// act on it, supervise open positions, sleep, repeat.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/somboon29/MT5-Bot/internal/events"
	"github.com/somboon29/MT5-Bot/internal/risk"
	"github.com/somboon29/MT5-Bot/internal/strategy"
	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

var (
	// ErrConnectivity marks a cycle aborted because the gateway could not
	// deliver the data the cycle depends on.
	ErrConnectivity = errors.New("connectivity failure")
	// ErrCycleFailed marks any other failure that ended a cycle early.
	ErrCycleFailed = errors.New("cycle failed")
)

// Outcome classifies a finished cycle and selects the next sleep.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeConnectivity Outcome = "connectivity"
	OutcomeFailure      Outcome = "failure"
)

// Decision is what the cycle did with the signal.
type Decision string

const (
	DecisionNone      Decision = "none"
	DecisionHold      Decision = "hold"
	DecisionOpenLong  Decision = "open_long"
	DecisionOpenShort Decision = "open_short"
	DecisionClose     Decision = "close_opposite"
	DecisionKeep      Decision = "keep_position"
	DecisionSkipped   Decision = "skipped_sizing"
	DecisionRejected  Decision = "rejected"
	DecisionFailed    Decision = "failed"
)

// Config is the loop's share of the bot configuration.
type Config struct {
	Symbol           string
	Timeframe        exchange.Timeframe
	BarCount         int
	StopLossPoints   float64
	TakeProfitPoints float64
	CycleInterval    time.Duration
	RetryInterval    time.Duration
	ErrorBackoff     time.Duration
}

// Trader is the order side the loop drives.
type Trader interface {
	Open(ctx context.Context, side exchange.Side, volume, slPoints, tpPoints float64) (exchange.OrderResult, error)
	Close(ctx context.Context, ticket uint64, volume float64) (exchange.OrderResult, error)
}

// PositionSupervisor runs once per cycle after the decision step.
type PositionSupervisor interface {
	Run(ctx context.Context) (risk.SupervisionReport, error)
}

// CycleReport is the result of one cycle.
type CycleReport struct {
	ID          string
	StartedAt   time.Time
	Duration    time.Duration
	Outcome     Outcome
	Err         error
	Signal      strategy.Signal
	Decision    Decision
	Account     *exchange.AccountSnapshot
	Positions   int
	Pending     int
	Supervised  bool
	Supervision risk.SupervisionReport
}

// Summary converts the report for observers.
func (r CycleReport) Summary(next time.Duration) events.CycleSummary {
	sum := events.CycleSummary{
		ID:            r.ID,
		StartedAt:     r.StartedAt,
		Duration:      r.Duration,
		Outcome:       string(r.Outcome),
		Decision:      string(r.Decision),
		OpenPositions: r.Positions,
		PendingOrders: r.Pending,
		Modified:      r.Supervision.Modified,
		Closed:        r.Supervision.Closed,
		NextRunIn:     next,
	}
	if r.Decision != "" {
		sum.Signal = r.Signal.String()
	}
	if r.Err != nil {
		sum.Error = r.Err.Error()
	}
	if a := r.Account; a != nil {
		sum.Account = &events.AccountSummary{
			Balance:    a.Balance,
			Equity:     a.Equity,
			UsedMargin: a.UsedMargin,
			FreeMargin: a.FreeMargin,
		}
		if lvl, ok := a.MarginLevel(); ok {
			sum.Account.MarginLevel = lvl
		}
	}
	return sum
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrConnectivity):
		return OutcomeConnectivity
	default:
		return OutcomeFailure
	}
}
