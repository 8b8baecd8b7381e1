package strategy

import (
	"fmt"
	"math"

	"github.com/somboon29/MT5-Bot/internal/indicators"
	"github.com/somboon29/MT5-Bot/internal/market"
)

const (
	DefaultShortWindow = 20
	DefaultLongWindow  = 50
)

// MACross implements a simple moving average crossover over closing prices.
// BUY when the short average crosses above the long one (golden cross),
// SELL when it crosses below (death cross).
type MACross struct {
	Short int
	Long  int
}

// NewMACross returns a crossover with the given windows. Invalid windows
// fall back to 20/50.
func NewMACross(short, long int) MACross {
	if short <= 0 || long <= 0 || short >= long {
		return MACross{Short: DefaultShortWindow, Long: DefaultLongWindow}
	}
	return MACross{Short: short, Long: long}
}

func (m MACross) Name() string {
	return fmt.Sprintf("MA_Cross_%d_%d", m.Short, m.Long)
}

// CrossRow holds both averages for one bar.
type CrossRow struct {
	Short float64
	Long  float64
}

// Rows returns the averages for every bar where both windows are full.
func (m MACross) Rows(series market.Series) []CrossRow {
	closes := series.Closes()
	short := indicators.RollingSMA(closes, m.Short)
	long := indicators.RollingSMA(closes, m.Long)

	rows := make([]CrossRow, 0, len(closes))
	for i := range closes {
		if math.IsNaN(short[i]) || math.IsNaN(long[i]) {
			continue
		}
		rows = append(rows, CrossRow{Short: short[i], Long: long[i]})
	}
	return rows
}

// Evaluate compares the two most recent rows. Fewer than two rows is HOLD.
func (m MACross) Evaluate(series market.Series) Signal {
	rows := m.Rows(series)
	if len(rows) < 2 {
		return Hold
	}
	return detectCross(rows[len(rows)-2], rows[len(rows)-1])
}

// Explain describes the last two rows for logging.
func (m MACross) Explain(series market.Series) string {
	rows := m.Rows(series)
	if len(rows) < 2 {
		return fmt.Sprintf("insufficient data: %d bars, %d computable rows", len(series), len(rows))
	}
	prev, last := rows[len(rows)-2], rows[len(rows)-1]
	return fmt.Sprintf("MA%d %.5f->%.5f MA%d %.5f->%.5f",
		m.Short, prev.Short, last.Short, m.Long, prev.Long, last.Long)
}

// detectCross uses a strict relation on the current row and a non-strict one
// on the previous row, so a flip is reported exactly once.
func detectCross(prev, last CrossRow) Signal {
	if last.Short > last.Long && prev.Short <= prev.Long {
		return Buy
	}
	if last.Short < last.Long && prev.Short >= prev.Long {
		return Sell
	}
	return Hold
}
