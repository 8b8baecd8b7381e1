package strategy

import "github.com/somboon29/MT5-Bot/internal/market"

// Signal is the directional decision derived from a bar series.
type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Generator maps a bar series to a Signal. Implementations must be pure.
type Generator interface {
	Name() string
	Evaluate(series market.Series) Signal
}
