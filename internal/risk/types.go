package risk

import (
	"context"
	"errors"

	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

// Sizing failures. Each one names a distinct reason a trade was skipped.
var (
	ErrAccountUnavailable    = errors.New("account info unavailable")
	ErrInstrumentUnavailable = errors.New("instrument info unavailable")
	ErrZeroTickSize          = errors.New("tick size is zero, cannot calculate lot size")
	ErrZeroPipValue          = errors.New("lot value per pip is zero, cannot calculate lot size")
	ErrInvalidPoint          = errors.New("point size must be positive")
	ErrInvalidStopDistance   = errors.New("stop-loss distance must be positive")
)

// Config defines the risk parameters shared by sizing and supervision.
type Config struct {
	RiskPercent      float64 // share of balance risked per trade; 0 trades LotSize
	LotSize          float64 // base lot when risk sizing is disabled
	StopLossPoints   float64
	TakeProfitPoints float64
	CutLossPercent   float64 // loss as share of balance that forces a close
}

// DefaultConfig mirrors the shipped bot settings.
func DefaultConfig() Config {
	return Config{
		RiskPercent:      5,
		LotSize:          0.01,
		StopLossPoints:   300,
		TakeProfitPoints: 600,
		CutLossPercent:   20,
	}
}

// MarketReader is the read side of the gateway used by risk components.
type MarketReader interface {
	AccountSnapshot(ctx context.Context) (exchange.AccountSnapshot, error)
	InstrumentSpec(ctx context.Context, symbol string) (exchange.InstrumentSpec, error)
	CurrentQuote(ctx context.Context, symbol string) (exchange.Quote, error)
	OpenPositions(ctx context.Context, symbol string) ([]exchange.Position, error)
}

// PositionActions issues mutations against open positions.
type PositionActions interface {
	ModifyProtection(ctx context.Context, ticket uint64, sl, tp float64) (exchange.OrderResult, error)
	Close(ctx context.Context, ticket uint64, volume float64) (exchange.OrderResult, error)
}

// ProtectionLevels returns the default stop-loss and take-profit prices for a
// position on side opened or re-protected at the given quote.
// Longs are priced off the ask, shorts off the bid.
func ProtectionLevels(side exchange.Side, q exchange.Quote, point, slPoints, tpPoints float64) (price, sl, tp float64) {
	if side == exchange.SideLong {
		price = q.Ask
		return price, price - slPoints*point, price + tpPoints*point
	}
	price = q.Bid
	return price, price + slPoints*point, price - tpPoints*point
}
