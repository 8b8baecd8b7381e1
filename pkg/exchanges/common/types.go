package common

import (
	"fmt"
	"time"
)

// Side denotes the direction of a position or market order.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the side that offsets s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Action selects what an OrderRequest does on the venue.
type Action string

const (
	ActionOpen             Action = "OPEN"
	ActionModifyProtection Action = "MODIFY_SLTP"
	ActionClose            Action = "CLOSE"
)

// FillPolicy captures the execution policy for market orders.
type FillPolicy string

const (
	FillFOK    FillPolicy = "FOK"    // Fill Or Kill
	FillIOC    FillPolicy = "IOC"    // Immediate Or Cancel
	FillReturn FillPolicy = "RETURN" // Fill what is possible, keep the rest
)

// Timeframe is a bar period in terminal notation (M1, M15, H1, ...).
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

var timeframeDurations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
}

// Duration returns the bar length of the timeframe.
func (t Timeframe) Duration() (time.Duration, error) {
	d, ok := timeframeDurations[t]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe %q", string(t))
	}
	return d, nil
}

// Terminal return codes the core cares about.
const (
	RetcodeRequote        = 10004
	RetcodeRejected       = 10006
	RetcodeDone           = 10009
	RetcodeInvalidRequest = 10013
	RetcodeInvalidVolume  = 10014
	RetcodeInvalidStops   = 10016
	RetcodeNoMoney        = 10019
)

// Bar is one OHLC sample.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Quote is the current top of book.
type Quote struct {
	Bid  float64
	Ask  float64
	Time time.Time
}

// AccountSnapshot is a point-in-time view of the trading account.
type AccountSnapshot struct {
	Balance    float64
	Equity     float64
	UsedMargin float64
	FreeMargin float64
	Currency   string
}

// MarginLevel returns equity/usedMargin in percent. ok is false when no margin is in use.
func (a AccountSnapshot) MarginLevel() (level float64, ok bool) {
	if a.UsedMargin <= 0 {
		return 0, false
	}
	return a.Equity / a.UsedMargin * 100, true
}

// InstrumentSpec holds the static economics of a tradable symbol.
type InstrumentSpec struct {
	Symbol     string
	Digits     int
	Point      float64
	TickValue  float64
	TickSize   float64
	VolumeMin  float64
	VolumeMax  float64
	VolumeStep float64
}

// Position is an open position owned by the venue.
type Position struct {
	Ticket     uint64
	Symbol     string
	Side       Side
	Volume     float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Profit     float64
	Magic      int64
	Comment    string
	OpenedAt   time.Time
}

// PendingOrder is a resting order. The core only reports these.
type PendingOrder struct {
	Ticket    uint64
	Symbol    string
	Type      string
	Price     float64
	TimeSetup time.Time
}

// OrderRequest captures an order intent to be sent to the venue.
type OrderRequest struct {
	Action     Action
	Symbol     string
	Side       Side // direction of the deal; for closes this is the reverse of the position
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Deviation  int    // max slippage in points
	Magic      int64  // identifies orders placed by this engine
	Comment    string // free-form tag
	Position   uint64 // target ticket for modify/close
	Filling    FillPolicy
}

// OrderResult is the venue acknowledgement of an OrderRequest.
type OrderResult struct {
	Done    bool
	Ticket  uint64
	Code    int
	Comment string
	Price   float64
	Volume  float64
}

// ResultFromCode builds an OrderResult whose Done flag follows the return code.
func ResultFromCode(code int, comment string) OrderResult {
	return OrderResult{Done: code == RetcodeDone, Code: code, Comment: comment}
}
