package db

import "time"

// Account is the paper account row.
type Account struct {
	Balance   float64
	Currency  string
	UpdatedAt time.Time
}

// Position is an open paper position.
type Position struct {
	Ticket     uint64
	Symbol     string
	Side       string
	Volume     float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Magic      int64
	Comment    string
	OpenedAt   time.Time
}

// Deal records one fill against the paper book.
type Deal struct {
	ID        string
	Ticket    uint64
	Symbol    string
	Action    string
	Side      string
	Volume    float64
	Price     float64
	Profit    float64
	Reason    string
	CreatedAt time.Time
}

// PendingOrder is a resting order in the paper book.
type PendingOrder struct {
	Ticket    uint64
	Symbol    string
	Type      string
	Price     float64
	TimeSetup time.Time
}
