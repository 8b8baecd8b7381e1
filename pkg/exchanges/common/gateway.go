package common

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by gateways used before Connect succeeded.
var ErrNotConnected = errors.New("gateway not connected")

// Gateway abstracts the execution venue: a terminal bridge or the paper book.
// Every call is synchronous from the caller's point of view.
type Gateway interface {
	Connect(ctx context.Context) error
	FetchBars(ctx context.Context, symbol string, tf Timeframe, count int) ([]Bar, error)
	CurrentQuote(ctx context.Context, symbol string) (Quote, error)
	AccountSnapshot(ctx context.Context) (AccountSnapshot, error)
	InstrumentSpec(ctx context.Context, symbol string) (InstrumentSpec, error)
	OpenPositions(ctx context.Context, symbol string) ([]Position, error)
	PendingOrders(ctx context.Context, symbol string) ([]PendingOrder, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ModifyProtection(ctx context.Context, ticket uint64, sl, tp float64) (OrderResult, error)
	// ClosePosition closes volume lots of ticket; volume <= 0 closes the whole position.
	ClosePosition(ctx context.Context, ticket uint64, volume float64) (OrderResult, error)
}

// ModifyRequest builds the protection-only request for ticket.
func ModifyRequest(pos Position, sl, tp float64) OrderRequest {
	return OrderRequest{
		Action:     ActionModifyProtection,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		StopLoss:   sl,
		TakeProfit: tp,
		Position:   pos.Ticket,
	}
}

// CloseRequest builds the offsetting deal for pos. volume <= 0 selects the full size.
func CloseRequest(pos Position, volume float64) OrderRequest {
	if volume <= 0 || volume > pos.Volume {
		volume = pos.Volume
	}
	return OrderRequest{
		Action:   ActionClose,
		Symbol:   pos.Symbol,
		Side:     pos.Side.Opposite(),
		Volume:   volume,
		Position: pos.Ticket,
		Filling:  FillFOK,
	}
}

// FindPosition returns the position with ticket from positions.
func FindPosition(positions []Position, ticket uint64) (Position, bool) {
	for _, p := range positions {
		if p.Ticket == ticket {
			return p, true
		}
	}
	return Position{}, false
}
