package order

import (
	"errors"
	"fmt"

	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

var (
	// ErrPositionConflict is returned by Open when the symbol already has an
	// open position. The engine holds at most one net position per symbol.
	ErrPositionConflict = errors.New("position already open for symbol")
	ErrPositionNotFound = errors.New("position not found")
	ErrInvalidVolume    = errors.New("volume must be positive")
)

// Config is the fixed part of every request the executor builds.
type Config struct {
	Symbol    string
	Deviation int
	Magic     int64
	Comment   string
}

// RejectionError carries a non-done gateway result and the request that
// produced it.
type RejectionError struct {
	Result  exchange.OrderResult
	Request exchange.OrderRequest
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s %s rejected: code=%d comment=%q",
		e.Request.Action, e.Request.Symbol, e.Result.Code, e.Result.Comment)
}

// IsRejection reports whether err is a gateway rejection.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}
