package indicators

import (
	"math"

	"github.com/shopspring/decimal"
)

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	return RollingSMA(values[len(values)-period:], period)[period-1]
}

// RollingSMA returns the moving average ending at every index of values.
// Indexes without a full window, or whose window holds a non-finite value,
// hold NaN.
//
// Window sums are kept in decimal so adding and dropping closes is exact: a
// window of equal closes averages to exactly that close, and two windows with
// the same mean produce the same float.
func RollingSMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 {
		return out
	}

	n := decimal.NewFromInt(int64(period))
	dec := make([]decimal.Decimal, len(values))
	sum := decimal.Zero
	bad := 0
	for i, v := range values {
		if finite(v) {
			dec[i] = decimal.NewFromFloat(v)
		} else {
			bad++
		}
		sum = sum.Add(dec[i])
		if i >= period {
			sum = sum.Sub(dec[i-period])
			if !finite(values[i-period]) {
				bad--
			}
		}
		if i >= period-1 && bad == 0 {
			out[i] = sum.Div(n).InexactFloat64()
		}
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
