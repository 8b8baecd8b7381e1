package market

import (
	"sort"

	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

// Series is a bar history sorted ascending by time with unique timestamps.
type Series []exchange.Bar

// Normalize copies bars into a Series. Bars are sorted by time and, for
// duplicate timestamps, the one received last wins.
func Normalize(bars []exchange.Bar) Series {
	if len(bars) == 0 {
		return nil
	}
	sorted := make([]exchange.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	out := make(Series, 0, len(sorted))
	for _, b := range sorted {
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

// Closes returns the closing prices in series order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Last returns the newest bar.
func (s Series) Last() (exchange.Bar, bool) {
	if len(s) == 0 {
		return exchange.Bar{}, false
	}
	return s[len(s)-1], true
}
