package paper

import (
	"math"
	"math/rand"
	"time"

	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

// walk generates synthetic bars with a Gaussian random walk. The last bar is
// the one currently forming; nudge moves its close between bar boundaries.
type walk struct {
	rng    *rand.Rand
	period time.Duration
	step   float64 // stddev of one bar's move, in price units
	digits int
	limit  int
	bars   []exchange.Bar
}

func newWalk(seed int64, period time.Duration, start, step float64, digits, limit int, now time.Time) *walk {
	w := &walk{
		rng:    rand.New(rand.NewSource(seed)),
		period: period,
		step:   step,
		digits: digits,
		limit:  limit,
	}
	first := now.Truncate(period).Add(-time.Duration(limit-1) * period)
	w.bars = append(w.bars, w.bar(first, start))
	w.advance(now)
	return w
}

// advance appends bars until the forming bar is the one containing now.
func (w *walk) advance(now time.Time) bool {
	target := now.Truncate(w.period)
	moved := false
	for last := w.bars[len(w.bars)-1]; last.Time.Before(target); last = w.bars[len(w.bars)-1] {
		w.bars = append(w.bars, w.bar(last.Time.Add(w.period), last.Close))
		moved = true
	}
	if over := len(w.bars) - w.limit; over > 0 {
		w.bars = append(w.bars[:0:0], w.bars[over:]...)
	}
	return moved
}

// nudge moves the forming bar's close by a fraction of a bar's volatility.
func (w *walk) nudge() {
	b := &w.bars[len(w.bars)-1]
	b.Close = w.round(math.Max(b.Close+w.rng.NormFloat64()*w.step/4, w.tick()))
	b.High = math.Max(b.High, b.Close)
	b.Low = math.Min(b.Low, b.Close)
}

func (w *walk) last() exchange.Bar {
	return w.bars[len(w.bars)-1]
}

// tail returns a copy of the newest n bars.
func (w *walk) tail(n int) []exchange.Bar {
	if n <= 0 || n > len(w.bars) {
		n = len(w.bars)
	}
	out := make([]exchange.Bar, n)
	copy(out, w.bars[len(w.bars)-n:])
	return out
}

func (w *walk) bar(t time.Time, open float64) exchange.Bar {
	closePrice := w.round(math.Max(open+w.rng.NormFloat64()*w.step, w.tick()))
	wick := math.Abs(w.rng.NormFloat64()) * w.step / 2
	return exchange.Bar{
		Time:   t,
		Open:   open,
		High:   w.round(math.Max(open, closePrice) + wick),
		Low:    w.round(math.Max(math.Min(open, closePrice)-wick, w.tick())),
		Close:  closePrice,
		Volume: float64(100 + w.rng.Intn(900)),
	}
}

func (w *walk) tick() float64 {
	return math.Pow10(-w.digits)
}

func (w *walk) round(v float64) float64 {
	p := math.Pow10(w.digits)
	return math.Round(v*p) / p
}
