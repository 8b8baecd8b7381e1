package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_cycles_total", Help: "Trading cycles by outcome"},
		[]string{"outcome"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_signals_total", Help: "Signals computed"},
		[]string{"symbol", "signal"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_orders_total", Help: "Order requests sent to the gateway"},
		[]string{"action", "result"},
	)
	SupervisorActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bot_supervisor_actions_total", Help: "Protection backfills and loss cuts"},
		[]string{"kind"},
	)
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bot_cycle_duration_seconds",
		Help:    "Wall time of one trading cycle",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	AccountBalance = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_account_balance", Help: "Last observed balance"})
	AccountEquity  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_account_equity", Help: "Last observed equity"})
	OpenPositions  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_open_positions", Help: "Open positions for the traded symbol"})
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		SignalsTotal,
		OrdersTotal,
		SupervisorActionsTotal,
		CycleDuration,
		AccountBalance,
		AccountEquity,
		OpenPositions,
	)
}

// Timer measures one operation into a histogram.
type Timer struct {
	h     prometheus.Observer
	start time.Time
}

// NewTimer starts timing.
func NewTimer(h prometheus.Observer) *Timer {
	return &Timer{h: h, start: time.Now()}
}

// Stop records the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	t.h.Observe(d.Seconds())
	return d
}

// OrderResult labels an order outcome for OrdersTotal.
func OrderResult(done bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case done:
		return "done"
	default:
		return "rejected"
	}
}
