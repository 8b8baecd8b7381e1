package events

import "time"

// Event enumerates topics published inside the bot.
type Event string

const (
	EventCycleCompleted Event = "cycle.completed"
	EventStrategySignal Event = "strategy.signal"
	EventOrderSubmitted Event = "order.submitted"
	EventOrderAccepted  Event = "order.accepted"
	EventOrderRejected  Event = "order.rejected"
	EventRiskAlert      Event = "risk.alert"
)

// OrderOutcome is published for every request the executor sends.
type OrderOutcome struct {
	Action  string
	Symbol  string
	Side    string
	Volume  float64
	Price   float64
	Ticket  uint64
	Done    bool
	Code    int
	Comment string
}

// AccountSummary is the account part of a cycle summary.
type AccountSummary struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	UsedMargin  float64 `json:"used_margin"`
	FreeMargin  float64 `json:"free_margin"`
	MarginLevel float64 `json:"margin_level,omitempty"`
}

// CycleSummary is the read-only view of a finished cycle shared with observers.
type CycleSummary struct {
	ID            string          `json:"id"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration"`
	Outcome       string          `json:"outcome"`
	Signal        string          `json:"signal,omitempty"`
	Decision      string          `json:"decision,omitempty"`
	Error         string          `json:"error,omitempty"`
	Account       *AccountSummary `json:"account,omitempty"`
	OpenPositions int             `json:"open_positions"`
	PendingOrders int             `json:"pending_orders"`
	Modified      int             `json:"protection_modified"`
	Closed        int             `json:"positions_closed"`
	NextRunIn     time.Duration   `json:"next_run_in"`
}
