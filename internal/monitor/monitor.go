package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/somboon29/MT5-Bot/internal/events"
)

// Status is the snapshot served to observers.
type Status struct {
	StartedAt   time.Time            `json:"started_at"`
	Cycles      uint64               `json:"cycles"`
	Failures    uint64               `json:"failures"`
	LastCycle   *events.CycleSummary `json:"last_cycle,omitempty"`
	LastAlert   string               `json:"last_alert,omitempty"`
	LastAlertAt time.Time            `json:"last_alert_at,omitempty"`

	LastSignal     string               `json:"last_signal,omitempty"`
	LastSignalAt   time.Time            `json:"last_signal_at,omitempty"`
	OrdersSent     uint64               `json:"orders_sent"`
	OrdersAccepted uint64               `json:"orders_accepted"`
	OrdersRejected uint64               `json:"orders_rejected"`
	LastOrder      *events.OrderOutcome `json:"last_order,omitempty"`
}

// Monitor watches the bus, keeps the latest cycle summary and forwards risk
// alerts to the sink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink

	mu     sync.RWMutex
	status Status
}

// New creates a monitor. sink may be nil.
func New(bus *events.Bus, sink AlertSink) *Monitor {
	return &Monitor{Bus: bus, Sink: sink, status: Status{StartedAt: time.Now()}}
}

// Start subscribes and consumes events until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		return
	}
	cycles, unsubCycles := m.Bus.Subscribe(events.EventCycleCompleted, 16)
	alerts, unsubAlerts := m.Bus.Subscribe(events.EventRiskAlert, 50)
	signals, unsubSignals := m.Bus.Subscribe(events.EventStrategySignal, 16)
	sent, unsubSent := m.Bus.Subscribe(events.EventOrderSubmitted, 32)
	accepted, unsubAccepted := m.Bus.Subscribe(events.EventOrderAccepted, 32)
	rejected, unsubRejected := m.Bus.Subscribe(events.EventOrderRejected, 32)

	go func() {
		defer unsubCycles()
		defer unsubAlerts()
		defer unsubSignals()
		defer unsubSent()
		defer unsubAccepted()
		defer unsubRejected()
		for {
			var (
				msg events.Message
				ok  bool
			)
			select {
			case <-ctx.Done():
				return
			case msg, ok = <-cycles:
			case msg, ok = <-alerts:
			case msg, ok = <-signals:
			case msg, ok = <-sent:
			case msg, ok = <-accepted:
			case msg, ok = <-rejected:
			}
			if !ok {
				return
			}
			m.handle(msg)
		}
	}()
}

func (m *Monitor) handle(msg events.Message) {
	switch msg.Event {
	case events.EventCycleCompleted:
		if sum, ok := msg.Payload.(events.CycleSummary); ok {
			m.Observe(sum)
		}
	case events.EventRiskAlert:
		m.alert(msg)
	case events.EventStrategySignal:
		m.mu.Lock()
		m.status.LastSignal = toString(msg.Payload)
		m.status.LastSignalAt = msg.Time
		m.mu.Unlock()
	case events.EventOrderSubmitted, events.EventOrderAccepted, events.EventOrderRejected:
		if out, ok := msg.Payload.(events.OrderOutcome); ok {
			m.recordOrder(msg.Event, out)
		}
	}
}

// recordOrder counts an executor outcome and keeps the latest final one.
func (m *Monitor) recordOrder(e events.Event, out events.OrderOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch e {
	case events.EventOrderSubmitted:
		m.status.OrdersSent++
		return
	case events.EventOrderAccepted:
		m.status.OrdersAccepted++
	case events.EventOrderRejected:
		m.status.OrdersRejected++
	}
	m.status.LastOrder = &out
}

// Observe records a finished cycle.
func (m *Monitor) Observe(sum events.CycleSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Cycles++
	if sum.Outcome != "ok" {
		m.status.Failures++
	}
	m.status.LastCycle = &sum
}

// Snapshot returns a copy of the current status.
func (m *Monitor) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.status
	if s.LastCycle != nil {
		last := *s.LastCycle
		s.LastCycle = &last
	}
	if s.LastOrder != nil {
		order := *s.LastOrder
		s.LastOrder = &order
	}
	return s
}

func (m *Monitor) alert(msg events.Message) {
	text := formatAlert(msg)
	m.mu.Lock()
	m.status.LastAlert = text
	m.status.LastAlertAt = msg.Time
	m.mu.Unlock()
	if m.Sink != nil {
		_ = m.Sink.Send(text)
	}
}

func formatAlert(msg events.Message) string {
	return "[" + msg.Time.Format(time.RFC3339) + "] " + toString(msg.Payload)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	default:
		return "alert triggered"
	}
}
