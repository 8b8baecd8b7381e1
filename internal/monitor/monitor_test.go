package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/somboon29/MT5-Bot/internal/events"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSink) Send(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestMonitorTracksCycles(t *testing.T) {
	m := New(nil, nil)
	m.Observe(events.CycleSummary{ID: "a", Outcome: "ok"})
	m.Observe(events.CycleSummary{ID: "b", Outcome: "connectivity"})

	s := m.Snapshot()
	if s.Cycles != 2 || s.Failures != 1 {
		t.Fatalf("unexpected counters %+v", s)
	}
	if s.LastCycle == nil || s.LastCycle.ID != "b" {
		t.Fatalf("last cycle not kept: %+v", s.LastCycle)
	}

	s.LastCycle.ID = "mutated"
	if m.Snapshot().LastCycle.ID != "b" {
		t.Fatalf("snapshot must be a copy")
	}
}

func TestMonitorConsumesBus(t *testing.T) {
	bus := events.NewBus()
	sink := &recordingSink{}
	m := New(bus, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventCycleCompleted, events.CycleSummary{ID: "c1", Outcome: "ok"})
	bus.Publish(events.EventRiskAlert, errors.New("cut loss on ticket 9"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := m.Snapshot()
		if s.Cycles == 1 && sink.count() == 1 {
			if s.LastAlert == "" {
				t.Fatalf("alert text not stored")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("monitor did not consume events: %+v sink=%d", m.Snapshot(), sink.count())
}

func TestMetricsRegistered(t *testing.T) {
	OrdersTotal.WithLabelValues("OPEN", OrderResult(true, nil)).Inc()
	NewTimer(CycleDuration).Stop()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	want := map[string]bool{"bot_orders_total": false, "bot_cycle_duration_seconds": false}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("%s metric not found", name)
		}
	}
}

func TestOrderResultLabels(t *testing.T) {
	if OrderResult(false, errors.New("x")) != "error" || OrderResult(false, nil) != "rejected" || OrderResult(true, nil) != "done" {
		t.Fatalf("unexpected labels")
	}
}

func waitForStatus(t *testing.T, m *Monitor, cond func(Status) bool) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := m.Snapshot(); cond(s) {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status never reached the expected state: %+v", m.Snapshot())
	return Status{}
}

func TestMonitorRecordsSignalsAndOrders(t *testing.T) {
	bus := events.NewBus()
	m := New(bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventStrategySignal, "BUY")
	bus.Publish(events.EventOrderSubmitted, events.OrderOutcome{Action: "OPEN", Symbol: "XAUUSDm"})
	bus.Publish(events.EventOrderAccepted, events.OrderOutcome{Action: "OPEN", Symbol: "XAUUSDm", Ticket: 7, Done: true, Code: 10009})
	s := waitForStatus(t, m, func(s Status) bool {
		return s.LastSignal == "BUY" && s.OrdersSent == 1 && s.OrdersAccepted == 1
	})
	if s.LastOrder == nil || s.LastOrder.Ticket != 7 || !s.LastOrder.Done {
		t.Fatalf("last order should be the accepted open, got %+v", s.LastOrder)
	}

	bus.Publish(events.EventOrderRejected, events.OrderOutcome{Action: "CLOSE", Ticket: 7, Code: 10019})
	s = waitForStatus(t, m, func(s Status) bool { return s.OrdersRejected == 1 })
	if s.LastOrder == nil || s.LastOrder.Code != 10019 || s.LastOrder.Action != "CLOSE" {
		t.Fatalf("last order should be the rejected close, got %+v", s.LastOrder)
	}
}
