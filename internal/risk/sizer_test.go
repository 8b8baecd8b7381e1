package risk

import (
	"context"
	"errors"
	"math"
	"testing"

	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

func goldSpec() exchange.InstrumentSpec {
	return exchange.InstrumentSpec{
		Symbol:     "XAUUSDm",
		Digits:     3,
		Point:      0.01,
		TickValue:  1,
		TickSize:   0.01,
		VolumeMin:  0.01,
		VolumeMax:  100,
		VolumeStep: 0.01,
	}
}

func TestSizerSize(t *testing.T) {
	s := Sizer{RiskPercent: 5}
	acct := exchange.AccountSnapshot{Balance: 10000}

	lot, err := s.Size(acct, goldSpec(), 300)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	// 500 / (300 * 1) = 1.666.. -> 1.67
	if lot != 1.67 {
		t.Fatalf("expected 1.67, got %v", lot)
	}

	again, _ := s.Size(acct, goldSpec(), 300)
	if again != lot {
		t.Fatalf("sizing must be deterministic: %v vs %v", lot, again)
	}
}

func TestSizerClampsAndQuantizes(t *testing.T) {
	tests := []struct {
		name    string
		balance float64
		mutate  func(*exchange.InstrumentSpec)
		want    float64
	}{
		{"clamped to min", 1, nil, 0.01},
		{"clamped to max", 10_000_000, nil, 100},
		{"step 0.1", 10000, func(s *exchange.InstrumentSpec) { s.VolumeStep = 0.1; s.VolumeMin = 0.1 }, 0.2},
		{"step 0.05", 10000, func(s *exchange.InstrumentSpec) { s.VolumeStep = 0.05 }, 1.65},
		{"whole lots", 10000, func(s *exchange.InstrumentSpec) { s.VolumeStep = 1; s.VolumeMin = 1 }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := goldSpec()
			if tt.mutate != nil {
				tt.mutate(&spec)
			}
			lot, err := Sizer{RiskPercent: 5}.Size(exchange.AccountSnapshot{Balance: tt.balance}, spec, 300)
			if err != nil {
				t.Fatalf("size: %v", err)
			}
			if math.Abs(lot-tt.want) > 1e-9 {
				t.Fatalf("expected %v, got %v", tt.want, lot)
			}
			if lot < spec.VolumeMin || lot > spec.VolumeMax {
				t.Fatalf("lot %v outside [%v, %v]", lot, spec.VolumeMin, spec.VolumeMax)
			}
		})
	}
}

func TestSizerFailures(t *testing.T) {
	acct := exchange.AccountSnapshot{Balance: 10000}
	tests := []struct {
		name   string
		mutate func(*exchange.InstrumentSpec)
		sl     float64
		want   error
	}{
		{"zero tick size", func(s *exchange.InstrumentSpec) { s.TickSize = 0 }, 300, ErrZeroTickSize},
		{"zero pip value", func(s *exchange.InstrumentSpec) { s.TickValue = 0 }, 300, ErrZeroPipValue},
		{"zero volume min", func(s *exchange.InstrumentSpec) { s.VolumeMin = 0 }, 300, ErrZeroPipValue},
		{"zero point", func(s *exchange.InstrumentSpec) { s.Point = 0 }, 300, ErrInvalidPoint},
		{"zero stop", nil, 0, ErrInvalidStopDistance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := goldSpec()
			if tt.mutate != nil {
				tt.mutate(&spec)
			}
			lot, err := Sizer{RiskPercent: 5}.Size(acct, spec, tt.sl)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if lot != 0 {
				t.Fatalf("failed sizing must return 0, got %v", lot)
			}
		})
	}

	if errors.Is(ErrZeroTickSize, ErrZeroPipValue) || ErrZeroTickSize.Error() == ErrZeroPipValue.Error() {
		t.Fatalf("tick size and pip value failures must be distinguishable")
	}
}

func TestSizerFixedLot(t *testing.T) {
	lot, err := Sizer{RiskPercent: 0, LotSize: 0.037}.Size(exchange.AccountSnapshot{}, goldSpec(), 300)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if lot != 0.04 {
		t.Fatalf("expected base lot normalized to 0.04, got %v", lot)
	}
}

func TestSizeForLookupFailures(t *testing.T) {
	s := Sizer{RiskPercent: 5}

	m := newFakeMarket()
	m.accountErr = errors.New("terminal offline")
	if _, _, err := s.SizeFor(context.Background(), m, "XAUUSDm", 300); !errors.Is(err, ErrAccountUnavailable) {
		t.Fatalf("expected ErrAccountUnavailable, got %v", err)
	}

	m = newFakeMarket()
	m.specErr = errors.New("unknown symbol")
	if _, _, err := s.SizeFor(context.Background(), m, "XAUUSDm", 300); !errors.Is(err, ErrInstrumentUnavailable) {
		t.Fatalf("expected ErrInstrumentUnavailable, got %v", err)
	}

	m = newFakeMarket()
	lot, spec, err := s.SizeFor(context.Background(), m, "XAUUSDm", 300)
	if err != nil || lot != 1.67 || spec.Symbol != "XAUUSDm" {
		t.Fatalf("unexpected result lot=%v spec=%+v err=%v", lot, spec, err)
	}
}

func TestStepPrecision(t *testing.T) {
	tests := map[float64]int32{0.01: 2, 0.1: 1, 0.001: 3, 1: 0, 10: 0, 0.05: 2, 0: 0}
	for step, want := range tests {
		if got := StepPrecision(step); got != want {
			t.Fatalf("StepPrecision(%v) = %d, want %d", step, got, want)
		}
	}
}
