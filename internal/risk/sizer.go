package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

// Sizer converts a stop distance into a volume that risks a fixed share of
// the account balance.
type Sizer struct {
	RiskPercent float64
	LotSize     float64
}

// NewSizer builds a Sizer from the risk config.
func NewSizer(cfg Config) Sizer {
	return Sizer{RiskPercent: cfg.RiskPercent, LotSize: cfg.LotSize}
}

// Size returns the lot for a stop of slPoints points:
//
//	riskAmount     = balance * riskPercent / 100
//	lotValuePerPip = tickValue / point * volumeMin
//	lot            = riskAmount / (slPoints * lotValuePerPip)
//
// The lot is rounded to the precision of volumeStep, quantized to the step and
// clamped into [volumeMin, volumeMax]. Failures return 0 and a sentinel error.
func (s Sizer) Size(acct exchange.AccountSnapshot, spec exchange.InstrumentSpec, slPoints float64) (float64, error) {
	if s.RiskPercent <= 0 {
		return NormalizeVolume(s.LotSize, spec), nil
	}
	if spec.Point <= 0 {
		return 0, ErrInvalidPoint
	}
	if slPoints <= 0 {
		return 0, ErrInvalidStopDistance
	}

	riskAmount := acct.Balance * s.RiskPercent / 100

	if spec.TickSize == 0 {
		return 0, ErrZeroTickSize
	}

	lotValuePerPip := spec.TickValue / spec.Point * spec.VolumeMin
	if lotValuePerPip == 0 || math.IsNaN(lotValuePerPip) || math.IsInf(lotValuePerPip, 0) {
		return 0, ErrZeroPipValue
	}

	lot := riskAmount / (slPoints * lotValuePerPip)
	if math.IsNaN(lot) || math.IsInf(lot, 0) {
		return 0, fmt.Errorf("lot size is not finite (risk=%.2f sl=%.2f)", riskAmount, slPoints)
	}
	return NormalizeVolume(lot, spec), nil
}

// SizeFor looks up the account and instrument before sizing.
func (s Sizer) SizeFor(ctx context.Context, r MarketReader, symbol string, slPoints float64) (float64, exchange.InstrumentSpec, error) {
	acct, err := r.AccountSnapshot(ctx)
	if err != nil {
		return 0, exchange.InstrumentSpec{}, fmt.Errorf("%w: %v", ErrAccountUnavailable, err)
	}
	spec, err := r.InstrumentSpec(ctx, symbol)
	if err != nil {
		return 0, exchange.InstrumentSpec{}, fmt.Errorf("%w: %v", ErrInstrumentUnavailable, err)
	}
	lot, err := s.Size(acct, spec, slPoints)
	return lot, spec, err
}

// StepPrecision returns the number of decimal places implied by step,
// e.g. 0.01 -> 2, 0.1 -> 1, 1 -> 0.
func StepPrecision(step float64) int32 {
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return 0
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// NormalizeVolume rounds lot to the step precision, snaps it to a multiple of
// the step and clamps it into the instrument's volume range.
func NormalizeVolume(lot float64, spec exchange.InstrumentSpec) float64 {
	v := decimal.NewFromFloat(lot)
	if spec.VolumeStep > 0 {
		step := decimal.NewFromFloat(spec.VolumeStep)
		v = v.Round(StepPrecision(spec.VolumeStep))
		v = v.Div(step).Round(0).Mul(step)
	}

	minVol := decimal.NewFromFloat(spec.VolumeMin)
	if v.LessThan(minVol) {
		v = minVol
	}
	if spec.VolumeMax > 0 {
		if maxVol := decimal.NewFromFloat(spec.VolumeMax); v.GreaterThan(maxVol) {
			v = maxVol
		}
	}
	return v.InexactFloat64()
}
