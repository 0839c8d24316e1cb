// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lift computes exposed-vs-control conversion lift for
// household cohorts with a two-proportion z-test.
package lift

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/luxfi/attribution/pkg/attribution"
)

var (
	// ErrZeroControlRate flags an undefined lift: division by a zero
	// control rate is reported explicitly, never as lift 0.
	ErrZeroControlRate = errors.New("control conversion rate is zero, lift undefined")

	// ErrEmptyCohort flags a cohort with no households.
	ErrEmptyCohort = errors.New("cohort has no households")
)

// Confidence buckets a z-score for presentation.
type Confidence string

const (
	Confidence99 Confidence = "99%"
	Confidence95 Confidence = "95%"
	Confidence90 Confidence = "90%"
	ConfidenceNS Confidence = "NS"
)

// Cohort counts one side of the comparison: exposed households matched
// to an impression, or the non-exposed control population in
// comparable geography.
type Cohort struct {
	Households int64 `json:"households"`
	Converters int64 `json:"converters"`
}

// Rate is converters over households, zero for an empty cohort.
func (c Cohort) Rate() decimal.Decimal {
	if c.Households == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(c.Converters).
		Div(decimal.NewFromInt(c.Households)).
		Round(6)
}

// Result is one lift computation.
type Result struct {
	ExposedRate decimal.Decimal `json:"exposed_rate"`
	ControlRate decimal.Decimal `json:"control_rate"`
	LiftPct     decimal.Decimal `json:"lift_pct"`
	ZScore      float64         `json:"z_score"`
	PValue      float64         `json:"p_value"`
	Significant bool            `json:"significant"`
	Confidence  Confidence      `json:"confidence"`
}

// Compute returns the relative lift of the exposed cohort over the
// control cohort with a pooled-variance two-proportion z-test (pooled
// chosen over unpooled: the null hypothesis is equal rates, and it
// matches the warehouse-side reporting this replaces). Significance is
// two-tailed at p < 0.05.
func Compute(exposed, control Cohort) (Result, error) {
	if exposed.Households == 0 {
		return Result{}, fmt.Errorf("exposed: %w", ErrEmptyCohort)
	}
	if control.Households == 0 {
		return Result{}, fmt.Errorf("control: %w", ErrEmptyCohort)
	}
	if exposed.Converters < 0 || control.Converters < 0 {
		return Result{}, fmt.Errorf("negative converter count (exposed %d, control %d)",
			exposed.Converters, control.Converters)
	}

	res := Result{
		ExposedRate: exposed.Rate(),
		ControlRate: control.Rate(),
	}
	if res.ControlRate.IsZero() {
		return Result{}, ErrZeroControlRate
	}

	// lift_pct = 100 * (exposed - control) / control
	res.LiftPct = res.ExposedRate.Sub(res.ControlRate).
		Div(res.ControlRate).
		Mul(decimal.NewFromInt(100)).
		Round(2)

	res.ZScore = zScore(exposed, control)
	res.PValue = math.Erfc(math.Abs(res.ZScore) / math.Sqrt2)
	res.Significant = res.PValue < 0.05
	res.Confidence = bucket(res.ZScore)
	return res, nil
}

// ComputeGated is Compute behind the identity-resolution guard. A
// cohort whose household resolution rate is exactly zero would yield
// lift ~0 for structural reasons, not business ones; that historical
// failure mode is surfaced loudly instead of returned as a number.
func ComputeGated(exposed, control Cohort, stats attribution.ResolutionStats) (Result, error) {
	if stats.ConversionsTotal > 0 && stats.ConversionsResolved == 0 {
		return Result{}, attribution.ErrIdentityUnresolved
	}
	return Compute(exposed, control)
}

func zScore(exposed, control Cohort) float64 {
	n1 := float64(exposed.Households)
	n2 := float64(control.Households)
	p1 := float64(exposed.Converters) / n1
	p2 := float64(control.Converters) / n2

	pooled := (float64(exposed.Converters) + float64(control.Converters)) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return 0
	}
	return (p1 - p2) / se
}

func bucket(z float64) Confidence {
	switch abs := math.Abs(z); {
	case abs >= 2.576:
		return Confidence99
	case abs >= 1.96:
		return Confidence95
	case abs >= 1.645:
		return Confidence90
	default:
		return ConfidenceNS
	}
}
