// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lift

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/attribution/pkg/attribution"
)

func TestComputeLift(t *testing.T) {
	require := require.New(t)

	// 5% exposed vs 4% control: lift 25.0%, clearly significant at
	// these cohort sizes.
	res, err := Compute(
		Cohort{Households: 10_000, Converters: 500},
		Cohort{Households: 10_000, Converters: 400},
	)
	require.NoError(err)
	require.True(res.LiftPct.Equal(decimal.RequireFromString("25")), "got %s", res.LiftPct)
	require.True(res.ExposedRate.Equal(decimal.RequireFromString("0.05")))
	require.True(res.ControlRate.Equal(decimal.RequireFromString("0.04")))
	require.InDelta(3.41, res.ZScore, 0.01)
	require.Less(res.PValue, 0.05)
	require.True(res.Significant)
	require.Equal(Confidence99, res.Confidence)
}

func TestComputeNotSignificant(t *testing.T) {
	require := require.New(t)

	res, err := Compute(
		Cohort{Households: 1_000, Converters: 42},
		Cohort{Households: 1_000, Converters: 40},
	)
	require.NoError(err)
	require.False(res.Significant)
	require.Equal(ConfidenceNS, res.Confidence)
	require.Greater(res.PValue, 0.05)
}

func TestComputeNegativeLift(t *testing.T) {
	require := require.New(t)

	res, err := Compute(
		Cohort{Households: 10_000, Converters: 300},
		Cohort{Households: 10_000, Converters: 400},
	)
	require.NoError(err)
	require.True(res.LiftPct.IsNegative())
	require.Negative(res.ZScore)
}

func TestComputeZeroControlRate(t *testing.T) {
	require := require.New(t)

	// Undefined lift is an explicit error, never silently zero.
	_, err := Compute(
		Cohort{Households: 10_000, Converters: 500},
		Cohort{Households: 10_000, Converters: 0},
	)
	require.ErrorIs(err, ErrZeroControlRate)
}

func TestComputeEmptyCohort(t *testing.T) {
	require := require.New(t)

	_, err := Compute(Cohort{}, Cohort{Households: 100, Converters: 1})
	require.ErrorIs(err, ErrEmptyCohort)
	_, err = Compute(Cohort{Households: 100, Converters: 1}, Cohort{})
	require.ErrorIs(err, ErrEmptyCohort)
}

func TestComputeSaturatedCohorts(t *testing.T) {
	require := require.New(t)

	// Both cohorts fully converting: zero lift, zero z, no crash on
	// the degenerate pooled variance.
	res, err := Compute(
		Cohort{Households: 100, Converters: 100},
		Cohort{Households: 100, Converters: 100},
	)
	require.NoError(err)
	require.True(res.LiftPct.IsZero())
	require.Zero(res.ZScore)
	require.Equal(ConfidenceNS, res.Confidence)
}

func TestComputeGatedZeroResolution(t *testing.T) {
	require := require.New(t)

	// A cohort that resolved zero households would report lift ~0 for
	// structural reasons; it must surface as an identity failure.
	stats := attribution.ResolutionStats{ConversionsTotal: 500, ConversionsResolved: 0}
	_, err := ComputeGated(
		Cohort{Households: 10_000, Converters: 500},
		Cohort{Households: 10_000, Converters: 400},
		stats,
	)
	require.ErrorIs(err, attribution.ErrIdentityUnresolved)

	stats.ConversionsResolved = 25
	res, err := ComputeGated(
		Cohort{Households: 10_000, Converters: 500},
		Cohort{Households: 10_000, Converters: 400},
		stats,
	)
	require.NoError(err)
	require.True(res.Significant)
}
